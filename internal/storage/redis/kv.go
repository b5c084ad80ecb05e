package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/avstrong/hostel/internal/booking"
)

const scanBatch = 200

// deleteIfValue is GET + DEL in one atomic step on the server.
var deleteIfValue = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// KV maps the engine's atomic key-value primitive onto Redis: SETNX with PX for
// setIfAbsent and SCAN MATCH for keysMatching.
type KV struct {
	client *redis.Client
}

func Dial(ctx context.Context, conf Config) (*redis.Client, error) {
	//nolint:exhaustruct
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("%w: ping redis at %v: %w", booking.ErrBackendUnavailable, conf.Addr, err)
	}

	return client, nil
}

func New(client *redis.Client) *KV {
	return &KV{client: client}
}

func (kv *KV) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := kv.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis setnx %v: %w", booking.ErrBackendUnavailable, key, err)
	}

	return ok, nil
}

func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := kv.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, booking.ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: redis get %v: %w", booking.ErrBackendUnavailable, key, err)
	}

	return value, nil
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del %v: %w", booking.ErrBackendUnavailable, key, err)
	}

	return nil
}

func (kv *KV) DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := deleteIfValue.Run(ctx, kv.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("%w: redis compare-and-delete %v: %w", booking.ErrBackendUnavailable, key, err)
	}

	return n == 1, nil
}

func (kv *KV) KeysMatching(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := kv.client.Scan(ctx, 0, escapePattern(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis scan %v: %w", booking.ErrBackendUnavailable, prefix, err)
	}

	// SCAN may return a key more than once.
	sort.Strings(keys)

	return dedupSorted(keys), nil
}

func escapePattern(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}

func dedupSorted(keys []string) []string {
	if len(keys) < 2 { //nolint:gomnd
		return keys
	}

	out := keys[:1]

	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}

	return out
}
