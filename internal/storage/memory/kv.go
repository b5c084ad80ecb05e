package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/clock"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// KV is an in-process key-value store whose SetIfAbsent is a single
// check-and-set under the mutex. Expired keys behave as absent.
type KV struct {
	mu    sync.Mutex
	clock clock.Clock
	data  map[string]entry
}

func NewKV(c clock.Clock) *KV {
	return &KV{
		mu:    sync.Mutex{},
		clock: c,
		data:  make(map[string]entry),
	}
}

func (kv *KV) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	now := kv.clock.Now()

	if e, ok := kv.data[key]; ok && !e.expired(now) {
		return false, nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	kv.data[key] = entry{value: stored, expiresAt: expiresAt}

	return true, nil
}

func (kv *KV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.data[key]
	if !ok {
		return nil, booking.ErrRecordNotFound
	}

	if e.expired(kv.clock.Now()) {
		delete(kv.data, key)

		return nil, booking.ErrRecordNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)

	return out, nil
}

func (kv *KV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	delete(kv.data, key)

	return nil
}

// DeleteIfValue removes key only while it still holds value.
func (kv *KV) DeleteIfValue(_ context.Context, key string, value []byte) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.data[key]
	if !ok || e.expired(kv.clock.Now()) || string(e.value) != string(value) {
		return false, nil
	}

	delete(kv.data, key)

	return true, nil
}

func (kv *KV) KeysMatching(_ context.Context, prefix string) ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	now := kv.clock.Now()

	var keys []string

	for key, e := range kv.data {
		if e.expired(now) {
			delete(kv.data, key)

			continue
		}

		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	return keys, nil
}
