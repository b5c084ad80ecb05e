package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avstrong/hostel/internal/booking"
)

const (
	cachePrefix = "avail:"
	epochKey    = "availepoch"
)

type kv interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	KeysMatching(ctx context.Context, prefix string) ([]string, error)
}

type cachedOccupancy struct {
	Epoch    string         `json:"epoch"`
	Occupied map[string]int `json:"occupied"`
}

// Cache keeps raw per-room occupancy per (range, excluded reservation). Entries carry the
// epoch current when their computation started; invalidation rotates the epoch so a
// computation racing with a hold transition cannot publish a stale snapshot.
type Cache struct {
	kv  kv
	ttl time.Duration
}

func NewCache(store kv, ttl time.Duration) *Cache {
	return &Cache{kv: store, ttl: ttl}
}

func cacheKey(dr booking.DateRange, excludeID string) string {
	return cachePrefix + dr.Key() + ":" + excludeID
}

func parseCacheKey(key string) (booking.DateRange, bool) {
	rest := strings.TrimPrefix(key, cachePrefix)

	rangeKey, _, ok := strings.Cut(rest, ":")
	if !ok {
		return booking.DateRange{}, false
	}

	in, out, ok := strings.Cut(rangeKey, "_")
	if !ok {
		return booking.DateRange{}, false
	}

	dr, err := booking.ParseDateRange(in, out)
	if err != nil {
		return booking.DateRange{}, false
	}

	return dr, true
}

func (c *Cache) epoch(ctx context.Context) (string, error) {
	for {
		raw, err := c.kv.Get(ctx, epochKey)
		if err == nil {
			return string(raw), nil
		}

		if !errors.Is(err, booking.ErrRecordNotFound) {
			return "", fmt.Errorf("read cache epoch: %w", err)
		}

		if _, err := c.kv.SetIfAbsent(ctx, epochKey, []byte(uuid.NewString()), 0); err != nil {
			return "", fmt.Errorf("init cache epoch: %w", err)
		}
	}
}

// Get returns the cached occupancy and the epoch to pass to Put on a miss.
func (c *Cache) Get(ctx context.Context, dr booking.DateRange, excludeID string) (map[string]int, string, error) {
	epoch, err := c.epoch(ctx)
	if err != nil {
		return nil, "", err
	}

	raw, err := c.kv.Get(ctx, cacheKey(dr, excludeID))
	if errors.Is(err, booking.ErrRecordNotFound) {
		return nil, epoch, nil
	}

	if err != nil {
		return nil, epoch, fmt.Errorf("read cached availability: %w", err)
	}

	var entry cachedOccupancy
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Epoch != epoch {
		return nil, epoch, nil //nolint:nilerr // a corrupt or outdated entry is a miss
	}

	return entry.Occupied, epoch, nil
}

func (c *Cache) Put(ctx context.Context, dr booking.DateRange, excludeID, epoch string, occupied map[string]int) error {
	raw, err := json.Marshal(cachedOccupancy{Epoch: epoch, Occupied: occupied})
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	key := cacheKey(dr, excludeID)

	// A leftover entry from an older epoch blocks SetIfAbsent.
	if err := c.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("drop outdated availability: %w", err)
	}

	if _, err := c.kv.SetIfAbsent(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("write cached availability: %w", err)
	}

	return nil
}

// InvalidateRange drops every cached entry overlapping dr and rotates the epoch.
func (c *Cache) InvalidateRange(ctx context.Context, dr booking.DateRange) error {
	if err := c.kv.Delete(ctx, epochKey); err != nil {
		return fmt.Errorf("rotate cache epoch: %w", err)
	}

	keys, err := c.kv.KeysMatching(ctx, cachePrefix)
	if err != nil {
		return fmt.Errorf("list cached availability: %w", err)
	}

	for _, key := range keys {
		cached, ok := parseCacheKey(key)
		if ok && !cached.Overlaps(dr) {
			continue
		}

		if err := c.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("invalidate %v: %w", key, err)
		}
	}

	return nil
}
