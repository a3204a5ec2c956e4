// Package cache is a small key/value store with per-entry TTL, kept in the
// same database as the collected events. The collector uses it to remember
// the content hash of each source's last page.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = 7 * 24 * time.Hour

// ErrEmptyKey is returned for blank keys.
var ErrEmptyKey = errors.New("cache key is required")

// Entry is one cached value.
type Entry struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}

// TableName keeps the table name stable.
func (Entry) TableName() string { return "cache_entries" }

// Cache is a TTL cache backed by a gorm table.
type Cache struct {
	db  *gorm.DB
	now func() time.Time
}

// New migrates the cache table on db and returns a Cache.
func New(ctx context.Context, db *gorm.DB) (*Cache, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating cache table: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

func normalizeKey(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return "", ErrEmptyKey
	}
	return k, nil
}

// Get returns the value for key. Expired entries are removed and reported
// as missing.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	k, err := normalizeKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	var e Entry
	if err := c.db.WithContext(ctx).Where("key = ?", k).Take(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading cache key %q: %w", k, err)
	}

	if !e.ExpiresAt.After(c.now().UTC()) {
		if err := c.db.WithContext(ctx).Where("key = ?", k).Delete(&Entry{}).Error; err != nil {
			return "", false, fmt.Errorf("evicting cache key %q: %w", k, err)
		}
		return "", false, nil
	}
	return e.Value, true, nil
}

// Set stores value under key for ttl, replacing any previous value.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	k, err := normalizeKey(ctx, key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := c.now().UTC()
	e := Entry{Key: k, Value: value, ExpiresAt: now.Add(ttl), UpdatedAt: now}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      e.Value,
			"expires_at": e.ExpiresAt,
			"updated_at": e.UpdatedAt,
		}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("writing cache key %q: %w", k, err)
	}
	return nil
}

// CleanExpired removes every expired entry and returns how many were dropped.
func (c *Cache) CleanExpired(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).Where("expires_at <= ?", c.now().UTC()).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleaning expired cache entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Size returns the number of stored entries, expired ones included.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}
