package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	c, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clock := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "content-hash:1")
		if err != nil || ok {
			t.Errorf("Get(missing) = ok %v err %v, want miss", ok, err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		if err := c.Set(ctx, "content-hash:1", "abc", time.Hour); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, ok, err := c.Get(ctx, " content-hash:1 ")
		if err != nil || !ok || got != "abc" {
			t.Errorf("Get() = %q ok %v err %v, want abc", got, ok, err)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		if err := c.Set(ctx, "content-hash:1", "def", time.Hour); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, _, _ := c.Get(ctx, "content-hash:1")
		if got != "def" {
			t.Errorf("Get() = %q, want def", got)
		}
		if n, _ := c.Size(ctx); n != 1 {
			t.Errorf("Size() = %d, want 1", n)
		}
	})

	t.Run("expired entries are misses", func(t *testing.T) {
		if err := c.Set(ctx, "short", "v", time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		*clock = clock.Add(2 * time.Minute)

		if _, ok, err := c.Get(ctx, "short"); err != nil || ok {
			t.Errorf("Get(expired) = ok %v err %v, want miss", ok, err)
		}
		if got, ok, _ := c.Get(ctx, "content-hash:1"); !ok || got != "def" {
			t.Errorf("unexpired entry lost: %q %v", got, ok)
		}
	})
}

func TestCache_CleanExpired(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	for i, ttl := range []time.Duration{time.Minute, time.Minute, time.Hour} {
		if err := c.Set(ctx, uuid.NewString(), "v", ttl); err != nil {
			t.Fatalf("Set(%d) error = %v", i, err)
		}
	}
	*clock = clock.Add(10 * time.Minute)

	removed, err := c.CleanExpired(ctx)
	if err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("CleanExpired() = %d, want 2", removed)
	}
	if n, _ := c.Size(ctx); n != 1 {
		t.Errorf("Size() = %d, want 1", n)
	}
}

func TestCache_EmptyKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if _, _, err := c.Get(ctx, "  "); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Get() error = %v, want ErrEmptyKey", err)
	}
	if err := c.Set(ctx, "", "v", time.Hour); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Set() error = %v, want ErrEmptyKey", err)
	}
}

func TestCache_CanceledContext(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Set(ctx, "k", "v", time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Set() error = %v, want context.Canceled", err)
	}
}
