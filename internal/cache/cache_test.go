package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/shopspring/decimal"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := c.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "value1" {
			t.Errorf("expected value1, got %s", got)
		}
	})

	t.Run("MissReturnsNilNil", func(t *testing.T) {
		got, err := c.Get(ctx, "absent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil on miss, got %s", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		c.Set(ctx, "key1", []byte("value2"), time.Minute)
		got, _ := c.Get(ctx, "key1")
		if string(got) != "value2" {
			t.Errorf("expected value2, got %s", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "doomed", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		got, _ := c.Get(ctx, "doomed")
		if got != nil {
			t.Error("expected deleted key to miss")
		}
	})
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("x"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	got, err := c.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired entry to miss")
	}

	size, _ := c.Stats()
	if size != 0 {
		t.Errorf("expected expired entry to be removed, size %d", size)
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Set(ctx, fmt.Sprintf("key%d", i), []byte("x"), time.Minute)
	}

	// Touch key0 so key1 becomes the oldest.
	c.Get(ctx, "key0")
	c.Set(ctx, "key3", []byte("x"), time.Minute)

	if got, _ := c.Get(ctx, "key1"); got != nil {
		t.Error("expected least recently used key1 to be evicted")
	}
	if got, _ := c.Get(ctx, "key0"); got == nil {
		t.Error("recently touched key0 should survive eviction")
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 of 3, got %d of %d", size, capacity)
	}
}

func TestLRUCandidates(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	rate, _ := decimal.NewFromString("0.08")
	rules := []*domain.CommissionRule{
		{
			ID:          "rule-a",
			ServiceType: "DELIVERY",
			ActorRole:   domain.RoleDeliverer,
			Calculation: domain.CalcPercentage,
			Rate:        rate,
			ValidFrom:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			IsActive:    true,
		},
	}

	t.Run("RoundTrip", func(t *testing.T) {
		if err := c.SetCandidates(ctx, "DELIVERY", domain.RoleDeliverer, rules, time.Minute); err != nil {
			t.Fatalf("SetCandidates failed: %v", err)
		}
		got, err := c.GetCandidates(ctx, "DELIVERY", domain.RoleDeliverer)
		if err != nil {
			t.Fatalf("GetCandidates failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "rule-a" {
			t.Fatalf("expected rule-a back, got %+v", got)
		}
		if !got[0].Rate.Equal(rate) {
			t.Errorf("expected rate 0.08, got %s", got[0].Rate)
		}
	})

	t.Run("MissIsNilNil", func(t *testing.T) {
		got, err := c.GetCandidates(ctx, "RIDE", domain.RoleClient)
		if err != nil {
			t.Fatalf("GetCandidates failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil on miss, got %+v", got)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		if err := c.InvalidateCandidates(ctx, "DELIVERY", domain.RoleDeliverer); err != nil {
			t.Fatalf("InvalidateCandidates failed: %v", err)
		}
		got, _ := c.GetCandidates(ctx, "DELIVERY", domain.RoleDeliverer)
		if got != nil {
			t.Error("expected invalidated set to miss")
		}
	})
}

func TestLRUCounter(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "usage:rule-a", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}

	t.Run("IndependentKeys", func(t *testing.T) {
		got, err := c.IncrementCounter(ctx, "usage:rule-b", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected fresh counter at 1, got %d", got)
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		if _, err := c.IncrementCounter(ctx, "usage:rule-c", 10*time.Millisecond); err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		got, err := c.IncrementCounter(ctx, "usage:rule-c", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected counter to restart after window, got %d", got)
		}
	})
}

func TestNewMemoryCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Errorf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get = %s, %v", got, err)
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unknown cache type")
	}
}
