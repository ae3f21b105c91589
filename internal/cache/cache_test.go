package cache_test

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"

	"sourceline/internal/cache"
	"sourceline/internal/config"
	"sourceline/internal/engine"
)

func TestPutGetInvalidate(t *testing.T) {
	l := cache.New(config.CacheConfig{Size: 8, TTLSeconds: 60})

	_, ok := l.Get("rfq-1")
	assert.Equal(t, false, ok)

	listing := []engine.DisclosedBid{{ID: "b1", RFQID: "rfq-1", SupplierRef: "Supplier A"}}
	l.Put("rfq-1", listing)

	got, ok := l.Get("rfq-1")
	assert.Equal(t, true, ok)
	assert.Equal(t, listing, got)

	l.Invalidate("rfq-1")
	_, ok = l.Get("rfq-1")
	assert.Equal(t, false, ok)
}

func TestInvalidateIsScopedToOneRFQ(t *testing.T) {
	l := cache.New(config.CacheConfig{Size: 8, TTLSeconds: 60})
	l.Put("rfq-1", []engine.DisclosedBid{{ID: "b1"}})
	l.Put("rfq-2", []engine.DisclosedBid{{ID: "b2"}})

	l.Invalidate("rfq-1")

	_, ok := l.Get("rfq-1")
	assert.Equal(t, false, ok)
	_, ok = l.Get("rfq-2")
	assert.Equal(t, true, ok)
}

func TestEntriesExpire(t *testing.T) {
	l := cache.New(config.CacheConfig{Size: 8, TTLSeconds: 1})
	l.Put("rfq-1", []engine.DisclosedBid{{ID: "b1"}})

	_, ok := l.Get("rfq-1")
	assert.Equal(t, true, ok)

	time.Sleep(1100 * time.Millisecond)
	_, ok = l.Get("rfq-1")
	assert.Equal(t, false, ok)
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	l := cache.New(config.CacheConfig{})
	l.Put("rfq-1", nil)
	_, ok := l.Get("rfq-1")
	assert.Equal(t, true, ok)
}
