// Package cache holds the anonymized bid listings served to non-privileged
// callers. Entries are bounded and TTL-evicted; every bid or RFQ mutation
// invalidates the affected RFQ's entry.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"sourceline/internal/config"
	"sourceline/internal/engine"
)

type Listings struct {
	lru *expirable.LRU[string, []engine.DisclosedBid]
}

func New(cfg config.CacheConfig) *Listings {
	size := cfg.Size
	if size <= 0 {
		size = 256
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Listings{lru: expirable.NewLRU[string, []engine.DisclosedBid](size, nil, ttl)}
}

func (l *Listings) Get(rfqID string) ([]engine.DisclosedBid, bool) {
	return l.lru.Get(rfqID)
}

func (l *Listings) Put(rfqID string, bids []engine.DisclosedBid) {
	l.lru.Add(rfqID, bids)
}

// Invalidate drops the entry for an RFQ. Wired as the engine's invalidation
// hook, it fires after every committed mutation touching that RFQ.
func (l *Listings) Invalidate(rfqID string) {
	l.lru.Remove(rfqID)
}
