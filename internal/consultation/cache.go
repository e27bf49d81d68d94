package consultation

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/npezzotti/go-consult/internal/types"
)

// CachedRecords keeps participant lookups for a short time so that joins do
// not pay a round trip each. Chat gating and mark-ended always go through.
type CachedRecords struct {
	next  Records
	cache *expirable.LRU[string, types.Participants]
}

var _ Records = (*CachedRecords)(nil)

func NewCachedRecords(next Records, size int, ttl time.Duration) *CachedRecords {
	return &CachedRecords{
		next:  next,
		cache: expirable.NewLRU[string, types.Participants](size, nil, ttl),
	}
}

func (c *CachedRecords) Participants(ctx context.Context, consultationId string) (types.Participants, error) {
	if p, ok := c.cache.Get(consultationId); ok {
		return p, nil
	}

	p, err := c.next.Participants(ctx, consultationId)
	if err != nil {
		return types.Participants{}, err
	}

	c.cache.Add(consultationId, p)
	return p, nil
}

func (c *CachedRecords) ChatEnabled(ctx context.Context, consultationId string) (bool, error) {
	return c.next.ChatEnabled(ctx, consultationId)
}

func (c *CachedRecords) MarkEnded(ctx context.Context, consultationId string, summary types.CallSummary) error {
	// ending a call may change what the records service reports
	c.cache.Remove(consultationId)
	return c.next.MarkEnded(ctx, consultationId, summary)
}
