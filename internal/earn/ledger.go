package earn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/core/eventbus"
	"github.com/colonyops/earn/internal/core/kv"
)

const earningsNamespace = "earnings"

// CachedTotal is the advisory earnings snapshot kept in the KV store.
type CachedTotal struct {
	Total     decimal.Decimal `json:"total"`
	Completed int             `json:"completed"`
	AsOf      time.Time       `json:"as_of"`
}

// Ledger derives earnings from completed records. The completion store is the
// source of truth; the KV cache only serves reads that tolerate staleness.
type Ledger struct {
	store completion.Store
	cache *kv.TypedKV[CachedTotal]
	ttl   time.Duration
	log   zerolog.Logger
}

// NewLedger creates a ledger. cacheStore may be nil to disable caching.
func NewLedger(store completion.Store, cacheStore kv.KV, ttl time.Duration, log zerolog.Logger) *Ledger {
	l := &Ledger{
		store: store,
		ttl:   ttl,
		log:   log,
	}
	if cacheStore != nil {
		l.cache = kv.Scoped[CachedTotal](cacheStore, earningsNamespace)
	}
	return l
}

// Total sums the earnings of every completed record for userID.
func (l *Ledger) Total(ctx context.Context, userID string) (decimal.Decimal, error) {
	total, err := l.store.SumEarnings(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum earnings: %w", err)
	}
	return total, nil
}

// Entries returns the credit entries for userID, oldest first.
func (l *Ledger) Entries(ctx context.Context, userID string) ([]completion.Credit, error) {
	credits, err := l.store.ListCredits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	return credits, nil
}

// Cached returns the last cached total for userID. The boolean is false when
// caching is disabled or no fresh entry exists.
func (l *Ledger) Cached(ctx context.Context, userID string) (CachedTotal, bool) {
	if l.cache == nil {
		return CachedTotal{}, false
	}

	v, err := l.cache.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			l.log.Warn().Err(err).Str("user_id", userID).Msg("read cached earnings")
		}
		return CachedTotal{}, false
	}
	return v, true
}

// Refresh recomputes the cached total for userID. Failures are logged and
// never surface to callers.
func (l *Ledger) Refresh(ctx context.Context, userID string) {
	if l.cache == nil {
		return
	}

	credits, err := l.store.ListCredits(ctx, userID)
	if err != nil {
		l.log.Warn().Err(err).Str("user_id", userID).Msg("refresh earnings cache")
		return
	}

	total, err := l.store.SumEarnings(ctx, userID)
	if err != nil {
		l.log.Warn().Err(err).Str("user_id", userID).Msg("refresh earnings cache")
		return
	}

	entry := CachedTotal{Total: total, Completed: len(credits), AsOf: time.Now()}
	if err := l.cache.Set(ctx, userID, entry, l.ttl); err != nil {
		l.log.Warn().Err(err).Str("user_id", userID).Msg("write earnings cache")
	}
}

// Invalidate drops the cached total for userID.
func (l *Ledger) Invalidate(ctx context.Context, userID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Delete(ctx, userID); err != nil {
		l.log.Warn().Err(err).Str("user_id", userID).Msg("invalidate earnings cache")
	}
}

// Subscribe refreshes the cache whenever a completion is credited.
func (l *Ledger) Subscribe(bus *eventbus.EventBus) {
	bus.SubscribeCompletionCompleted(func(p eventbus.CompletionCompletedPayload) {
		l.Refresh(context.Background(), p.Completion.UserID)
	})
}
