package earn

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper removes expired entries from a KV store.
type Sweeper interface {
	SweepExpired(ctx context.Context) error
}

// Sweep periodically removes expired KV entries such as stale earnings
// caches. It blocks until the context is cancelled.
func Sweep(ctx context.Context, store Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.SweepExpired(ctx); err != nil {
				log.Debug().Err(err).Msg("kv sweep failed")
			}
		}
	}
}
