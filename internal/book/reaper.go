package book

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically evicts stale book entries.
type Reaper struct {
	book     *Book
	interval time.Duration
	maxAge   time.Duration

	// OnReap, if set, is called with the eviction count after each pass.
	OnReap func(deleted int)
}

// NewReaper creates a reaper over the given book. Zero interval or maxAge
// fall back to 60 s and 5 min.
func NewReaper(b *Book, interval, maxAge time.Duration) *Reaper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Reaper{book: b, interval: interval, maxAge: maxAge}
}

// Run reaps on the configured interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted := r.book.Reap(r.maxAge)
			if deleted > 0 {
				log.Info().Int("evicted", deleted).Dur("max_age", r.maxAge).
					Msg("reaper: evicted stale entries")
			}
			if r.OnReap != nil {
				r.OnReap(deleted)
			}
		}
	}
}
