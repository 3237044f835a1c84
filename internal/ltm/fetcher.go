package ltm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
	"github.com/Pranshu258/inference-scheduler/internal/procmetrics"
)

// Fetcher drives the periodic membership reconciliation loop described in
// spec.md §4.1: one goroutine per pool, never overlapping ticks for the
// same pool, parallel across pools.
type Fetcher struct {
	client *Client
	store  *poolstore.Store
	logger zerolog.Logger

	inFlight sync.Map // poolstore.PoolKey -> *sync.Mutex
}

// NewFetcher builds a Fetcher over client and store.
func NewFetcher(client *Client, store *poolstore.Store, logger zerolog.Logger) *Fetcher {
	return &Fetcher{client: client, store: store, logger: logger.With().Str("component", "ltm-fetcher").Logger()}
}

// Run drives one pool's fetch loop until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context, key poolstore.PoolKey, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.tick(ctx, key)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx, key)
		}
	}
}

func (f *Fetcher) tick(ctx context.Context, key poolstore.PoolKey) {
	muAny, _ := f.inFlight.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	if !mu.TryLock() {
		f.logger.Debug().Str("pool", key.String()).Msg("previous membership fetch still running, skipping")
		return
	}
	defer mu.Unlock()

	pool, ok := f.store.Get(key)
	if !ok {
		return
	}

	cycleID := uuid.NewString()
	members, err := f.client.GetPoolMembers(ctx, key.Partition, key.Name)
	if err != nil {
		// A failed fetch leaves the previous member set untouched
		// (spec.md §4.1 failure semantics): stale membership beats none.
		f.logger.Warn().Err(err).Str("pool", key.String()).Str("cycle_id", cycleID).Msg("membership fetch failed, retaining previous member set")
		procmetrics.IncMembershipFetchFailure(key.String())
		return
	}

	keys := make([]poolstore.MemberKey, 0, len(members))
	for _, m := range members {
		keys = append(keys, poolstore.MemberKey{IP: m.IP, Port: m.Port})
	}
	result := pool.ReconcileMembers(keys)
	if result.Added > 0 || result.Removed > 0 {
		f.logger.Info().
			Str("pool", key.String()).
			Str("cycle_id", cycleID).
			Int("added", result.Added).
			Int("removed", result.Removed).
			Int("preserved", result.Preserved).
			Msg("membership reconciled")
	}
}
