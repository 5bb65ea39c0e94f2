package upload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SweepResult summarizes one sweep pass
type SweepResult struct {
	Scanned int
	Removed []string
	Skipped int
}

// Sweeper removes sessions whose expiry has passed
type Sweeper struct {
	store  *Store
	locker Locker
}

// NewSweeper creates a sweeper sharing the manager's locker
func NewSweeper(store *Store, locker Locker) *Sweeper {
	return &Sweeper{store: store, locker: locker}
}

// Sweep deletes every session whose expiry is strictly before now.
// Sessions without an expiry and sessions busy with a request are left alone.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		removed, err := s.sweepOne(ctx, id, now)
		if err != nil {
			log.Error().Err(err).Str("upload_id", id).Msg("failed to sweep upload")
			result.Skipped++
			continue
		}
		if removed {
			result.Removed = append(result.Removed, id)
		}
	}

	return result, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, id string, now time.Time) (bool, error) {
	release, ok, err := s.locker.TryLock(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Debug().Str("upload_id", id).Msg("upload busy, skipping sweep")
		return false, nil
	}
	defer release()

	lookup, err := s.store.ReadRecord(ctx, id)
	if err != nil {
		return false, err
	}
	if lookup.State != RecordFound {
		return false, nil
	}

	expires := lookup.Session.ExpiresAt
	if expires == nil || !expires.Before(now) {
		return false, nil
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return false, err
	}

	log.Info().Str("upload_id", id).Time("expired_at", *expires).Msg("expired upload removed")
	return true, nil
}

// CleanupScheduler runs a Sweeper on a fixed interval
type CleanupScheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewCleanupScheduler creates a scheduler; a non-positive interval means hourly
func NewCleanupScheduler(sweeper *Sweeper, interval time.Duration) *CleanupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupScheduler{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in the background
func (cs *CleanupScheduler) Start() {
	log.Info().Dur("interval", cs.interval).Msg("upload cleanup scheduler started")

	cs.wg.Add(1)
	go cs.loop()
}

func (cs *CleanupScheduler) loop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.RunNow()
		case <-cs.done:
			return
		}
	}
}

// RunNow performs one sweep immediately
func (cs *CleanupScheduler) RunNow() SweepResult {
	result, err := cs.sweeper.Sweep(context.Background(), cs.now())
	if err != nil {
		log.Error().Err(err).Msg("upload cleanup failed")
		return result
	}

	log.Info().
		Int("scanned", result.Scanned).
		Int("removed", len(result.Removed)).
		Int("skipped", result.Skipped).
		Msg("upload cleanup completed")
	return result
}

// Stop halts the scheduler and waits for a running sweep to finish
func (cs *CleanupScheduler) Stop() {
	cs.once.Do(func() {
		log.Info().Msg("stopping upload cleanup scheduler")
		close(cs.done)
	})
	cs.wg.Wait()
}
