// Package sweeper implements the background process that verifies cached
// postings still resolve at their origin and expires the ones that do not.
// It never blocks a user-facing request: sweeps run on a cron schedule with
// jitter, through a bounded worker pool with per-check timeouts.
package sweeper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
)

// Options configures a Sweeper.
type Options struct {
	// Interval between sweep cycles.
	Interval time.Duration
	// Jitter delays each cycle by a random duration in [0, Jitter) so a
	// fleet of instances does not hammer origin sites in lockstep.
	Jitter time.Duration
	// Workers bounds concurrent origin checks.
	Workers int
	// CheckTimeout bounds one origin check; a slow origin must not stall
	// the rest of the cycle.
	CheckTimeout time.Duration
	// VerifyAfter is the age past which a record is due for verification.
	VerifyAfter time.Duration
	// FailThreshold is the number of consecutive transient check failures
	// after which a record is expired anyway.
	FailThreshold int
	// Retention bounds how long Expired records are kept before purge.
	Retention time.Duration
	Logger    *logging.JobMeshLogger
}

// Stats summarizes one sweep cycle.
type Stats struct {
	Checked   int           `json:"checked"`
	Verified  int           `json:"verified"`
	Expired   int           `json:"expired"`
	Purged    int           `json:"purged"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Health is the observability snapshot the sweeper exposes.
type Health struct {
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastStats Stats     `json:"last_stats"`
	LastError string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
}

// Sweeper periodically verifies cached postings against their origin.
type Sweeper struct {
	store   core.JobStore
	index   core.SearchIndex
	checker OriginChecker
	opts    Options
	logger  *logging.JobMeshLogger

	cron *cron.Cron

	mu     sync.Mutex
	health Health
}

// New builds a Sweeper over the job store. index may be nil when no semantic
// index is configured.
func New(store core.JobStore, index core.SearchIndex, checker OriginChecker, optFns ...func(o *Options)) *Sweeper {
	opts := Options{
		Interval:      6 * time.Hour,
		Jitter:        10 * time.Minute,
		Workers:       16,
		CheckTimeout:  10 * time.Second,
		VerifyAfter:   6 * time.Hour,
		FailThreshold: 3,
		Retention:     30 * 24 * time.Hour,
		Logger:        logging.NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Sweeper{
		store:   store,
		index:   index,
		checker: checker,
		opts:    opts,
		logger:  opts.Logger.WithComponent("sweeper"),
		cron:    cron.New(),
	}
}

// Start registers the cron entry and launches the schedule. The first cycle
// runs after one jittered interval, not immediately, so process restarts do
// not multiply origin traffic.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(cronSpec(s.opts.Interval), func() {
		if s.opts.Jitter > 0 {
			delay := time.Duration(rand.Int63n(int64(s.opts.Jitter)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep cycle aborted", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.setRunning(true)
	s.logger.Info("sweeper started", "interval", s.opts.Interval.String(), "workers", s.opts.Workers)
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.setRunning(false)
	s.logger.Info("sweeper stopped")
}

func cronSpec(interval time.Duration) string {
	return "@every " + interval.String()
}

// Sweep runs one verification cycle: retry pending index removals, verify
// due records through the worker pool, then purge expired records past
// retention. Store-level failures abort the cycle; individual check failures
// are isolated per record.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	stats := Stats{StartedAt: time.Now().UTC()}

	s.retryIndexRemovals(ctx)

	due, err := s.store.ListForVerification(ctx, time.Now().Add(-s.opts.VerifyAfter))
	if err != nil {
		err = core.StoreUnavailable("sweeper.list", err)
		s.recordCycle(stats, err)
		return stats, err
	}

	jobs := make(chan core.JobRecord)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		verified int
		expired  int
	)
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				v, e := s.verifyOne(ctx, rec)
				mu.Lock()
				verified += v
				expired += e
				mu.Unlock()
			}
		}()
	}
	for _, rec := range due {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			s.recordCycle(stats, ctx.Err())
			return stats, ctx.Err()
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	stats.Checked = len(due)
	stats.Verified = verified
	stats.Expired = expired

	purged, err := s.store.PurgeExpired(ctx, s.opts.Retention)
	if err != nil {
		err = core.StoreUnavailable("sweeper.purge", err)
		s.recordCycle(stats, err)
		return stats, err
	}
	stats.Purged = purged
	stats.Duration = time.Since(stats.StartedAt)

	s.logger.LogSweepCycle(stats.Checked, stats.Expired, stats.Purged, stats.Duration, nil)
	s.recordCycle(stats, nil)
	return stats, nil
}

// verifyOne checks a single record, isolated from the rest of the cycle by
// its own timeout. Returns (verified, expired) deltas of 0 or 1.
func (s *Sweeper) verifyOne(ctx context.Context, rec core.JobRecord) (int, int) {
	checkCtx, cancel := context.WithTimeout(ctx, s.opts.CheckTimeout)
	defer cancel()

	err := s.checker.Check(checkCtx, rec.OriginURL)
	switch {
	case err == nil:
		if err := s.store.MarkVerified(ctx, rec.Fingerprint, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to mark record verified", "fingerprint", rec.Fingerprint, "error", err)
			return 0, 0
		}
		return 1, 0

	case core.IsExternalExpired(err):
		// Origin reports the posting gone: expire now.
		s.expire(ctx, rec)
		return 0, 1

	default:
		// Transient trouble: record the strike and retry next cycle,
		// unless the record has exhausted its failure budget.
		failures, ferr := s.store.RecordCheckFailure(ctx, rec.Fingerprint)
		if ferr != nil {
			s.logger.Warn("failed to record check failure", "fingerprint", rec.Fingerprint, "error", ferr)
			return 0, 0
		}
		if failures >= s.opts.FailThreshold {
			s.expire(ctx, rec)
			return 0, 1
		}
		return 0, 0
	}
}

// expire transitions the record to Expired and removes it from the search
// index best-effort; a failed removal is flagged and retried next cycle.
func (s *Sweeper) expire(ctx context.Context, rec core.JobRecord) {
	if err := s.store.MarkStatus(ctx, rec.Fingerprint, core.StatusExpired); err != nil {
		s.logger.Warn("failed to expire record", "fingerprint", rec.Fingerprint, "error", err)
		return
	}
	if s.index == nil {
		return
	}
	if err := s.index.Remove(ctx, rec.Fingerprint); err != nil {
		s.logger.Warn("index removal failed, flagged for retry", "fingerprint", rec.Fingerprint, "error", err)
		if serr := s.store.SetIndexStale(ctx, rec.Fingerprint, true); serr != nil {
			s.logger.Warn("failed to flag stale index entry", "fingerprint", rec.Fingerprint, "error", serr)
		}
	}
}

// retryIndexRemovals drains removals that failed in earlier cycles.
func (s *Sweeper) retryIndexRemovals(ctx context.Context) {
	if s.index == nil {
		return
	}
	stale, err := s.store.ListIndexStale(ctx)
	if err != nil {
		s.logger.Warn("could not list stale index entries", "error", err)
		return
	}
	for _, rec := range stale {
		if err := s.index.Remove(ctx, rec.Fingerprint); err != nil {
			s.logger.Warn("index removal retry failed", "fingerprint", rec.Fingerprint, "error", err)
			continue
		}
		if err := s.store.SetIndexStale(ctx, rec.Fingerprint, false); err != nil {
			s.logger.Warn("failed to clear stale index flag", "fingerprint", rec.Fingerprint, "error", err)
		}
	}
}

// Health returns the last-cycle snapshot for operator visibility.
func (s *Sweeper) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *Sweeper) recordCycle(stats Stats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.LastRunAt = time.Now().UTC()
	s.health.LastStats = stats
	if err != nil {
		s.health.LastError = err.Error()
	} else {
		s.health.LastError = ""
	}
}

func (s *Sweeper) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Running = running
}
