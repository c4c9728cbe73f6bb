package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/kv"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

// Job is one periodic task. Run receives a context bounded by the job
// interval so a wedged cycle cannot overlap the next one.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// ErrHeartbeatStale signals the watchdog tripped; the supervisor restarts
// the scheduler process.
var ErrHeartbeatStale = errors.New("scheduler heartbeat stale")

// Scheduler runs its jobs on independent tickers and maintains a KV
// heartbeat. The watchdog reads that heartbeat back; if a stuck cycle (or a
// dead KV write path) lets it go stale past staleAfter, the whole scheduler
// shuts down so the supervisor can restart it clean.
type Scheduler struct {
	jobs       []Job
	kv         *kv.Store
	metrics    *metrics.Registry
	staleAfter time.Duration
	now        func() time.Time
}

func New(beats *kv.Store, m *metrics.Registry, staleAfter time.Duration, jobs ...Job) *Scheduler {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Scheduler{
		jobs:       jobs,
		kv:         beats,
		metrics:    m,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run blocks until the context ends or the watchdog trips. A parent
// context ending, however it ends, is a clean shutdown; only causes the
// scheduler raised itself (the watchdog) come back as errors.
func (s *Scheduler) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.runJob(ctx, j)
		}(job)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.watchdog(ctx); err != nil {
			cancel(err)
		}
	}()

	wg.Wait()
	cause := context.Cause(ctx)
	if parentErr := parent.Err(); parentErr != nil && errors.Is(cause, parentErr) {
		return nil
	}
	if cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Every)
	defer ticker.Stop()

	s.execute(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j Job) {
	jobCtx, cancel := context.WithTimeout(ctx, j.Every)
	defer cancel()

	start := s.now()
	err := j.Run(jobCtx)
	elapsed := time.Since(start)
	s.metrics.JobDuration.WithLabelValues(j.Name).Observe(elapsed.Seconds())

	if err != nil {
		s.metrics.JobRuns.WithLabelValues(j.Name, "error").Inc()
		log.Error().Err(err).Str("job", j.Name).Dur("duration", elapsed).
			Msg("job failed")
		return
	}
	s.metrics.JobRuns.WithLabelValues(j.Name, "ok").Inc()
	log.Debug().Str("job", j.Name).Dur("duration", elapsed).Msg("job completed")
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	every := s.staleAfter / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := s.kv.Beat(ctx, s.now()); err != nil {
			log.Warn().Err(err).Msg("heartbeat write failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) watchdog(ctx context.Context) error {
	every := s.staleAfter / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		age, ok, err := s.kv.BeatAge(ctx, s.now())
		if err != nil {
			log.Warn().Err(err).Msg("watchdog cannot read heartbeat")
			continue
		}
		if !ok {
			continue
		}
		s.metrics.HeartbeatAge.Set(age.Seconds())
		if age > s.staleAfter {
			log.Error().Dur("age", age).Dur("stale_after", s.staleAfter).
				Msg("heartbeat stale; terminating scheduler for restart")
			return fmt.Errorf("%w: age %s", ErrHeartbeatStale, age)
		}
	}
}
