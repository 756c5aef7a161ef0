package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/linkwire/internal/runlock"
)

const minLockTTL = time.Minute

// Job is one pipeline stage run on its own interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on independent tickers. Every tick takes the job's run
// lock first, so a tick that overlaps another replica's run is skipped.
type Scheduler struct {
	locker runlock.Locker
	jobs   []Job
	logger zerolog.Logger
}

func New(locker runlock.Locker, logger zerolog.Logger, jobs ...Job) *Scheduler {
	if locker == nil {
		locker = runlock.Noop{}
	}
	return &Scheduler{locker: locker, jobs: jobs, logger: logger}
}

// Run blocks until ctx is cancelled. Each job runs once immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			return fmt.Errorf("job %q needs a positive interval and a run func", job.Name)
		}
	}

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.Tick(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, job)
		}
	}
}

// Tick runs job once under its lock and reports whether it ran.
func (s *Scheduler) Tick(ctx context.Context, job Job) bool {
	log := s.logger.With().Str("job", job.Name).Logger()

	ttl := 2 * job.Interval
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	lock, ok, err := s.locker.TryAcquire(ctx, job.Name, ttl)
	if err != nil {
		log.Warn().Err(err).Msg("run lock unavailable, skipping tick")
		return false
	}
	if !ok {
		log.Debug().Msg("job already running elsewhere, skipping tick")
		return false
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Warn().Err(err).Msg("release run lock failed")
		}
	}()

	started := time.Now()
	if err := s.safeRun(ctx, job); err != nil {
		log.Error().Err(err).Dur("took", time.Since(started)).Msg("job failed")
		return true
	}
	log.Debug().Dur("took", time.Since(started)).Msg("job finished")
	return true
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
