package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"horse.fit/linkwire/internal/logging"
	"horse.fit/linkwire/internal/scheduler"
)

func runSchedule(args []string) int {
	fs, flags := newCommandFlags("schedule", 0)
	feedsEvery := fs.Duration("feeds-every", 15*time.Minute, "Feed polling interval (0 disables)")
	enrichEvery := fs.Duration("enrich-every", 2*time.Minute, "Enrichment batch interval (0 disables)")
	embedEvery := fs.Duration("embed-every", 5*time.Minute, "Embedding generation interval (0 disables)")
	clusterEvery := fs.Duration("cluster-every", 15*time.Minute, "Clustering interval (0 disables)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "schedule does not accept positional arguments")
		return 2
	}

	rt, err := openRuntime(flags.envLoader, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := commandContext(*flags.timeout)
	defer cancel()

	locker, err := newLocker(ctx, rt.cfg, rt.logger)
	if err != nil {
		rt.logger.Error().Err(err).Msg("run lock unavailable")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer locker.Close()

	svc := rt.services
	candidates := []scheduler.Job{
		{Name: "feeds", Interval: *feedsEvery, Run: func(ctx context.Context) error {
			_, err := svc.feeds.PollAll(ctx)
			return err
		}},
		{Name: "enrichment", Interval: *enrichEvery, Run: func(ctx context.Context) error {
			_, err := svc.enrichment.RunBatch(ctx)
			return err
		}},
		{Name: "embeddings", Interval: *embedEvery, Run: func(ctx context.Context) error {
			_, err := svc.embeddings.Run(ctx, rt.cfg.EmbedBatchLimit)
			return err
		}},
		{Name: "clustering", Interval: *clusterEvery, Run: func(ctx context.Context) error {
			_, err := svc.clustering.Run(ctx)
			return err
		}},
	}

	jobs := make([]scheduler.Job, 0, len(candidates))
	for _, job := range candidates {
		if job.Interval > 0 {
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "every job is disabled")
		return 2
	}

	rt.logger.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	if err := scheduler.New(locker, logging.Component(rt.logger, "scheduler"), jobs...).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Scheduler failed: %v\n", err)
		return 1
	}
	rt.logger.Info().Msg("scheduler stopped")
	return 0
}
