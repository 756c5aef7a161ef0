package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"horse.fit/linkwire/internal/cli"
)

// commandContext is cancelled on SIGINT/SIGTERM or after timeout (if > 0).
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, timeout)
	return timed, func() {
		cancel()
		stop()
	}
}

type stageFlags struct {
	envLoader *cli.EnvLoader
	timeout   *time.Duration
	format    *string
}

// newCommandFlags registers --env and --timeout; a zero timeout runs until
// interrupted.
func newCommandFlags(name string, defaultTimeout time.Duration) (*flag.FlagSet, stageFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs, stageFlags{
		envLoader: cli.AddEnvFlag(fs, ".env", "Path to the .env file"),
		timeout:   fs.Duration("timeout", defaultTimeout, "Command timeout"),
	}
}

func newStageFlags(name string, defaultTimeout time.Duration) (*flag.FlagSet, stageFlags) {
	fs, flags := newCommandFlags(name, defaultTimeout)
	flags.format = fs.String("format", outputFormatTable, "Output format: table or json")
	return fs, flags
}

// runStage handles the shared plumbing of a one-shot batch command.
func runStage(name string, args []string, defaultTimeout time.Duration, extra func(fs *flag.FlagSet), run func(ctx context.Context, rt *runtime) (any, error)) int {
	fs, flags := newStageFlags(name, defaultTimeout)
	if extra != nil {
		extra(fs)
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "%s does not accept positional arguments\n", name)
		return 2
	}
	format, err := parseOutputFormat(*flags.format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
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

	result, err := run(ctx, rt)
	if err != nil {
		rt.logger.Error().Err(err).Str("command", name).Msg("command failed")
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		return 1
	}
	return emit(format, result, func() error { return writeSummaryTable(result) })
}

func runEnrich(args []string) int {
	return runStage("enrich", args, 10*time.Minute, nil, func(ctx context.Context, rt *runtime) (any, error) {
		return rt.services.enrichment.RunBatch(ctx)
	})
}

func runEmbed(args []string) int {
	var limit *int
	return runStage("embed", args, 10*time.Minute, func(fs *flag.FlagSet) {
		limit = fs.Int("limit", 0, "Maximum links to embed (default EMBED_BATCH_LIMIT)")
	}, func(ctx context.Context, rt *runtime) (any, error) {
		n := *limit
		if n <= 0 {
			n = rt.cfg.EmbedBatchLimit
		}
		return rt.services.embeddings.Run(ctx, n)
	})
}

func runCluster(args []string) int {
	return runStage("cluster", args, 10*time.Minute, nil, func(ctx context.Context, rt *runtime) (any, error) {
		return rt.services.clustering.Run(ctx)
	})
}

func runFeeds(args []string) int {
	return runStage("feeds", args, 15*time.Minute, nil, func(ctx context.Context, rt *runtime) (any, error) {
		return rt.services.feeds.PollAll(ctx)
	})
}

type processResult struct {
	Enrichment any `json:"enrichment"`
	Embeddings any `json:"embeddings"`
	Clustering any `json:"clustering"`
}

// runProcess runs enrichment, embeddings and clustering once, in order.
func runProcess(args []string) int {
	return runStage("process", args, 30*time.Minute, nil, func(ctx context.Context, rt *runtime) (any, error) {
		var out processResult

		enriched, err := rt.services.enrichment.RunBatch(ctx)
		if err != nil {
			return nil, fmt.Errorf("enrichment: %w", err)
		}
		out.Enrichment = enriched

		embedded, err := rt.services.embeddings.Run(ctx, rt.cfg.EmbedBatchLimit)
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		out.Embeddings = embedded

		clustered, err := rt.services.clustering.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("clustering: %w", err)
		}
		out.Clustering = clustered
		return out, nil
	})
}

func runHealth(args []string) int {
	return runStage("health", args, 15*time.Second, nil, func(ctx context.Context, rt *runtime) (any, error) {
		if err := rt.pool.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]any{
			"database":      "ok",
			"providerMode":  rt.cfg.ProviderMode,
			"rendering":     rt.cfg.RenderingConfigured(),
			"embedder":      embedderName(rt.providers),
			"redisLocking":  rt.cfg.RedisURL != "",
			"enrichWorkers": rt.cfg.EnrichWorkers,
		}, nil
	})
}

func embedderName(p *providers) string {
	if p == nil || p.embedder == nil {
		return "disabled"
	}
	return p.embedder.Name()
}

// writeSummaryTable renders a flat result struct as key/value rows.
func writeSummaryTable(result any) error {
	fields, err := flattenJSON(result)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, []string{f.key, f.value})
	}
	return writeTable([]string{"field", "value"}, rows)
}

type field struct {
	key   string
	value string
}

func flattenJSON(value any) ([]field, error) {
	var generic any
	if err := roundTripJSON(value, &generic); err != nil {
		return nil, err
	}
	out := make([]field, 0)
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch typed := v.(type) {
		case map[string]any:
			for _, key := range sortedKeys(typed) {
				next := key
				if prefix != "" {
					next = prefix + "." + key
				}
				walk(next, typed[key])
			}
		case float64:
			out = append(out, field{key: prefix, value: strconv.FormatFloat(typed, 'f', -1, 64)})
		default:
			out = append(out, field{key: prefix, value: fmt.Sprint(typed)})
		}
	}
	walk("", generic)
	return out, nil
}
