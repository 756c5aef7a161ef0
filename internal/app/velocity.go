package app

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/linkwire/internal/velocity"
)

func runVelocity(args []string) int {
	fs, flags := newStageFlags("velocity", 30*time.Second)
	hours := fs.Int("hours", int(velocity.DefaultWindow/time.Hour), "Window size in hours")
	limit := fs.Int("limit", velocity.DefaultLimit, "Maximum links to return")
	offset := fs.Int("offset", 0, "Rows to skip")
	domain := fs.String("domain", "", "Only links on this domain")
	sourceID := fs.String("source", "", "Only links mentioned by this source in the window")
	category := fs.String("category", "", "Only links with this AI category")
	trending := fs.Bool("trending", false, "Only trending links")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if err := validateVelocityFlags(fs, *hours, *limit, *offset); err != nil {
		fmt.Fprintln(os.Stderr, err)
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

	entries, err := rt.services.velocity.Links(ctx, velocity.Query{
		Since:  time.Now().UTC().Add(-time.Duration(*hours) * time.Hour),
		Limit:  *limit,
		Offset: *offset,
		Filters: velocity.Filters{
			Domain:       *domain,
			SourceID:     *sourceID,
			Category:     *category,
			TrendingOnly: *trending,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query links: %v\n", err)
		return 1
	}
	return emit(format, entries, func() error { return writeVelocityTable(entries) })
}

func validateVelocityFlags(fs *flag.FlagSet, hours, limit, offset int) error {
	switch {
	case fs.NArg() != 0:
		return fmt.Errorf("velocity does not accept positional arguments")
	case hours <= 0:
		return fmt.Errorf("--hours must be > 0")
	case limit <= 0:
		return fmt.Errorf("--limit must be > 0")
	case offset < 0:
		return fmt.Errorf("--offset must be >= 0")
	}
	return nil
}

func writeVelocityTable(entries []velocity.Entry) error {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		trend := ""
		if e.IsTrending {
			trend = "yes"
		}
		title := e.Title
		if e.TitleIsFallback {
			title = "~" + title
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			strconv.Itoa(e.Velocity),
			strconv.FormatFloat(e.WeightedVelocity, 'f', 2, 64),
			trend,
			e.Domain,
			truncateForTable(title, 72),
			formatUTCTimestamp(e.FirstSeenAt),
		})
	}
	return writeTable([]string{"link_id", "velocity", "weighted", "trending", "domain", "title", "first_seen"}, rows)
}
