package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/linkwire/internal/db"
)

func runStories(args []string) int {
	fs, flags := newStageFlags("stories", 30*time.Second)
	status := fs.String("status", "", "Filter by story status")
	limit := fs.Int("limit", 50, "Maximum stories to return")
	offset := fs.Int("offset", 0, "Rows to skip")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stories does not accept positional arguments")
		return 2
	}
	if *limit <= 0 || *offset < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0 and --offset >= 0")
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

	stories, err := rt.pool.ListStories(ctx, db.StoryListOptions{Status: *status, Limit: *limit, Offset: *offset})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query stories: %v\n", err)
		return 1
	}
	return emit(format, stories, func() error { return writeStorySummaryTable(stories) })
}

func writeStorySummaryTable(items []db.StorySummary) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.StoryID, 10),
			truncateForTable(item.Title, 80),
			item.Status,
			strconv.Itoa(item.LinkCount),
			formatUTCTimestamp(item.FirstLinkAt),
			formatUTCTimestamp(item.LastLinkAt),
		})
	}
	return writeTable([]string{"story_id", "title", "status", "links", "first_link", "last_link"}, rows)
}

func runStoryDetail(args []string) int {
	fs, flags := newStageFlags("story", 30*time.Second)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: linkwire story <story_id> [--format table|json]")
		return 2
	}
	storyID, err := strconv.ParseInt(strings.TrimSpace(fs.Arg(0)), 10, 64)
	if err != nil || storyID <= 0 {
		fmt.Fprintln(os.Stderr, "story_id must be a positive integer")
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

	detail, err := rt.pool.GetStoryDetail(ctx, storyID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "Story not found: %d\n", storyID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load story detail: %v\n", err)
		return 1
	}
	return emit(format, detail, func() error { return writeStoryDetailTable(detail) })
}

func writeStoryDetailTable(detail *db.StoryDetail) error {
	fmt.Printf("Story %d: %s\n", detail.Story.StoryID, detail.Story.Title)
	fmt.Printf("Span: %s .. %s (%d links)\n\n",
		formatUTCTimestamp(detail.Story.FirstLinkAt),
		formatUTCTimestamp(detail.Story.LastLinkAt),
		detail.Story.LinkCount,
	)

	rows := make([][]string, 0, len(detail.Links))
	for _, link := range detail.Links {
		rows = append(rows, []string{
			strconv.FormatInt(link.ID, 10),
			strconv.Itoa(link.Velocity),
			link.Domain,
			truncateForTable(link.Title, 72),
			link.CanonicalURL,
		})
	}
	return writeTable([]string{"link_id", "velocity", "domain", "title", "url"}, rows)
}
