package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"horse.fit/linkwire/internal/blocklist"
	"horse.fit/linkwire/internal/db"
)

func runBlocklist(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: linkwire blocklist <import|list> [flags]")
		return 2
	}
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "import":
		return runBlocklistImport(args[1:])
	case "list":
		return runBlocklistList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown blocklist action: %s\n", args[0])
		return 2
	}
}

func runBlocklistImport(args []string) int {
	fs, flags := newStageFlags("blocklist import", time.Minute)
	file := fs.String("file", "", "YAML file with blocklist entries")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	entries, err := readYAMLFile(*file, blocklist.ParseYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid blocklist file: %v\n", err)
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

	created := 0
	for _, entry := range entries {
		_, isNew, err := rt.pool.AddBlocklistEntry(ctx, entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to add %s %q: %v\n", entry.Type, entry.Pattern, err)
			return 1
		}
		if isNew {
			created++
		}
	}
	rt.logger.Info().Int("entries", len(entries)).Int("created", created).Msg("blocklist imported")
	fmt.Printf("Imported %d blocklist entries (%d new)\n", len(entries), created)
	return 0
}

func runBlocklistList(args []string) int {
	fs, flags := newStageFlags("blocklist list", 30*time.Second)
	if code, ok := parseFlags(fs, args); !ok {
		return code
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

	entries, err := rt.pool.ListBlocklist(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list blocklist: %v\n", err)
		return 1
	}
	return emit(format, entries, func() error {
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{strconv.FormatInt(e.ID, 10), string(e.Type), e.Pattern})
		}
		return writeTable([]string{"id", "type", "pattern"}, rows)
	})
}

type sourcesFile struct {
	Sources []db.SourceRecord `yaml:"sources"`
}

// parseSourcesYAML reads a sources seed file and validates every record.
func parseSourcesYAML(r io.Reader) ([]db.SourceRecord, error) {
	var file sourcesFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode sources yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Sources))
	out := make([]db.SourceRecord, 0, len(file.Sources))
	for i, record := range file.Sources {
		normalized, err := record.Normalize()
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[normalized.ID]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate id %q", i, normalized.ID)
		}
		seen[normalized.ID] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

func runSources(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: linkwire sources <import|list> [flags]")
		return 2
	}
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "import":
		return runSourcesImport(args[1:])
	case "list":
		return runSourcesList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown sources action: %s\n", args[0])
		return 2
	}
}

func runSourcesImport(args []string) int {
	fs, flags := newStageFlags("sources import", time.Minute)
	file := fs.String("file", "", "YAML file with a top-level sources list")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	records, err := readYAMLFile(*file, parseSourcesYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid sources file: %v\n", err)
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

	for _, record := range records {
		if _, err := rt.pool.UpsertSource(ctx, record); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to import source %q: %v\n", record.ID, err)
			return 1
		}
	}
	rt.logger.Info().Int("sources", len(records)).Msg("sources imported")
	fmt.Printf("Imported %d sources\n", len(records))
	return 0
}

func runSourcesList(args []string) int {
	fs, flags := newStageFlags("sources list", 30*time.Second)
	if code, ok := parseFlags(fs, args); !ok {
		return code
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

	records, err := rt.pool.ListSources(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		return 1
	}
	return emit(format, records, func() error {
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{
				r.ID,
				truncateForTable(r.Name, 40),
				r.Kind,
				strconv.FormatBool(r.Enabled != nil && *r.Enabled),
				truncateForTable(r.FeedURL, 60),
				formatUTCTimestampPtr(r.LastPolledAt),
			})
		}
		return writeTable([]string{"id", "name", "kind", "enabled", "feed_url", "last_polled"}, rows)
	})
}

func readYAMLFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}
