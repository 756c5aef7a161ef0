package app

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"horse.fit/linkwire/internal/cli"
	"horse.fit/linkwire/internal/ingest"
)

func runIngest(args []string) int {
	fs, flags := newStageFlags("ingest", 10*time.Minute)
	sourceID := fs.String("source", "", "Registered source id the URLs were observed on")
	file := fs.String("file", "", "File with one URL per line, optionally followed by a tab and context (- for stdin)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*sourceID) == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}
	format, err := parseOutputFormat(*flags.format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	items := make([]ingest.Item, 0, fs.NArg())
	for _, arg := range fs.Args() {
		items = append(items, ingest.Item{URL: arg})
	}
	if path := strings.TrimSpace(*file); path != "" {
		fromFile, err := readIngestFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
			return 2
		}
		items = append(items, fromFile...)
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: linkwire ingest --source <id> [--file urls.txt] [url ...]")
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

	result, err := rt.services.ingest.Ingest(ctx, items, *sourceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	return emit(format, result, func() error { return writeSummaryTable(result) })
}

func readIngestFile(path string) ([]ingest.Item, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseIngestLines(r)
}

// parseIngestLines reads "url" or "url<TAB>context" lines; blank lines and
// lines starting with # are ignored.
func parseIngestLines(r io.Reader) ([]ingest.Item, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	items := make([]ingest.Item, 0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawURL, note, _ := strings.Cut(line, "\t")
		items = append(items, ingest.Item{URL: strings.TrimSpace(rawURL), Context: strings.TrimSpace(note)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func runCanonicalize(args []string) int {
	fs := flag.NewFlagSet("canonicalize", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: linkwire canonicalize <url> [url ...]")
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	prov, err := buildProviders(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	results := make([]any, 0, fs.NArg())
	for _, raw := range fs.Args() {
		results = append(results, canonicalizeOne(ctx, prov, raw))
	}
	return emit(outputFormatJSON, results, nil)
}

func canonicalizeOne(ctx context.Context, prov *providers, raw string) any {
	res := prov.canonicalizer.Canonicalize(ctx, raw)
	return map[string]any{"input": raw, "result": res}
}
