package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "canonicalize":
		return runCanonicalize(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "enrich":
		return runEnrich(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "velocity":
		return runVelocity(args[1:])
	case "feeds":
		return runFeeds(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "schedule":
		return runSchedule(args[1:])
	case "serve":
		return runServe(args[1:])
	case "stories":
		return runStories(args[1:])
	case "story":
		return runStoryDetail(args[1:])
	case "blocklist":
		return runBlocklist(args[1:])
	case "sources":
		return runSources(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "linkwire CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  linkwire <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health        Verify database connectivity and show provider selection")
	fmt.Fprintln(os.Stderr, "  canonicalize  Resolve URLs to their canonical identity")
	fmt.Fprintln(os.Stderr, "  ingest        Record URLs observed by a source")
	fmt.Fprintln(os.Stderr, "  enrich        Run one enrichment batch")
	fmt.Fprintln(os.Stderr, "  embed         Generate missing embeddings")
	fmt.Fprintln(os.Stderr, "  cluster       Group similar links into stories")
	fmt.Fprintln(os.Stderr, "  velocity      List links ranked by cross-source velocity")
	fmt.Fprintln(os.Stderr, "  feeds         Poll every enabled RSS/Atom source once")
	fmt.Fprintln(os.Stderr, "  process       Run enrich + embed + cluster in sequence")
	fmt.Fprintln(os.Stderr, "  run-once      Alias for process")
	fmt.Fprintln(os.Stderr, "  schedule      Run the pipeline stages on intervals")
	fmt.Fprintln(os.Stderr, "  serve         Start the Echo API server")
	fmt.Fprintln(os.Stderr, "  stories       List stories")
	fmt.Fprintln(os.Stderr, "  story         Show one story with its links")
	fmt.Fprintln(os.Stderr, "  blocklist     import|list blocklist entries")
	fmt.Fprintln(os.Stderr, "  sources       import|list registered sources")
	fmt.Fprintln(os.Stderr, "  daemon        Manage systemd units for serve and schedule")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"linkwire <command> -h\" for command-specific flags.")
}
