// Command autowatchctl is a thin CLI over the Diagnostics Read Model's HTTP
// surface: a flag-based subcommand dispatcher, one verb per ops endpoint.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"autowatch/cli/commands"
)

const defaultTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("AUTOWATCH_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}

	switch os.Args[1] {
	case "summary":
		runSummary(baseURL)
	case "quota":
		runQuota(baseURL)
	case "failed":
		runFailed(baseURL)
	case "events":
		runEvents(baseURL)
	case "renew":
		runRenew(baseURL)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSummary(baseURL string) {
	if err := commands.Summary(commands.SummaryConfig{BaseURL: baseURL, Timeout: defaultTimeout}); err != nil {
		fail(err)
	}
}

func runQuota(baseURL string) {
	fs := flag.NewFlagSet("quota", flag.ExitOnError)
	days := fs.Int("days", 7, "number of days of quota usage to show")
	_ = fs.Parse(os.Args[2:])
	if err := commands.Quota(commands.QuotaConfig{BaseURL: baseURL, Timeout: defaultTimeout, Days: *days}); err != nil {
		fail(err)
	}
}

func runFailed(baseURL string) {
	fs := flag.NewFlagSet("failed", flag.ExitOnError)
	days := fs.Int("days", 7, "number of days of failed jobs to show")
	_ = fs.Parse(os.Args[2:])
	if err := commands.Failed(commands.FailedConfig{BaseURL: baseURL, Timeout: defaultTimeout, Days: *days}); err != nil {
		fail(err)
	}
}

func runEvents(baseURL string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	hours := fs.Int("hours", 24, "number of hours of unprocessed events to show")
	_ = fs.Parse(os.Args[2:])
	if err := commands.Events(commands.EventsConfig{BaseURL: baseURL, Timeout: defaultTimeout, Hours: *hours}); err != nil {
		fail(err)
	}
}

func runRenew(baseURL string) {
	if err := commands.Renew(commands.RenewConfig{BaseURL: baseURL, Timeout: defaultTimeout}); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`autowatchctl - operate an autowatch deployment

Usage:
  autowatchctl <command> [flags]

Commands:
  summary              Show operator overview counters
  quota [-days N]       Show API quota usage for the last N days (default 7)
  failed [-days N]       Show failed fan-out jobs for the last N days (default 7)
  events [-hours N]      Show unprocessed webhook events for the last N hours (default 24)
  renew                 Trigger a manual WebSub renewal sweep
  help                  Show this message

Environment:
  AUTOWATCH_URL  Base URL of the ops HTTP surface (default http://localhost:8081)`)
}
