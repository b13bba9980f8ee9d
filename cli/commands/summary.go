package commands

import (
	"fmt"
	"time"

	"autowatch/cli/client"
)

// SummaryConfig holds the configuration for the summary command.
type SummaryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Summary prints the operator overview counters.
func Summary(config SummaryConfig) error {
	c := client.NewClient(config.BaseURL, config.Timeout)
	s, err := c.Summary()
	if err != nil {
		return fmt.Errorf("failed to fetch summary: %w", err)
	}

	fmt.Printf("Active subscriptions:        %d\n", s.ActiveSubscriptions)
	fmt.Printf("WebSub subscribed:           %d\n", s.WebSubSubscribed)
	fmt.Printf("Failed jobs (24h):           %d\n", s.FailedJobsLast24h)
	fmt.Printf("Unprocessed events (24h):    %d\n", s.UnprocessedEventsLast24h)
	fmt.Printf("Processed (7d):              %d\n", s.ProcessedLast7Days)
	fmt.Printf("Success rate (7d):           %.1f%%\n", s.SuccessRateLast7Days*100)
	fmt.Printf("Webhook events received (24h): %d\n", s.WebhookEventsLast24h)
	return nil
}
