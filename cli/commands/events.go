package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"autowatch/cli/client"
)

// EventsConfig holds the configuration for the unprocessed-events command.
type EventsConfig struct {
	BaseURL string
	Timeout time.Duration
	Hours   int
}

// Events lists unprocessed WebhookEvent rows over the last N hours.
func Events(config EventsConfig) error {
	c := client.NewClient(config.BaseURL, config.Timeout)
	rows, err := c.UnprocessedEvents(config.Hours)
	if err != nil {
		return fmt.Errorf("failed to fetch unprocessed events: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("No unprocessed events in the window.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIVED AT\tCHANNEL\tVIDEO\tSOURCE")
	for _, e := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ReceivedAt.Format(time.RFC3339), e.ChannelID, e.VideoID, e.Source)
	}
	return w.Flush()
}
