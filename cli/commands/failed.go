package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"autowatch/cli/client"
)

// FailedConfig holds the configuration for the failed-jobs command.
type FailedConfig struct {
	BaseURL string
	Timeout time.Duration
	Days    int
}

// Failed lists ProcessedVideo rows with added=false over the last N days.
func Failed(config FailedConfig) error {
	c := client.NewClient(config.BaseURL, config.Timeout)
	rows, err := c.FailedJobs(config.Days)
	if err != nil {
		return fmt.Errorf("failed to fetch failed jobs: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("No failed jobs in the window.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROCESSED AT\tUSER\tVIDEO\tCHANNEL\tSOURCE\tERROR")
	for _, f := range rows {
		errMsg := ""
		if f.ErrorMessage != nil {
			errMsg = *f.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			f.ProcessedAt.Format(time.RFC3339), f.UserID, f.VideoID, f.ChannelID, f.Source, errMsg)
	}
	return w.Flush()
}
