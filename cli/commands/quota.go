package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"autowatch/cli/client"
)

// QuotaConfig holds the configuration for the quota command.
type QuotaConfig struct {
	BaseURL string
	Timeout time.Duration
	Days    int
}

// Quota lists ApiQuotaUsage rows over the last N days.
func Quota(config QuotaConfig) error {
	c := client.NewClient(config.BaseURL, config.Timeout)
	rows, err := c.QuotaUsage(config.Days)
	if err != nil {
		return fmt.Errorf("failed to fetch quota usage: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("No quota usage recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSERVICE\tREQUESTS\tQUOTA\tCOST UNITS\tCOST LIMIT")
	for _, q := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			q.Date.Format("2006-01-02"), q.ServiceName, q.RequestsUsed, q.QuotaLimit,
			q.CostUnitsUsed, q.CostUnitLimit)
	}
	return w.Flush()
}
