package commands

import (
	"fmt"
	"time"

	"autowatch/cli/client"
)

// RenewConfig holds the configuration for the renew command.
type RenewConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Renew triggers a manual WebSub renewal sweep — the same Manager.Tick the
// scheduled loop runs, invoked on demand.
func Renew(config RenewConfig) error {
	c := client.NewClient(config.BaseURL, config.Timeout)
	if err := c.RenewWebSub(); err != nil {
		return fmt.Errorf("failed to trigger websub renewal: %w", err)
	}
	fmt.Println("WebSub renewal sweep triggered.")
	return nil
}
