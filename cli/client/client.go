// Package client is the HTTP client autowatchctl uses against the
// Diagnostics Read Model's HTTP surface: JSON-over-HTTP, a thin wrapper per
// endpoint, a bounded-timeout http.Client.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to the ops HTTP surface (internal/diagnostics + internal/health).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Summary mirrors diagnostics.Summary.
type Summary struct {
	ActiveSubscriptions      int     `json:"active_subscriptions"`
	WebSubSubscribed         int     `json:"websub_subscribed"`
	FailedJobsLast24h        int     `json:"failed_jobs_last_24h"`
	UnprocessedEventsLast24h int     `json:"unprocessed_events_last_24h"`
	ProcessedLast7Days       int     `json:"processed_last_7_days"`
	SuccessRateLast7Days     float64 `json:"success_rate_last_7_days"`
	WebhookEventsLast24h     int     `json:"webhook_events_last_24h"`
}

// QuotaRow mirrors models.ApiQuotaUsage.
type QuotaRow struct {
	Date          time.Time `json:"Date"`
	ServiceName   string    `json:"ServiceName"`
	RequestsUsed  int64     `json:"RequestsUsed"`
	QuotaLimit    int64     `json:"QuotaLimit"`
	CostUnitsUsed int64     `json:"CostUnitsUsed"`
	CostUnitLimit int64     `json:"CostUnitLimit"`
	LastUpdated   time.Time `json:"LastUpdated"`
}

// FailedJobRow mirrors models.ProcessedVideo where AddedToPlaylist is false.
type FailedJobRow struct {
	ID           int64     `json:"ID"`
	UserID       int64     `json:"UserID"`
	VideoID      string    `json:"VideoID"`
	ChannelID    string    `json:"ChannelID"`
	Title        *string   `json:"Title"`
	ProcessedAt  time.Time `json:"ProcessedAt"`
	ErrorMessage *string   `json:"ErrorMessage"`
	RetryCount   int       `json:"RetryCount"`
	Source       string    `json:"Source"`
}

// UnprocessedEventRow mirrors models.WebhookEvent where Processed is false.
type UnprocessedEventRow struct {
	ID         int64     `json:"ID"`
	ChannelID  string    `json:"ChannelID"`
	VideoID    string    `json:"VideoID"`
	Title      *string   `json:"Title"`
	ReceivedAt time.Time `json:"ReceivedAt"`
	Source     string    `json:"Source"`
}

func (c *Client) Summary() (*Summary, error) {
	var s Summary
	if err := c.getJSON("/diagnostics/summary", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) QuotaUsage(days int) ([]QuotaRow, error) {
	var rows []QuotaRow
	if err := c.getJSON("/diagnostics/quota?days="+strconv.Itoa(days), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) FailedJobs(days int) ([]FailedJobRow, error) {
	var rows []FailedJobRow
	if err := c.getJSON("/diagnostics/failed-jobs?days="+strconv.Itoa(days), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) UnprocessedEvents(hours int) ([]UnprocessedEventRow, error) {
	var rows []UnprocessedEventRow
	if err := c.getJSON("/diagnostics/unprocessed-events?hours="+strconv.Itoa(hours), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// RenewWebSub triggers a manual WebSub renewal sweep, run once on demand
// rather than waiting for its schedule.
func (c *Client) RenewWebSub() error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/diagnostics/websub/renew", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
