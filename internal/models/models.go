// Package models holds the plain record types shared by every component.
//
// These are flat DTOs, not an ORM's materialized graph: the fan-out query
// (db.SubscriptionRepository.FindSubscribingUsers, called from internal/fanout)
// loads User and Subscription together via an explicit join
// rather than relying on lazy loading (see the rework notes this repo
// follows for "ORM include child" patterns).
package models

import "time"

// Source identifies how a video entered the event queue.
type Source string

const (
	SourceWebhook Source = "Webhook"
	SourcePolling Source = "Polling"
	SourceManual  Source = "Manual"
)

// User is the platform account the core mutates token/playlist/flag fields on.
// Every other field (profile, email, session) belongs to the external auth
// collaborator and is not modeled here.
type User struct {
	ID                  int64
	EncryptedAccessToken []byte
	EncryptedRefreshToken []byte
	AccessTokenExpiresAt *time.Time
	PlaylistID           *string
	AutomationDisabled   bool
	IsAdmin              bool
}

// HasAccessToken reports whether the user currently has an access token on file.
func (u *User) HasAccessToken() bool {
	return len(u.EncryptedAccessToken) > 0
}

// HasRefreshToken reports whether the user currently has a refresh token on file.
func (u *User) HasRefreshToken() bool {
	return len(u.EncryptedRefreshToken) > 0
}

// Subscription is a per-(user,channel) row with its WebSub and polling facets.
type Subscription struct {
	ID        int64
	UserID    int64
	ChannelID string
	ChannelTitle string
	Included  bool
	CreatedAt time.Time

	// WebSub facet
	WebSubSubscribed  bool
	LeaseExpiresAt    *time.Time
	AttemptCount      int
	LastAttemptAt     *time.Time
	HubSecret         *string

	// Polling facet
	PollingEnabled   bool
	LastPolledAt     *time.Time
	LastPolledVideoID *string
}

// MaxWebSubAttempts is the attempt ceiling past which a subscription is
// dormant until an operator resets its attempt count.
const MaxWebSubAttempts = 5

// WebhookEvent is an append-until-processed row produced by the receiver or
// synthesized by the poller.
type WebhookEvent struct {
	ID          int64
	ChannelID   string
	VideoID     string
	Title       *string
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
	RawPayload  []byte
	Source      Source
}

// ProcessedVideo is the exactly-once ledger: at most one row per (user,
// video) with AddedToPlaylist true.
type ProcessedVideo struct {
	ID              int64
	UserID          int64
	VideoID         string
	ChannelID       string
	Title           *string
	ProcessedAt     time.Time
	AddedToPlaylist bool
	ErrorMessage    *string
	RetryCount      int
	Source          Source
}

// ApiQuotaUsage tracks request/cost-unit usage per (date, service), monotone
// within a day.
type ApiQuotaUsage struct {
	Date           time.Time
	ServiceName    string
	RequestsUsed   int64
	QuotaLimit     int64
	CostUnitsUsed  int64
	CostUnitLimit  int64
	LastUpdated    time.Time
}
