package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"autowatch/internal/models"
)

// Repositories bundles the per-entity repositories every component needs.
// Constructed once at process start and passed by explicit handle, per this
// codebase's "dependency-injected scoped services" rework: background loops
// receive their handle once, HTTP handlers obtain short-lived DB use from
// the same pool.
type Repositories struct {
	Users           *UserRepository
	Subscriptions   *SubscriptionRepository
	WebhookEvents   *WebhookEventRepository
	ProcessedVideos *ProcessedVideoRepository
	Quota           *QuotaRepository
}

func NewRepositories(conn *DB) *Repositories {
	return &Repositories{
		Users:           &UserRepository{db: conn},
		Subscriptions:   &SubscriptionRepository{db: conn},
		WebhookEvents:   &WebhookEventRepository{db: conn},
		ProcessedVideos: &ProcessedVideoRepository{db: conn},
		Quota:           &QuotaRepository{db: conn},
	}
}

// ---------------------------------------------------------------- Users ---

type UserRepository struct{ db *DB }

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, encrypted_access_token, encrypted_refresh_token, access_token_expires_at,
		        playlist_id, automation_disabled, is_admin
		   FROM users WHERE id = ?`), id)
	return scanUser(row)
}

// SelectForRefresh returns users with a refresh token on file whose
// automation is enabled.
func (r *UserRepository) SelectForRefresh(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, encrypted_access_token, encrypted_refresh_token, access_token_expires_at,
		        playlist_id, automation_disabled, is_admin
		   FROM users
		  WHERE encrypted_refresh_token IS NOT NULL
		    AND length(encrypted_refresh_token) > 0
		    AND automation_disabled = 0`)
	if err != nil {
		return nil, fmt.Errorf("selecting users for refresh: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var expiresAt sql.NullTime
	var playlistID sql.NullString
	var automationDisabled, isAdmin bool
	if err := row.Scan(&u.ID, &u.EncryptedAccessToken, &u.EncryptedRefreshToken, &expiresAt,
		&playlistID, &automationDisabled, &isAdmin); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if expiresAt.Valid {
		u.AccessTokenExpiresAt = &expiresAt.Time
	}
	if playlistID.Valid {
		u.PlaylistID = &playlistID.String
	}
	u.AutomationDisabled = automationDisabled
	u.IsAdmin = isAdmin
	return &u, nil
}

// UpdateTokens persists a refreshed access token (and, if rotated, a new
// refresh token), clearing automation-disabled.
func (r *UserRepository) UpdateTokens(ctx context.Context, userID int64, encAccess []byte, encRefresh []byte, expiresAt time.Time) error {
	if encRefresh != nil {
		_, err := r.db.ExecContext(ctx, r.db.rebind(
			`UPDATE users SET encrypted_access_token = ?, encrypted_refresh_token = ?,
			        access_token_expires_at = ?, automation_disabled = 0 WHERE id = ?`),
			encAccess, encRefresh, expiresAt, userID)
		return err
	}
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE users SET encrypted_access_token = ?, access_token_expires_at = ?,
		        automation_disabled = 0 WHERE id = ?`),
		encAccess, expiresAt, userID)
	return err
}

// DisableAutomation sets the flag; the refresh token is never deleted even
// on repeated failure.
func (r *UserRepository) DisableAutomation(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE users SET automation_disabled = 1 WHERE id = ?`), userID)
	return err
}

// SetPlaylistID records the managed playlist created on bootstrap.
func (r *UserRepository) SetPlaylistID(ctx context.Context, userID int64, playlistID string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE users SET playlist_id = ? WHERE id = ?`), playlistID, userID)
	return err
}

// -------------------------------------------------------- Subscriptions ---

type SubscriptionRepository struct{ db *DB }

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	var leaseExpiresAt, lastAttemptAt, lastPolledAt sql.NullTime
	var hubSecret, lastPolledVideoID sql.NullString
	var included, websubSubscribed, pollingEnabled bool
	if err := row.Scan(&s.ID, &s.UserID, &s.ChannelID, &s.ChannelTitle, &included, &s.CreatedAt,
		&websubSubscribed, &leaseExpiresAt, &s.AttemptCount, &lastAttemptAt, &hubSecret,
		&pollingEnabled, &lastPolledAt, &lastPolledVideoID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning subscription: %w", err)
	}
	s.Included = included
	s.WebSubSubscribed = websubSubscribed
	s.PollingEnabled = pollingEnabled
	if leaseExpiresAt.Valid {
		s.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	if lastAttemptAt.Valid {
		s.LastAttemptAt = &lastAttemptAt.Time
	}
	if lastPolledAt.Valid {
		s.LastPolledAt = &lastPolledAt.Time
	}
	if hubSecret.Valid {
		s.HubSecret = &hubSecret.String
	}
	if lastPolledVideoID.Valid {
		s.LastPolledVideoID = &lastPolledVideoID.String
	}
	return &s, nil
}

const subscriptionColumns = `id, user_id, channel_id, channel_title, included, created_at,
	websub_subscribed, lease_expires_at, attempt_count, last_attempt_at, hub_secret,
	polling_enabled, last_polled_at, last_polled_video_id`

// SelectForWebSubAttention is the union selector for subscriptions needing
// WebSub attention:
//
//	(i)   included ∧ ¬subscribed ∧ no attempts yet
//	(ii)  included ∧ subscribed ∧ lease-expiry ≤ now + 24h ∧ no attempts yet
//	(iii) included ∧ attempt-count ∈ (0, MAX) ∧ backoff-elapsed
//
// A row with failed attempts on record is only ever re-picked through
// branch (iii), so the "last-attempt-at + 2^attempt-count minutes ≤ now"
// backoff gate applies to every retry.
func (r *SubscriptionRepository) SelectForWebSubAttention(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE included = 1 AND attempt_count = 0
		   AND (
		         websub_subscribed = 0
		      OR (websub_subscribed = 1 AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
		   )`), now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("selecting subscriptions needing attention: %w", err)
	}
	defer rows.Close()

	var candidates []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Backoff branch (iii) needs attempt_count-dependent arithmetic the SQL
	// above can't express portably across three dialects, so it's filtered
	// in Go against the same "elapsed ≥ 2^attempt minutes" rule.
	backoffRows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE included = 1 AND attempt_count > 0 AND attempt_count < ?`),
		models.MaxWebSubAttempts)
	if err != nil {
		return nil, fmt.Errorf("selecting backoff candidates: %w", err)
	}
	defer backoffRows.Close()

	seen := map[int64]bool{}
	for _, s := range candidates {
		seen[s.ID] = true
	}
	for backoffRows.Next() {
		s, err := scanSubscription(backoffRows)
		if err != nil {
			return nil, err
		}
		if seen[s.ID] {
			continue
		}
		if BackoffElapsed(s, now) {
			candidates = append(candidates, s)
			seen[s.ID] = true
		}
	}
	return candidates, backoffRows.Err()
}

// BackoffElapsed reports whether enough time has passed since the
// subscription's last attempt for another attempt to be permitted.
func BackoffElapsed(s *models.Subscription, now time.Time) bool {
	if s.LastAttemptAt == nil {
		return true
	}
	wait := time.Duration(1<<uint(s.AttemptCount)) * time.Minute
	return now.Sub(*s.LastAttemptAt) >= wait
}

func (r *SubscriptionRepository) RecordWebSubAttempt(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE subscriptions SET attempt_count = attempt_count + 1, last_attempt_at = ? WHERE id = ?`),
		now, id)
	return err
}

// RecordWebSubSuccess marks a subscription ACTIVE with a fresh lease and
// resets attempts, the transition on a 2xx hub response.
func (r *SubscriptionRepository) RecordWebSubSuccess(ctx context.Context, id int64, leaseExpiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE subscriptions SET websub_subscribed = 1, lease_expires_at = ?, attempt_count = 0 WHERE id = ?`),
		leaseExpiresAt, id)
	return err
}

// ResetToNew handles a hub 410, returning the subscription to NEW.
func (r *SubscriptionRepository) ResetToNew(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE subscriptions SET websub_subscribed = 0, lease_expires_at = NULL, attempt_count = 0 WHERE id = ?`),
		id)
	return err
}

func (r *SubscriptionRepository) MarkUnsubscribed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE subscriptions SET websub_subscribed = 0, lease_expires_at = NULL WHERE id = ?`), id)
	return err
}

// SelectForPolling selects subscriptions due for a fallback poll.
func (r *SubscriptionRepository) SelectForPolling(ctx context.Context, now time.Time, interval time.Duration) ([]*models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE included = 1 AND polling_enabled = 1
		   AND EXISTS (SELECT 1 FROM users u WHERE u.id = subscriptions.user_id
		               AND u.encrypted_access_token IS NOT NULL AND length(u.encrypted_access_token) > 0)
		   AND (
		         websub_subscribed = 0
		      OR (lease_expires_at IS NOT NULL AND lease_expires_at < ?)
		      OR last_polled_at IS NULL
		      OR last_polled_at < ?
		   )`), now, now.Add(-interval))
	if err != nil {
		return nil, fmt.Errorf("selecting subscriptions for polling: %w", err)
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SubscriptionRepository) UpdatePollingState(ctx context.Context, id int64, lastPolledVideoID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE subscriptions SET last_polled_video_id = ?, last_polled_at = ? WHERE id = ?`),
		lastPolledVideoID, now, id)
	return err
}

// HubSecretForChannel returns the first non-empty hub secret configured for
// any subscription to a channel, or "" if none was configured. All
// subscribers to one channel share the one hub topic, so any configured
// secret applies to the whole channel's notifications.
func (r *SubscriptionRepository) HubSecretForChannel(ctx context.Context, channelID string) (string, error) {
	var secret sql.NullString
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT hub_secret FROM subscriptions WHERE channel_id = ? AND hub_secret IS NOT NULL AND hub_secret != '' LIMIT 1`),
		channelID).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return secret.String, nil
}

// CountIncluded reports the number of active (included) subscriptions, for
// the diagnostics summary.
func (r *SubscriptionRepository) CountIncluded(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE included = 1`).Scan(&n)
	return n, err
}

// CountWebSubActive reports the number of subscriptions whose WebSub lease
// is still live (lease_expires_at > now), for the diagnostics summary.
func (r *SubscriptionRepository) CountWebSubActive(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM subscriptions WHERE websub_subscribed = 1 AND lease_expires_at > ?`),
		now).Scan(&n)
	return n, err
}

// FindSubscribingUsers is the fan-out join: all users subscribed+included
// to a channel, with automation enabled, a playlist, and an access token —
// loaded in one query to avoid the N+1 an ORM's lazy Subscription.User
// would otherwise cost.
func (r *SubscriptionRepository) FindSubscribingUsers(ctx context.Context, channelID string) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT u.id, u.encrypted_access_token, u.encrypted_refresh_token, u.access_token_expires_at,
		       u.playlist_id, u.automation_disabled, u.is_admin
		  FROM users u
		  JOIN subscriptions s ON s.user_id = u.id
		 WHERE s.channel_id = ? AND s.included = 1
		   AND u.automation_disabled = 0
		   AND u.playlist_id IS NOT NULL
		   AND u.encrypted_access_token IS NOT NULL AND length(u.encrypted_access_token) > 0`),
		channelID)
	if err != nil {
		return nil, fmt.Errorf("finding subscribing users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertSubscription inserts or updates a (user,channel) row on bootstrap
// sync; the WebSub/polling facets are left untouched if the row already
// exists (the renewal and polling loops recompute them, not bootstrap).
func (r *SubscriptionRepository) UpsertSubscription(ctx context.Context, userID int64, channelID, channelTitle string, now time.Time) error {
	existing, err := r.getByUserChannel(ctx, userID, channelID)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if existing != nil {
		_, err := r.db.ExecContext(ctx, r.db.rebind(
			`UPDATE subscriptions SET channel_title = ?, included = 1 WHERE id = ?`),
			channelTitle, existing.ID)
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO subscriptions (user_id, channel_id, channel_title, included, created_at,
		                            websub_subscribed, attempt_count, polling_enabled)
		VALUES (?, ?, ?, 1, ?, 0, 0, 1)`),
		userID, channelID, channelTitle, now)
	return err
}

func (r *SubscriptionRepository) getByUserChannel(ctx context.Context, userID int64, channelID string) (*models.Subscription, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ? AND channel_id = ?`),
		userID, channelID)
	return scanSubscription(row)
}

// -------------------------------------------------------- WebhookEvents ---

type WebhookEventRepository struct{ db *DB }

// Insert writes a new event, from either the webhook receiver or the
// fallback poller. title may be nil.
func (r *WebhookEventRepository) Insert(ctx context.Context, channelID, videoID string, title *string, rawPayload []byte, source models.Source, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO webhook_events (channel_id, video_id, title, received_at, processed, raw_payload, source)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		channelID, videoID, title, now, rawPayload, source)
	if err != nil {
		return fmt.Errorf("inserting webhook event: %w", err)
	}
	return nil
}

// ExistsForChannelVideo supports the poller's "if no WebhookEvent for
// (channel, video) already exists" guard.
func (r *WebhookEventRepository) ExistsForChannelVideo(ctx context.Context, channelID, videoID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM webhook_events WHERE channel_id = ? AND video_id = ?`),
		channelID, videoID).Scan(&n)
	return n > 0, err
}

// SelectUnprocessed returns unprocessed events in received-at order, the
// order the fan-out processor drains them in.
func (r *WebhookEventRepository) SelectUnprocessed(ctx context.Context) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, video_id, title, received_at, processed, processed_at, raw_payload, source
		  FROM webhook_events WHERE processed = 0 ORDER BY received_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("selecting unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		var title sql.NullString
		var processedAt sql.NullTime
		var processed bool
		var source string
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.VideoID, &title, &e.ReceivedAt, &processed,
			&processedAt, &e.RawPayload, &source); err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		if title.Valid {
			e.Title = &title.String
		}
		e.Processed = processed
		if processedAt.Valid {
			e.ProcessedAt = &processedAt.Time
		}
		e.Source = models.Source(source)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListUnprocessedSince lists unprocessed events received since a cutoff,
// for the diagnostics "unprocessed events" query.
func (r *WebhookEventRepository) ListUnprocessedSince(ctx context.Context, since time.Time) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, channel_id, video_id, title, received_at, processed, processed_at, raw_payload, source
		  FROM webhook_events WHERE processed = 0 AND received_at >= ? ORDER BY received_at ASC`), since)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		var title sql.NullString
		var processedAt sql.NullTime
		var processed bool
		var source string
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.VideoID, &title, &e.ReceivedAt, &processed,
			&processedAt, &e.RawPayload, &source); err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		if title.Valid {
			e.Title = &title.String
		}
		e.Processed = processed
		if processedAt.Valid {
			e.ProcessedAt = &processedAt.Time
		}
		e.Source = models.Source(source)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE webhook_events SET processed = 1, processed_at = ? WHERE id = ?`), now, id)
	return err
}

func (r *WebhookEventRepository) CountReceivedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM webhook_events WHERE received_at >= ?`), since).Scan(&n)
	return n, err
}

func (r *WebhookEventRepository) CountUnprocessedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM webhook_events WHERE processed = 0 AND received_at >= ?`), since).Scan(&n)
	return n, err
}

// ------------------------------------------------------ ProcessedVideos ---

type ProcessedVideoRepository struct{ db *DB }

// ExistsForUserVideo is the exactly-once guard: the presence of ANY row for
// (user, video) counts as already attempted.
func (r *ProcessedVideoRepository) ExistsForUserVideo(ctx context.Context, userID int64, videoID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM processed_videos WHERE user_id = ? AND video_id = ?`),
		userID, videoID).Scan(&n)
	return n > 0, err
}

func (r *ProcessedVideoRepository) Insert(ctx context.Context, pv *models.ProcessedVideo) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO processed_videos (user_id, video_id, channel_id, title, processed_at,
		                               added_to_playlist, error_message, retry_count, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		pv.UserID, pv.VideoID, pv.ChannelID, pv.Title, pv.ProcessedAt,
		pv.AddedToPlaylist, pv.ErrorMessage, pv.RetryCount, pv.Source)
	if err != nil {
		return fmt.Errorf("inserting processed video: %w", err)
	}
	return nil
}

// CountFailedSince reports the number of failed (added=false) rows since a
// cutoff, for the diagnostics summary's "recent failed jobs" counter.
func (r *ProcessedVideoRepository) CountFailedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM processed_videos WHERE added_to_playlist = 0 AND processed_at >= ?`),
		since).Scan(&n)
	return n, err
}

func (r *ProcessedVideoRepository) CountAddedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM processed_videos WHERE added_to_playlist = 1 AND processed_at >= ?`),
		since).Scan(&n)
	return n, err
}

func (r *ProcessedVideoRepository) CountTotalSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM processed_videos WHERE processed_at >= ?`), since).Scan(&n)
	return n, err
}

// ListFailedSince supports the diagnostics "failed jobs" query.
func (r *ProcessedVideoRepository) ListFailedSince(ctx context.Context, since time.Time) ([]*models.ProcessedVideo, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, user_id, video_id, channel_id, title, processed_at, added_to_playlist,
		       error_message, retry_count, source
		  FROM processed_videos WHERE added_to_playlist = 0 AND processed_at >= ?
		 ORDER BY processed_at DESC`), since)
	if err != nil {
		return nil, fmt.Errorf("listing failed jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ProcessedVideo
	for rows.Next() {
		pv, err := scanProcessedVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}

func scanProcessedVideo(rows *sql.Rows) (*models.ProcessedVideo, error) {
	var pv models.ProcessedVideo
	var title, errMsg sql.NullString
	var added bool
	var source string
	if err := rows.Scan(&pv.ID, &pv.UserID, &pv.VideoID, &pv.ChannelID, &title, &pv.ProcessedAt,
		&added, &errMsg, &pv.RetryCount, &source); err != nil {
		return nil, fmt.Errorf("scanning processed video: %w", err)
	}
	if title.Valid {
		pv.Title = &title.String
	}
	if errMsg.Valid {
		pv.ErrorMessage = &errMsg.String
	}
	pv.AddedToPlaylist = added
	pv.Source = models.Source(source)
	return &pv, nil
}

// ----------------------------------------------------------------- Quota ---

type QuotaRepository struct{ db *DB }

// Upsert idempotently accumulates today's usage for a service.
func (r *QuotaRepository) Upsert(ctx context.Context, date time.Time, service string, addRequests, addCostUnits int64, quotaLimit, costUnitLimit int64, now time.Time) error {
	day := date.Truncate(24 * time.Hour)
	var exists int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM api_quota_usage WHERE usage_date = ? AND service_name = ?`),
		day, service).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking quota row: %w", err)
	}
	if exists > 0 {
		_, err := r.db.ExecContext(ctx, r.db.rebind(`
			UPDATE api_quota_usage SET requests_used = requests_used + ?, cost_units_used = cost_units_used + ?,
			       last_updated = ? WHERE usage_date = ? AND service_name = ?`),
			addRequests, addCostUnits, now, day, service)
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO api_quota_usage (usage_date, service_name, requests_used, quota_limit,
		                              cost_units_used, cost_unit_limit, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		day, service, addRequests, quotaLimit, addCostUnits, costUnitLimit, now)
	return err
}

func (r *QuotaRepository) ListSince(ctx context.Context, since time.Time) ([]*models.ApiQuotaUsage, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT usage_date, service_name, requests_used, quota_limit, cost_units_used, cost_unit_limit, last_updated
		  FROM api_quota_usage WHERE usage_date >= ? ORDER BY usage_date DESC`), since)
	if err != nil {
		return nil, fmt.Errorf("listing quota usage: %w", err)
	}
	defer rows.Close()

	var out []*models.ApiQuotaUsage
	for rows.Next() {
		var q models.ApiQuotaUsage
		if err := rows.Scan(&q.Date, &q.ServiceName, &q.RequestsUsed, &q.QuotaLimit,
			&q.CostUnitsUsed, &q.CostUnitLimit, &q.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning quota row: %w", err)
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}
