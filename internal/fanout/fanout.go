// Package fanout implements the fan-out processor: it drains
// the WebhookEvent queue, joins each event to its subscribing users,
// enforces per-(user,video) exactly-once, calls the platform client to
// insert the video into each user's managed playlist, and records the
// outcome.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"autowatch/internal/corerr"
	"autowatch/internal/db"
	"autowatch/internal/models"
	"autowatch/internal/platform"
	"autowatch/internal/vault"
)

// insertMaxAttempts bounds the insert_playlist_item retry policy: 3
// attempts, 2^n seconds, for Transient errors only. Unauthorized propagates
// immediately.
const insertMaxAttempts = 3

// Processor runs the periodic or signaled fan-out tick.
type Processor struct {
	Events          *db.WebhookEventRepository
	Subscriptions   *db.SubscriptionRepository
	ProcessedVideos *db.ProcessedVideoRepository
	Vault           *vault.Vault
	Platform        platform.Client
	Log             *slog.Logger

	// sleep is overridable in tests so the retry backoff doesn't actually
	// block test runs for seconds.
	sleep func(time.Duration)
}

func New(events *db.WebhookEventRepository, subs *db.SubscriptionRepository, pv *db.ProcessedVideoRepository, v *vault.Vault, p platform.Client, log *slog.Logger) *Processor {
	return &Processor{
		Events:          events,
		Subscriptions:   subs,
		ProcessedVideos: pv,
		Vault:           v,
		Platform:        p,
		Log:             log,
		sleep:           time.Sleep,
	}
}

// Tick drains every unprocessed event in received-at order: per channel,
// WebhookEvents are processed oldest first.
func (p *Processor) Tick(ctx context.Context) error {
	events, err := p.Events.SelectUnprocessed(ctx)
	if err != nil {
		return corerr.AsFatal(err)
	}

	p.Log.Info("fan-out tick", "events", len(events))

	for _, ev := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.processEvent(ctx, ev)
	}
	return nil
}

func (p *Processor) processEvent(ctx context.Context, ev *models.WebhookEvent) {
	now := time.Now()

	users, err := p.Subscriptions.FindSubscribingUsers(ctx, ev.ChannelID)
	if err != nil {
		// A selection failure must not wedge the queue forever; log and move
		// on, leaving the event unprocessed so the next tick retries it.
		p.Log.Error("finding subscribing users failed", "channel", ev.ChannelID, "err", err)
		return
	}

	source := ev.Source
	if source == "" {
		source = models.SourceWebhook
	}

	for _, u := range users {
		p.processUser(ctx, u, ev, source, now)
	}

	if err := p.Events.MarkProcessed(ctx, ev.ID, now); err != nil {
		p.Log.Error("marking event processed failed", "event", ev.ID, "err", err)
	}
}

// processUser skips if already attempted, inserts with retry, and records
// the outcome. A per-user failure is caught and recorded, never halting the
// remaining users.
func (p *Processor) processUser(ctx context.Context, u *models.User, ev *models.WebhookEvent, source models.Source, now time.Time) {
	exists, err := p.ProcessedVideos.ExistsForUserVideo(ctx, u.ID, ev.VideoID)
	if err != nil {
		p.Log.Error("checking processed-video existence failed", "user", u.ID, "video", ev.VideoID, "err", err)
		return
	}
	if exists {
		// Exactly-once: the presence of ANY row counts as already attempted.
		return
	}

	accessToken, err := p.Vault.Decrypt(u.EncryptedAccessToken)
	if err != nil {
		p.recordFailure(ctx, u, ev, source, now, 0, err)
		return
	}

	attempts, insertErr := p.insertWithRetry(ctx, string(accessToken), *u.PlaylistID, ev.VideoID)
	if insertErr != nil {
		switch corerr.ClassOf(insertErr) {
		case corerr.QuotaExceeded:
			// Deliberate: recorded, event still marked processed by the
			// caller, no requeue — the next day's poller re-discovers it.
			p.recordFailure(ctx, u, ev, source, now, attempts, insertErr)
		case corerr.NotFound:
			// Video 404: mark processed with added=false, no retry.
			p.recordFailure(ctx, u, ev, source, now, attempts, insertErr)
		case corerr.Unauthorized:
			// Signals the refresh loop's next tick; fan-out does not trigger
			// a refresh directly.
			p.recordFailure(ctx, u, ev, source, now, attempts, insertErr)
		default:
			p.recordFailure(ctx, u, ev, source, now, attempts, insertErr)
		}
		return
	}

	p.recordSuccess(ctx, u, ev, source, now, attempts)
}

// insertWithRetry makes at most insertMaxAttempts calls, retrying only on
// Transient, waiting 2^n seconds between attempts.
func (p *Processor) insertWithRetry(ctx context.Context, accessToken, playlistID, videoID string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < insertMaxAttempts; attempt++ {
		err := p.Platform.InsertPlaylistItem(ctx, accessToken, playlistID, videoID)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		if !corerr.Is(err, corerr.Transient) {
			return attempt + 1, err
		}
		if attempt < insertMaxAttempts-1 {
			p.sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return insertMaxAttempts, lastErr
}

func (p *Processor) recordSuccess(ctx context.Context, u *models.User, ev *models.WebhookEvent, source models.Source, now time.Time, attempts int) {
	pv := &models.ProcessedVideo{
		UserID:          u.ID,
		VideoID:         ev.VideoID,
		ChannelID:       ev.ChannelID,
		Title:           ev.Title,
		ProcessedAt:     now,
		AddedToPlaylist: true,
		RetryCount:      attempts,
		Source:          source,
	}
	if err := p.ProcessedVideos.Insert(ctx, pv); err != nil {
		p.Log.Error("recording processed video failed", "user", u.ID, "video", ev.VideoID, "err", err)
	}
}

func (p *Processor) recordFailure(ctx context.Context, u *models.User, ev *models.WebhookEvent, source models.Source, now time.Time, attempts int, cause error) {
	msg := cause.Error()
	pv := &models.ProcessedVideo{
		UserID:          u.ID,
		VideoID:         ev.VideoID,
		ChannelID:       ev.ChannelID,
		Title:           ev.Title,
		ProcessedAt:     now,
		AddedToPlaylist: false,
		ErrorMessage:    &msg,
		RetryCount:      attempts,
		Source:          source,
	}
	if err := p.ProcessedVideos.Insert(ctx, pv); err != nil {
		p.Log.Error("recording failed video failed", "user", u.ID, "video", ev.VideoID, "err", err)
	}
	p.Log.Warn("playlist insert failed", "user", u.ID, "video", ev.VideoID, "err", cause)
}
