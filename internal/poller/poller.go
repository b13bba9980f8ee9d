// Package poller implements the fallback poller: for channels
// whose push channel is broken or stale, it searches the platform for
// recent videos and synthesizes equivalent queued events, writing into the
// same event queue the webhook receiver feeds so downstream fan-out logic
// is identical.
package poller

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"autowatch/internal/corerr"
	"autowatch/internal/db"
	"autowatch/internal/models"
	"autowatch/internal/platform"
	"autowatch/internal/vault"
)

// lookbackWindow and maxResults bound how far back and how many videos a
// single poll considers.
const (
	lookbackWindow = 7 * 24 * time.Hour
	maxResults     = 10
)

// interChannelSleep spreads load across channels, one second between each;
// an informal rate limiter for the heaviest quota consumer.
const interChannelSleep = 1 * time.Second

// Poller runs the periodic polling tick.
type Poller struct {
	Subscriptions *db.SubscriptionRepository
	Events        *db.WebhookEventRepository
	Users         *db.UserRepository
	Vault         *vault.Vault
	Platform      platform.Client
	Log           *slog.Logger
	Interval      time.Duration

	sleep func(time.Duration)
}

func New(subs *db.SubscriptionRepository, events *db.WebhookEventRepository, users *db.UserRepository, v *vault.Vault, p platform.Client, log *slog.Logger, interval time.Duration) *Poller {
	return &Poller{
		Subscriptions: subs,
		Events:        events,
		Users:         users,
		Vault:         v,
		Platform:      p,
		Log:           log,
		Interval:      interval,
		sleep:         time.Sleep,
	}
}

// Tick selects subscriptions needing a poll and walks each one's recent
// uploads, synthesizing WebhookEvents for anything new. Cancellation is
// honored between channels.
func (p *Poller) Tick(ctx context.Context) error {
	now := time.Now()
	candidates, err := p.Subscriptions.SelectForPolling(ctx, now, p.Interval)
	if err != nil {
		return corerr.AsFatal(err)
	}

	p.Log.Info("fallback poller tick", "candidates", len(candidates))

	for i, sub := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.pollOne(ctx, sub, now)
		if i < len(candidates)-1 {
			p.sleep(interChannelSleep)
		}
	}
	return nil
}

func (p *Poller) pollOne(ctx context.Context, sub *models.Subscription, now time.Time) {
	user, err := p.userAccessToken(ctx, sub)
	if err != nil {
		p.Log.Warn("poller: decrypting access token failed", "subscription", sub.ID, "err", err)
		return
	}

	since := now.Add(-lookbackWindow)
	videos, err := p.Platform.SearchChannelRecent(ctx, user, sub.ChannelID, since)
	if err != nil {
		p.Log.Warn("poller: search_channel_recent failed", "channel", sub.ChannelID, "err", err)
		return
	}
	if len(videos) > maxResults {
		videos = videos[:maxResults]
	}

	// Oldest-first: ordered by published-at ascending.
	sort.Slice(videos, func(i, j int) bool { return videos[i].PublishedAt.Before(videos[j].PublishedAt) })

	lastSeen := ""
	if sub.LastPolledVideoID != nil {
		lastSeen = *sub.LastPolledVideoID
	}

	// Everything up to and including last-polled-video-id was already queued
	// on a prior poll; the walk resumes just past it. A last-seen video that
	// has aged out of the window restarts the walk from the oldest result.
	start := 0
	if lastSeen != "" {
		for i, v := range videos {
			if v.VideoID == lastSeen {
				start = i + 1
				break
			}
		}
	}

	latestVideoID := lastSeen
	for _, v := range videos[start:] {
		exists, err := p.Events.ExistsForChannelVideo(ctx, sub.ChannelID, v.VideoID)
		if err != nil {
			p.Log.Error("poller: checking event existence failed", "channel", sub.ChannelID, "video", v.VideoID, "err", err)
			continue
		}
		if exists {
			// Already queued, e.g. by the webhook receiver — dedup against
			// the shared queue.
			latestVideoID = v.VideoID
			continue
		}

		title := v.Title
		if err := p.Events.Insert(ctx, sub.ChannelID, v.VideoID, &title, nil, models.SourcePolling, now); err != nil {
			p.Log.Error("poller: synthesizing event failed", "channel", sub.ChannelID, "video", v.VideoID, "err", err)
			continue
		}
		latestVideoID = v.VideoID
	}

	if latestVideoID != "" {
		if err := p.Subscriptions.UpdatePollingState(ctx, sub.ID, latestVideoID, now); err != nil {
			p.Log.Error("poller: updating polling state failed", "subscription", sub.ID, "err", err)
		}
	} else if err := p.Subscriptions.UpdatePollingState(ctx, sub.ID, lastSeen, now); err != nil {
		p.Log.Error("poller: updating last-polled-at failed", "subscription", sub.ID, "err", err)
	}
}

// userAccessToken loads and decrypts the owning user's access token.
// SelectForPolling already filters to subscriptions whose owning user has
// one on file.
func (p *Poller) userAccessToken(ctx context.Context, sub *models.Subscription) (string, error) {
	u, err := p.Users.GetByID(ctx, sub.UserID)
	if err != nil {
		return "", err
	}
	token, err := p.Vault.Decrypt(u.EncryptedAccessToken)
	if err != nil {
		return "", err
	}
	return string(token), nil
}
