package websub

import (
	"context"
	"log/slog"
	"time"

	"autowatch/internal/corerr"
	"autowatch/internal/db"
	"autowatch/internal/models"
)

const (
	leaseSeconds      = 432000 // 5 days
	leaseSafetyMargin = time.Hour
)

// Manager runs the periodic lease subscribe/renew tick, selecting
// subscriptions needing attention and driving their WebSub facet state
// machine forward one step per tick.
type Manager struct {
	Subscriptions *db.SubscriptionRepository
	Hub           HubClient
	CallbackURL   string
	Log           *slog.Logger
}

// Tick runs one selection+attempt pass. Cancellation is honored between
// subscriptions, never mid-row.
func (m *Manager) Tick(ctx context.Context) error {
	now := time.Now()
	candidates, err := m.Subscriptions.SelectForWebSubAttention(ctx, now)
	if err != nil {
		return corerr.AsFatal(err)
	}

	m.Log.Info("websub manager tick", "candidates", len(candidates))

	for _, sub := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.attempt(ctx, sub, now)
	}
	return nil
}

func (m *Manager) attempt(ctx context.Context, sub *models.Subscription, now time.Time) {
	if sub.AttemptCount >= models.MaxWebSubAttempts {
		// DORMANT: filtered out until an operator resets attempt_count.
		return
	}

	secret := ""
	if sub.HubSecret != nil {
		secret = *sub.HubSecret
	}

	if err := m.Subscriptions.RecordWebSubAttempt(ctx, sub.ID, now); err != nil {
		m.Log.Error("recording websub attempt failed", "subscription", sub.ID, "err", err)
		return
	}

	err := m.Hub.Subscribe(sub.ChannelID, m.CallbackURL, leaseSeconds, secret)
	if err == nil {
		expiresAt := now.Add(time.Duration(leaseSeconds)*time.Second - leaseSafetyMargin)
		if err := m.Subscriptions.RecordWebSubSuccess(ctx, sub.ID, expiresAt); err != nil {
			m.Log.Error("recording websub success failed", "subscription", sub.ID, "err", err)
		}
		return
	}

	if corerr.Is(err, corerr.NotFound) {
		// Hub 410: reset to NEW so the next tick starts the handshake fresh.
		if rerr := m.Subscriptions.ResetToNew(ctx, sub.ID); rerr != nil {
			m.Log.Error("resetting subscription to new failed", "subscription", sub.ID, "err", rerr)
		}
		return
	}

	// Transient/Malformed: leave subscribed unchanged, attempt-count already
	// incremented; the selector will re-pick after backoff elapses.
	m.Log.Warn("websub subscribe attempt failed", "subscription", sub.ID, "channel", sub.ChannelID, "err", err)
}

// Unsubscribe is used when a channel is removed or its included flag flips
// false — the symmetric counterpart of subscribe.
func (m *Manager) Unsubscribe(ctx context.Context, sub *models.Subscription) error {
	if err := m.Hub.Unsubscribe(sub.ChannelID, m.CallbackURL); err != nil {
		return err
	}
	return m.Subscriptions.MarkUnsubscribed(ctx, sub.ID)
}
