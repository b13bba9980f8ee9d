// Package diagnostics is the operator read model: read-only aggregate
// queries, plus the idempotent quota upsert that belongs alongside them.
package diagnostics

import (
	"context"
	"time"

	"autowatch/internal/db"
	"autowatch/internal/models"
)

// Summary is the aggregate counters for the operator overview: active
// subscriptions, websub-subscribed count, recent failures, unprocessed
// events, processed-in-7-days, success rate, and webhook volume.
type Summary struct {
	ActiveSubscriptions    int     `json:"active_subscriptions"`
	WebSubSubscribed       int     `json:"websub_subscribed"`
	FailedJobsLast24h      int     `json:"failed_jobs_last_24h"`
	UnprocessedEventsLast24h int   `json:"unprocessed_events_last_24h"`
	ProcessedLast7Days     int     `json:"processed_last_7_days"`
	SuccessRateLast7Days   float64 `json:"success_rate_last_7_days"`
	WebhookEventsLast24h   int     `json:"webhook_events_last_24h"`
}

// Reader serves the read-only diagnostics queries over the shared
// repositories; it never mutates state except via UpsertQuota, which is
// itself an idempotent accumulate.
type Reader struct {
	Subscriptions   *db.SubscriptionRepository
	WebhookEvents   *db.WebhookEventRepository
	ProcessedVideos *db.ProcessedVideoRepository
	Quota           *db.QuotaRepository
}

func New(subs *db.SubscriptionRepository, events *db.WebhookEventRepository, pv *db.ProcessedVideoRepository, quota *db.QuotaRepository) *Reader {
	return &Reader{Subscriptions: subs, WebhookEvents: events, ProcessedVideos: pv, Quota: quota}
}

// Summary aggregates the operator-facing counters.
func (r *Reader) Summary(ctx context.Context, now time.Time) (*Summary, error) {
	active, err := r.Subscriptions.CountIncluded(ctx)
	if err != nil {
		return nil, err
	}
	subscribed, err := r.Subscriptions.CountWebSubActive(ctx, now)
	if err != nil {
		return nil, err
	}
	failed, err := r.ProcessedVideos.CountFailedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	unprocessed, err := r.WebhookEvents.CountUnprocessedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	processed7d, err := r.ProcessedVideos.CountTotalSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	added7d, err := r.ProcessedVideos.CountAddedSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	received24h, err := r.WebhookEvents.CountReceivedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	successRate := 0.0
	if processed7d > 0 {
		successRate = float64(added7d) / float64(processed7d)
	}

	return &Summary{
		ActiveSubscriptions:      active,
		WebSubSubscribed:         subscribed,
		FailedJobsLast24h:        failed,
		UnprocessedEventsLast24h: unprocessed,
		ProcessedLast7Days:       processed7d,
		SuccessRateLast7Days:     successRate,
		WebhookEventsLast24h:     received24h,
	}, nil
}

// QuotaUsage lists ApiQuotaUsage rows for the last N days.
func (r *Reader) QuotaUsage(ctx context.Context, since time.Time) ([]*models.ApiQuotaUsage, error) {
	return r.Quota.ListSince(ctx, since)
}

// FailedJobs lists ProcessedVideo rows with added=false for the last N days.
func (r *Reader) FailedJobs(ctx context.Context, since time.Time) ([]*models.ProcessedVideo, error) {
	return r.ProcessedVideos.ListFailedSince(ctx, since)
}

// UnprocessedEvents lists WebhookEvent rows still unprocessed within the
// last N hours.
func (r *Reader) UnprocessedEvents(ctx context.Context, since time.Time) ([]*models.WebhookEvent, error) {
	return r.WebhookEvents.ListUnprocessedSince(ctx, since)
}

// UpsertQuota idempotently accumulates today's usage for a service.
func (r *Reader) UpsertQuota(ctx context.Context, service string, addRequests, addCostUnits, quotaLimit, costUnitLimit int64, now time.Time) error {
	return r.Quota.Upsert(ctx, now, service, addRequests, addCostUnits, quotaLimit, costUnitLimit, now)
}
