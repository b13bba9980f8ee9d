package diagnostics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autowatch/internal/config"
	"autowatch/internal/db"
	"autowatch/internal/models"
	"autowatch/internal/websub"
)

type noopHub struct{ subscribeCalls int }

func (h *noopHub) Subscribe(channelID, callbackURL string, leaseSeconds int, secret string) error {
	h.subscribeCalls++
	return nil
}

func (h *noopHub) Unsubscribe(channelID, callbackURL string) error { return nil }

func newFixture(t *testing.T) (*db.DB, *db.Repositories, *Reader) {
	t.Helper()
	cfg := &config.Config{DatabaseProvider: config.ProviderSQLite}
	cfg.ConnectionStrings.Default = "file:" + filepath.Join(t.TempDir(), "test.db")
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	repos := db.NewRepositories(conn)
	return conn, repos, New(repos.Subscriptions, repos.WebhookEvents, repos.ProcessedVideos, repos.Quota)
}

func seed(t *testing.T, conn *db.DB, repos *db.Repositories, now time.Time) {
	t.Helper()
	ctx := context.Background()

	_, err := conn.Exec(`INSERT INTO users (encrypted_access_token, playlist_id) VALUES (?, ?)`, []byte("enc"), "PL1")
	require.NoError(t, err)

	// Two included subscriptions, one with a live lease; one excluded.
	_, err = conn.Exec(`
		INSERT INTO subscriptions (user_id, channel_id, channel_title, included, created_at, websub_subscribed, lease_expires_at, attempt_count, polling_enabled)
		VALUES (1, 'CH1', 'A', 1, ?, 1, ?, 0, 1),
		       (1, 'CH2', 'B', 1, ?, 0, NULL, 0, 1),
		       (1, 'CH3', 'C', 0, ?, 0, NULL, 0, 1)`,
		now, now.Add(48*time.Hour), now, now)
	require.NoError(t, err)

	title := "Hello"
	require.NoError(t, repos.WebhookEvents.Insert(ctx, "CH1", "VID1", &title, nil, models.SourceWebhook, now.Add(-time.Hour)))
	require.NoError(t, repos.WebhookEvents.Insert(ctx, "CH2", "VID2", &title, nil, models.SourceWebhook, now.Add(-2*time.Hour)))

	// Three outcomes over the last week: two added, one failed.
	msg := "quota exceeded"
	require.NoError(t, repos.ProcessedVideos.Insert(ctx, &models.ProcessedVideo{
		UserID: 1, VideoID: "VID3", ChannelID: "CH1", ProcessedAt: now.Add(-time.Hour), AddedToPlaylist: true, Source: models.SourceWebhook,
	}))
	require.NoError(t, repos.ProcessedVideos.Insert(ctx, &models.ProcessedVideo{
		UserID: 1, VideoID: "VID4", ChannelID: "CH1", ProcessedAt: now.Add(-3*24*time.Hour), AddedToPlaylist: true, Source: models.SourcePolling,
	}))
	require.NoError(t, repos.ProcessedVideos.Insert(ctx, &models.ProcessedVideo{
		UserID: 1, VideoID: "VID5", ChannelID: "CH2", ProcessedAt: now.Add(-2*time.Hour), AddedToPlaylist: false, ErrorMessage: &msg, Source: models.SourceWebhook,
	}))
}

func TestSummary(t *testing.T) {
	conn, repos, reader := newFixture(t)
	now := time.Now()
	seed(t, conn, repos, now)

	s, err := reader.Summary(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, s.ActiveSubscriptions)
	assert.Equal(t, 1, s.WebSubSubscribed)
	assert.Equal(t, 1, s.FailedJobsLast24h)
	assert.Equal(t, 2, s.UnprocessedEventsLast24h)
	assert.Equal(t, 3, s.ProcessedLast7Days)
	assert.InDelta(t, 2.0/3.0, s.SuccessRateLast7Days, 0.001)
	assert.Equal(t, 2, s.WebhookEventsLast24h)
}

func TestSummary_EmptyDatabase(t *testing.T) {
	_, _, reader := newFixture(t)

	s, err := reader.Summary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, s.ActiveSubscriptions)
	assert.Zero(t, s.SuccessRateLast7Days)
}

func TestFailedJobs(t *testing.T) {
	conn, repos, reader := newFixture(t)
	now := time.Now()
	seed(t, conn, repos, now)

	rows, err := reader.FailedJobs(context.Background(), now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "VID5", rows[0].VideoID)
	require.NotNil(t, rows[0].ErrorMessage)
}

func TestUnprocessedEvents(t *testing.T) {
	conn, repos, reader := newFixture(t)
	now := time.Now()
	seed(t, conn, repos, now)

	rows, err := reader.UnprocessedEvents(context.Background(), now.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "VID1", rows[0].VideoID)
}

func TestUpsertQuota_Idempotent(t *testing.T) {
	_, _, reader := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	require.NoError(t, reader.UpsertQuota(ctx, "youtube", 1, 100, 10000, 10000, now))
	require.NoError(t, reader.UpsertQuota(ctx, "youtube", 1, 100, 10000, 10000, now.Add(time.Minute)))

	rows, err := reader.QuotaUsage(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].RequestsUsed)
	assert.Equal(t, int64(200), rows[0].CostUnitsUsed)
}

func TestHandler_SummaryEndpoint(t *testing.T) {
	conn, repos, reader := newFixture(t)
	now := time.Now()
	seed(t, conn, repos, now)

	mux := http.NewServeMux()
	NewHandler(reader, repos.Subscriptions, nil).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/diagnostics/summary", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var s Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 2, s.ActiveSubscriptions)
}

func TestHandler_RenewTriggersSweep(t *testing.T) {
	conn, repos, reader := newFixture(t)
	now := time.Now()
	seed(t, conn, repos, now)

	hub := &noopHub{}
	mgr := &websub.Manager{
		Subscriptions: repos.Subscriptions,
		Hub:           hub,
		CallbackURL:   "https://example.org/webhook",
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	mux := http.NewServeMux()
	NewHandler(reader, repos.Subscriptions, mgr).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/diagnostics/websub/renew", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// CH2 is included but not subscribed; CH1's lease is live, CH3 excluded.
	assert.Equal(t, 1, hub.subscribeCalls)
}

func TestHandler_RenewRejectsGet(t *testing.T) {
	_, repos, reader := newFixture(t)

	mux := http.NewServeMux()
	NewHandler(reader, repos.Subscriptions, nil).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/diagnostics/websub/renew", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
