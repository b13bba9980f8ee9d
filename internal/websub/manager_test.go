package websub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autowatch/internal/config"
	"autowatch/internal/corerr"
	"autowatch/internal/db"
	"autowatch/internal/models"
)

// fakeHub records subscribe calls and fails with a configurable error.
type fakeHub struct {
	subscribeCalls   int
	unsubscribeCalls int
	err              error
	lastSecret       string
}

func (f *fakeHub) Subscribe(channelID, callbackURL string, leaseSeconds int, secret string) error {
	f.subscribeCalls++
	f.lastSecret = secret
	return f.err
}

func (f *fakeHub) Unsubscribe(channelID, callbackURL string) error {
	f.unsubscribeCalls++
	return f.err
}

func openTestDB(t *testing.T) (*db.DB, *db.Repositories) {
	t.Helper()
	cfg := &config.Config{DatabaseProvider: config.ProviderSQLite}
	cfg.ConnectionStrings.Default = "file:" + filepath.Join(t.TempDir(), "test.db")
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, db.NewRepositories(conn)
}

func seedUser(t *testing.T, conn *db.DB) int64 {
	t.Helper()
	res, err := conn.Exec(`INSERT INTO users (encrypted_access_token, playlist_id) VALUES (?, ?)`,
		[]byte("enc"), "PL1")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedSubscription(t *testing.T, conn *db.DB, userID int64, channelID string) int64 {
	t.Helper()
	res, err := conn.Exec(`
		INSERT INTO subscriptions (user_id, channel_id, channel_title, included, created_at,
		                            websub_subscribed, attempt_count, polling_enabled)
		VALUES (?, ?, ?, 1, ?, 0, 0, 1)`,
		userID, channelID, "Test Channel", time.Now())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func newTestManager(repos *db.Repositories, hub HubClient) *Manager {
	return &Manager{
		Subscriptions: repos.Subscriptions,
		Hub:           hub,
		CallbackURL:   "https://example.org/webhook",
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func subscriptionState(t *testing.T, conn *db.DB, id int64) (subscribed bool, attempts int, lease *time.Time) {
	t.Helper()
	var leaseAt *time.Time
	err := conn.QueryRow(`SELECT websub_subscribed, attempt_count, lease_expires_at FROM subscriptions WHERE id = ?`, id).
		Scan(&subscribed, &attempts, &leaseAt)
	require.NoError(t, err)
	return subscribed, attempts, leaseAt
}

func TestTick_SuccessActivatesSubscription(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")

	hub := &fakeHub{}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))

	assert.Equal(t, 1, hub.subscribeCalls)
	subscribed, attempts, lease := subscriptionState(t, conn, subID)
	assert.True(t, subscribed)
	assert.Zero(t, attempts)
	require.NotNil(t, lease)
	// Lease is 5 days minus the safety margin.
	expected := time.Now().Add(432000*time.Second - time.Hour)
	assert.WithinDuration(t, expected, *lease, time.Minute)
}

func TestTick_FailureIncrementsAttempts(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")

	hub := &fakeHub{err: corerr.AsMalformed(fmt.Errorf("hub returned status 400"))}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))

	assert.Equal(t, 1, hub.subscribeCalls)
	subscribed, attempts, _ := subscriptionState(t, conn, subID)
	assert.False(t, subscribed)
	assert.Equal(t, 1, attempts)
}

// TestTick_BackoffGatesRetries drives a subscription whose hub always
// returns 400 through five attempts on a simulated clock: a retry is only
// ever attempted once 2^attempt minutes have elapsed, and the sixth tick
// makes no attempt at all.
func TestTick_BackoffGatesRetries(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")

	hub := &fakeHub{err: corerr.AsMalformed(fmt.Errorf("hub returned status 400"))}
	mgr := newTestManager(repos, hub)

	for want := 1; want <= models.MaxWebSubAttempts; want++ {
		require.NoError(t, mgr.Tick(context.Background()))
		assert.Equal(t, want, hub.subscribeCalls, "attempt %d", want)
		_, attempts, _ := subscriptionState(t, conn, subID)
		assert.Equal(t, want, attempts)

		// An immediate re-tick must not retry: the backoff window has not
		// elapsed yet.
		require.NoError(t, mgr.Tick(context.Background()))
		assert.Equal(t, want, hub.subscribeCalls, "backoff not yet elapsed after attempt %d", want)

		// Simulate 2^attempts minutes passing.
		backdate(t, conn, subID, time.Duration(1<<uint(want))*time.Minute)
	}

	// Attempts are at MAX with backoff elapsed: dormant, no further tries.
	require.NoError(t, mgr.Tick(context.Background()))
	assert.Equal(t, models.MaxWebSubAttempts, hub.subscribeCalls)
}

func backdate(t *testing.T, conn *db.DB, subID int64, by time.Duration) {
	t.Helper()
	var last time.Time
	require.NoError(t, conn.QueryRow(`SELECT last_attempt_at FROM subscriptions WHERE id = ?`, subID).Scan(&last))
	_, err := conn.Exec(`UPDATE subscriptions SET last_attempt_at = ? WHERE id = ?`, last.Add(-by), subID)
	require.NoError(t, err)
}

func TestTick_HubGoneResetsToNew(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")
	_, err := conn.Exec(`UPDATE subscriptions SET websub_subscribed = 1, lease_expires_at = ? WHERE id = ?`,
		time.Now().Add(time.Hour), subID)
	require.NoError(t, err)

	hub := &fakeHub{err: corerr.AsNotFound(fmt.Errorf("hub returned 410"))}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))

	subscribed, attempts, lease := subscriptionState(t, conn, subID)
	assert.False(t, subscribed)
	assert.Zero(t, attempts)
	assert.Nil(t, lease)
}

func TestTick_RenewalSelectedInsideWindow(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")
	_, err := conn.Exec(`UPDATE subscriptions SET websub_subscribed = 1, lease_expires_at = ? WHERE id = ?`,
		time.Now().Add(23*time.Hour), subID)
	require.NoError(t, err)

	hub := &fakeHub{}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))
	assert.Equal(t, 1, hub.subscribeCalls)
}

func TestTick_ActiveLeaseNotTouched(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")
	_, err := conn.Exec(`UPDATE subscriptions SET websub_subscribed = 1, lease_expires_at = ? WHERE id = ?`,
		time.Now().Add(48*time.Hour), subID)
	require.NoError(t, err)

	hub := &fakeHub{}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))
	assert.Zero(t, hub.subscribeCalls)
}

func TestTick_NotIncludedNotSelected(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")
	_, err := conn.Exec(`UPDATE subscriptions SET included = 0 WHERE id = ?`, subID)
	require.NoError(t, err)

	hub := &fakeHub{}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))
	assert.Zero(t, hub.subscribeCalls)
}

func TestTick_SecretPassedToHub(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")
	_, err := conn.Exec(`UPDATE subscriptions SET hub_secret = ? WHERE id = ?`, "s3cret", subID)
	require.NoError(t, err)

	hub := &fakeHub{}
	mgr := newTestManager(repos, hub)
	require.NoError(t, mgr.Tick(context.Background()))
	assert.Equal(t, "s3cret", hub.lastSecret)
}

func TestUnsubscribe(t *testing.T) {
	conn, repos := openTestDB(t)
	userID := seedUser(t, conn)
	subID := seedSubscription(t, conn, userID, "UCaaaaaaaaaaaaaaaaaaaaaa")
	_, err := conn.Exec(`UPDATE subscriptions SET websub_subscribed = 1, lease_expires_at = ? WHERE id = ?`,
		time.Now().Add(time.Hour), subID)
	require.NoError(t, err)

	hub := &fakeHub{}
	mgr := newTestManager(repos, hub)

	sub := &models.Subscription{ID: subID, ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa"}
	require.NoError(t, mgr.Unsubscribe(context.Background(), sub))

	assert.Equal(t, 1, hub.unsubscribeCalls)
	subscribed, _, lease := subscriptionState(t, conn, subID)
	assert.False(t, subscribed)
	assert.Nil(t, lease)
}
