// Package webhook implements the notification receiver: a single
// HTTP path serving hub-challenge verification GETs and Atom notification
// POSTs, with permissive CORS headers on every response.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autowatch/internal/db"
	"autowatch/internal/feed"
	"autowatch/internal/models"
)

// maxBodySize caps the POST body the receiver reads at a generous size.
const maxBodySize = 1 << 20

// platformHost is checked against hub.topic on verification GETs.
const platformHost = "youtube.com"

// Receiver owns the two HTTP handlers: hub-challenge verification and
// notification delivery.
type Receiver struct {
	Events        *db.WebhookEventRepository
	Subscriptions *db.SubscriptionRepository
	Log           *slog.Logger
}

// ServeHTTP dispatches by method. CORS headers are applied to every response.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Hub-Signature")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch req.Method {
	case http.MethodGet:
		r.handleVerification(w, req)
	case http.MethodPost:
		r.handleNotification(w, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers a hub-challenge GET: 200 echoing hub.challenge
// if mode+challenge are present and topic is absent or contains the
// platform host; 400 otherwise. No database writes.
func (r *Receiver) handleVerification(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	mode := q.Get("hub.mode")
	challenge := q.Get("hub.challenge")
	topic := q.Get("hub.topic")

	if mode == "" || challenge == "" {
		http.Error(w, "missing hub.mode or hub.challenge", http.StatusBadRequest)
		return
	}
	if topic != "" && !strings.Contains(topic, platformHost) {
		http.Error(w, "hub.topic does not reference the platform", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleNotification parses an inbound Atom notification and durably
// enqueues it. Parsing and insertion are synchronous with the HTTP response
// so the hub's at-least-once retry semantics (a 5xx reply triggers a retry)
// are preserved — this handler never returns before the row is written or
// the reason it can't be.
func (r *Receiver) handleNotification(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}

	entry, err := feed.Parse(body)
	if err != nil {
		// Malformed XML or missing ids → 500, intentionally, so the hub
		// retries.
		r.Log.Warn("malformed webhook notification", "err", err)
		http.Error(w, "malformed notification", http.StatusInternalServerError)
		return
	}

	if secret := r.secretFor(req.Context(), entry.ChannelID); secret != "" {
		if !validSignature(req.Header.Get("X-Hub-Signature"), secret, body) {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	var title *string
	if entry.Title != "" {
		title = &entry.Title
	}

	err = r.Events.Insert(req.Context(), entry.ChannelID, entry.VideoID, title, body, models.SourceWebhook, time.Now())
	if err != nil {
		r.Log.Error("inserting webhook event failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// secretFor looks up the per-subscription HMAC secret, if any was
// configured at subscribe time, to verify X-Hub-Signature. Verification is
// never required: a channel with no configured secret is accepted
// unverified, giving callers an opt-in signature-verification path.
func (r *Receiver) secretFor(ctx context.Context, channelID string) string {
	secret, err := r.Subscriptions.HubSecretForChannel(ctx, channelID)
	if err != nil {
		return ""
	}
	return secret
}

func validSignature(header, secret string, body []byte) bool {
	const prefix = "sha1="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(header, prefix)), []byte(expected))
}
