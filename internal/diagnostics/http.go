package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"autowatch/internal/db"
	"autowatch/internal/websub"
)

// Handler exposes the Reader's queries over HTTP: the read/operate surface
// the CLI client talks to.
type Handler struct {
	Reader        *Reader
	Subscriptions *db.SubscriptionRepository
	Manager       *websub.Manager
}

func NewHandler(r *Reader, subs *db.SubscriptionRepository, mgr *websub.Manager) *Handler {
	return &Handler{Reader: r, Subscriptions: subs, Manager: mgr}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/diagnostics/summary", h.handleSummary)
	mux.HandleFunc("/diagnostics/quota", h.handleQuota)
	mux.HandleFunc("/diagnostics/failed-jobs", h.handleFailedJobs)
	mux.HandleFunc("/diagnostics/unprocessed-events", h.handleUnprocessedEvents)
	mux.HandleFunc("/diagnostics/websub/renew", h.handleRenew)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reader.Summary(r.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	days := daysParam(r, 7)
	rows, err := h.Reader.QuotaUsage(r.Context(), time.Now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rows)
}

func (h *Handler) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	days := daysParam(r, 7)
	rows, err := h.Reader.FailedJobs(r.Context(), time.Now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rows)
}

func (h *Handler) handleUnprocessedEvents(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	rows, err := h.Reader.UnprocessedEvents(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rows)
}

// handleRenew triggers a manual WebSub renewal sweep, the operator escape
// hatch the CLI exposes, running the same Manager.Tick the scheduled loop
// calls.
func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.Manager.Tick(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func daysParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
