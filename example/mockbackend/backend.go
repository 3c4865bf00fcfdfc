// Package mockbackend is a compliance dashboard backend for demos and manual
// testing. It serves the health endpoint and the five dashboard endpoints with
// data that drifts over time, and supports marking notifications read.
package mockbackend

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type notification struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Severity string    `json:"severity"`
	Read     bool      `json:"read"`
	Created  time.Time `json:"created_at"`
}

type document struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Framework string    `json:"framework"`
	Status    string    `json:"status"`
	Updated   time.Time `json:"updated_at"`
}

// Backend holds the mock dashboard state.
type Backend struct {
	logger *slog.Logger

	mu            sync.Mutex
	score         float64
	healthStatus  string
	outageUntil   time.Time
	nextChange    time.Time
	documents     []document
	notifications []notification
}

// New creates a Backend with seeded demo data.
func New(logger *slog.Logger) *Backend {
	now := time.Now()
	return &Backend{
		logger:       logger,
		score:        78,
		healthStatus: "healthy",
		nextChange:   now.Add(randomDelay()),
		documents: []document{
			{1, "Access Control Policy", "SOC 2", "approved", now.Add(-72 * time.Hour)},
			{2, "Incident Response Plan", "ISO 27001", "in_review", now.Add(-30 * time.Hour)},
			{3, "Vendor Risk Assessment", "SOC 2", "draft", now.Add(-5 * time.Hour)},
			{4, "Data Retention Policy", "GDPR", "approved", now.Add(-240 * time.Hour)},
		},
		notifications: []notification{
			{1, "Evidence due for CC6.1", "high", false, now.Add(-2 * time.Hour)},
			{2, "Policy review overdue", "medium", false, now.Add(-26 * time.Hour)},
			{3, "New auditor comment", "low", true, now.Add(-50 * time.Hour)},
		},
	}
}

// randomDelay returns the time until the next health transition, 20-60s.
func randomDelay() time.Duration {
	return time.Duration(20+rand.IntN(41)) * time.Second
}

// Handler returns the backend's HTTP routes.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", b.handleHealth)
	mux.HandleFunc("GET /api/dashboard/overview", b.guard(b.handleOverview))
	mux.HandleFunc("GET /api/dashboard/documents", b.guard(b.handleDocuments))
	mux.HandleFunc("GET /api/dashboard/notifications", b.guard(b.handleNotifications))
	mux.HandleFunc("GET /api/dashboard/timeline", b.guard(b.handleTimeline))
	mux.HandleFunc("GET /api/dashboard/analytics", b.guard(b.handleAnalytics))
	mux.HandleFunc("PUT /api/dashboard/notifications/{id}/read", b.guard(b.handleMarkRead))
	return mux
}

// advance moves the health state machine forward. Callers hold b.mu.
func (b *Backend) advance(now time.Time) {
	if b.healthStatus == "down" && !now.Before(b.outageUntil) {
		b.healthStatus = "healthy"
		b.logger.Info("health change", "from", "down", "to", b.healthStatus)
	}
	if now.Before(b.nextChange) {
		return
	}
	b.nextChange = now.Add(randomDelay())

	old := b.healthStatus
	switch old {
	case "healthy":
		b.healthStatus = "degraded"
	case "degraded":
		// short outage, then recover
		b.healthStatus = "down"
		b.outageUntil = now.Add(10 * time.Second)
	default:
		return
	}
	b.logger.Info("health change", "from", old, "to", b.healthStatus)
}

func (b *Backend) down(now time.Time) bool {
	return b.healthStatus == "down" && now.Before(b.outageUntil)
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	b.mu.Lock()
	b.advance(now)
	status, down := b.healthStatus, b.down(now)
	b.mu.Unlock()

	if down {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// guard rejects data requests during an outage.
func (b *Backend) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.IntN(80)) * time.Millisecond)

		b.mu.Lock()
		down := b.down(time.Now())
		b.mu.Unlock()

		if down {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "Service unavailable"})
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleOverview(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.score = min(100, max(0, b.score+rand.Float64()*2-0.8))
	score := b.score
	unread := 0
	for _, n := range b.notifications {
		if !n.Read {
			unread++
		}
	}
	docs := len(b.documents)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"compliance_score":     float64(int(score*10)) / 10,
			"total_documents":      docs,
			"unread_notifications": unread,
			"frameworks":           []string{"SOC 2", "ISO 27001", "GDPR"},
		},
	})
}

func (b *Backend) handleDocuments(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	docs := append([]document(nil), b.documents...)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": docs})
}

func (b *Backend) handleNotifications(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	notes := append([]notification(nil), b.notifications...)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": notes})
}

func (b *Backend) handleTimeline(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "days must be between 1 and 365"})
			return
		}
		days = n
	}

	b.mu.Lock()
	score := b.score
	b.mu.Unlock()

	today := time.Now().Truncate(24 * time.Hour)
	points := make([]map[string]any, 0, days)
	for i := days - 1; i >= 0; i-- {
		points = append(points, map[string]any{
			"date":  today.AddDate(0, 0, -i).Format(time.DateOnly),
			"score": float64(int((score-float64(i)*0.3)*10)) / 10,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "days": days, "data": points})
}

func (b *Backend) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	byStatus := make(map[string]int)
	byFramework := make(map[string]int)
	for _, d := range b.documents {
		byStatus[d.Status]++
		byFramework[d.Framework]++
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"documents_by_status":    byStatus,
			"documents_by_framework": byFramework,
		},
	})
}

func (b *Backend) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid notification id"})
		return
	}

	b.mu.Lock()
	found := false
	for i := range b.notifications {
		if b.notifications[i].ID == id {
			b.notifications[i].Read = true
			found = true
			break
		}
	}
	b.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Notification not found"})
		return
	}
	b.logger.Info("notification read", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
