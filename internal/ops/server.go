package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bowerhall/nudge/internal/channel"
	"github.com/bowerhall/nudge/internal/events"
	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/logger"
)

type Pinger interface {
	Ping() error
}

type JobCounter interface {
	CountByStatus(ctx context.Context) (map[jobs.Status]int, error)
}

type Inbox interface {
	Inbox(ctx context.Context, userID string, limit int) ([]channel.InboxItem, error)
	MarkRead(ctx context.Context, userID, id string) error
}

type History interface {
	Add(ctx context.Context, userID, role, content string, at time.Time) error
}

// Observer feeds user messages to event detection
type Observer interface {
	ObserveMessage(ctx context.Context, userID, text string, at time.Time) []events.DetectedEvent
}

// Deps are the components the ops server exposes. Nil members disable
// their routes.
type Deps struct {
	DB       Pinger
	Jobs     JobCounter
	Inbox    Inbox
	History  History
	Observer Observer
	Gatherer prometheus.Gatherer
}

// Server is the operational HTTP surface: health, metrics, the in-app
// inbox and the conversation feed.
type Server struct {
	deps    Deps
	router  chi.Router
	started time.Time
	now     func() time.Time
}

func New(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		started: time.Now(),
		now:     time.Now,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.deps.Inbox != nil {
		r.Get("/inbox/{userID}", s.handleInbox)
		r.Post("/inbox/{userID}/{messageID}/read", s.handleMarkRead)
	}

	if s.deps.History != nil && s.deps.Observer != nil {
		r.Post("/messages/{userID}", s.handleMessage)
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Seconds(),
	}

	if s.deps.DB != nil {
		dbOK := s.deps.DB.Ping() == nil
		body["db"] = dbOK
		if !dbOK {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	if s.deps.Jobs != nil {
		counts, err := s.deps.Jobs.CountByStatus(r.Context())
		if err != nil {
			logger.Warn("health: job counts unavailable", "error", err)
		} else {
			jobsBody := make(map[string]int, len(counts))
			for st, n := range counts {
				jobsBody[string(st)] = n
			}
			body["jobs"] = jobsBody
		}
	}

	writeJSON(w, status, body)
}

type inboxItem struct {
	ID           string     `json:"id"`
	ReminderType string     `json:"reminder_type"`
	Content      string     `json:"content"`
	CreatedAt    time.Time  `json:"created_at"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := s.deps.Inbox.Inbox(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]inboxItem, 0, len(items))
	for _, it := range items {
		item := inboxItem{
			ID:           it.ID,
			ReminderType: it.ReminderType,
			Content:      it.Content,
			CreatedAt:    it.CreatedAt.UTC(),
		}
		if !it.ReadAt.IsZero() {
			readAt := it.ReadAt.UTC()
			item.ReadAt = &readAt
		}
		out = append(out, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "messages": out})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	messageID := chi.URLParam(r, "messageID")

	if err := s.deps.Inbox.MarkRead(r.Context(), userID, messageID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type detectedEvent struct {
	Type       string     `json:"type"`
	Confidence float64    `json:"confidence"`
	Detector   string     `json:"detector"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// handleMessage records a user message in the conversation history and
// runs detection over it
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Text string    `json:"text"`
		Role string    `json:"role"`
		At   time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	if req.At.IsZero() {
		req.At = s.now()
	}

	if err := s.deps.History.Add(r.Context(), userID, req.Role, req.Text, req.At); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := []detectedEvent{}
	if req.Role == "user" {
		for _, ev := range s.deps.Observer.ObserveMessage(r.Context(), userID, req.Text, req.At) {
			d := detectedEvent{Type: string(ev.Type), Confidence: ev.Confidence, Detector: ev.Detector}
			if ev.HasWindow() {
				start, end := ev.StartTime.UTC(), ev.EndTime.UTC()
				d.StartTime, d.EndTime = &start, &end
			}
			out = append(out, d)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{"events": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
