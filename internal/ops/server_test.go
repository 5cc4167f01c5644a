package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bowerhall/nudge/internal/channel"
	"github.com/bowerhall/nudge/internal/conversation"
	"github.com/bowerhall/nudge/internal/events"
	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/metrics"
	"github.com/bowerhall/nudge/internal/operational"
	"github.com/bowerhall/nudge/internal/profile"
)

type fakeObserver struct {
	seen []string
}

func (o *fakeObserver) ObserveMessage(ctx context.Context, userID, text string, at time.Time) []events.DetectedEvent {
	o.seen = append(o.seen, userID+":"+text)
	return []events.DetectedEvent{{
		Type:       events.Illness,
		Confidence: 0.9,
		Detector:   events.DetectorRules,
		StartTime:  at,
		EndTime:    at.Add(24 * time.Hour),
	}}
}

type failingPinger struct{}

func (failingPinger) Ping() error { return errors.New("disk full") }

type fixture struct {
	srv      *Server
	db       *operational.Store
	queue    *jobs.Store
	inbox    *channel.InApp
	history  *conversation.Store
	observer *fakeObserver
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := operational.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	queue, err := jobs.NewStore(db.DB())
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	profiles, err := profile.NewStore(db.DB())
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	inbox, err := channel.NewInApp(db.DB(), profiles)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	history, err := conversation.NewStore(db.DB(), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	f := &fixture{db: db, queue: queue, inbox: inbox, history: history, observer: &fakeObserver{}, metrics: m}
	f.srv = New(Deps{
		DB:       db,
		Jobs:     queue,
		Inbox:    inbox,
		History:  history,
		Observer: f.observer,
		Gatherer: reg,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	f.queue.EnqueueOnce(context.Background(), "u1", "water", time.Now(), 3, time.Minute)

	w := f.do(t, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Status string         `json:"status"`
		DB     bool           `json:"db"`
		Jobs   map[string]int `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || !body.DB {
		t.Errorf("body = %+v", body)
	}
	if body.Jobs["pending"] != 1 {
		t.Errorf("pending jobs = %d, want 1", body.Jobs["pending"])
	}
}

func TestHealthDegradedWhenDBDown(t *testing.T) {
	srv := New(Deps{DB: failingPinger{}})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.metrics.JobEnqueued()

	w := f.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "jobs_enqueued_total 1") {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}

func TestInboxEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.inbox.Send(ctx, "u1", channel.Message{Content: "Drink water.", ReminderType: "water"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	w := f.do(t, "GET", "/inbox/u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		UserID   string      `json:"user_id"`
		Messages []inboxItem `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.UserID != "u1" || len(body.Messages) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Messages[0].ID != id || body.Messages[0].Content != "Drink water." || body.Messages[0].ReadAt != nil {
		t.Errorf("message = %+v", body.Messages[0])
	}

	if w := f.do(t, "POST", "/inbox/u1/"+id+"/read", ""); w.Code != http.StatusOK {
		t.Fatalf("mark read status = %d", w.Code)
	}
	items, _ := f.inbox.Inbox(ctx, "u1", 10)
	if len(items) != 1 || items[0].ReadAt.IsZero() {
		t.Errorf("message not marked read: %+v", items)
	}
}

func TestInboxRejectsBadLimit(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, "GET", "/inbox/u1?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMessageEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/messages/u1", `{"text":"I have a fever"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Events []detectedEvent `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Type != "illness" || body.Events[0].StartTime == nil {
		t.Errorf("events = %+v", body.Events)
	}

	msgs, err := f.history.Recent(context.Background(), "u1", time.Time{}, 10)
	if err != nil || len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("history = %+v, %v", msgs, err)
	}
	if len(f.observer.seen) != 1 || f.observer.seen[0] != "u1:I have a fever" {
		t.Errorf("observed = %v", f.observer.seen)
	}
}

func TestMessageFromAssistantSkipsDetection(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/messages/u1", `{"text":"Feel better soon","role":"assistant"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if len(f.observer.seen) != 0 {
		t.Errorf("assistant message was observed")
	}
}

func TestMessageValidation(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, "POST", "/messages/u1", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d", w.Code)
	}
	if w := f.do(t, "POST", "/messages/u1", `{"text":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d", w.Code)
	}
}
