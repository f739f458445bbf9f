package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abihf/blinkgate/session"
	"github.com/google/uuid"
)

type fakeGate struct {
	state    session.State
	startErr error
	starts   int
	stops    int
}

func (g *fakeGate) State() session.State { return g.state }

func (g *fakeGate) Start(ctx context.Context) error {
	g.starts++
	if g.startErr != nil {
		return g.startErr
	}
	g.state.CameraOn = true
	return nil
}

func (g *fakeGate) Stop(ctx context.Context) error {
	g.stops++
	g.state.CameraOn = false
	return nil
}

type fakeHistory struct {
	entries []session.Entry
	limit   int
	err     error
}

func (h *fakeHistory) Recent(ctx context.Context, limit int) ([]session.Entry, error) {
	h.limit = limit
	return h.entries, h.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(":0", &fakeGate{}, nil, testLogger())

	rec := serve(s, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestStatusAndLogs(t *testing.T) {
	entry := session.Entry{ID: uuid.New(), Timestamp: time.Now(), Outcome: session.OutcomeSuccess, Message: "Hello: Ana"}
	gate := &fakeGate{state: session.State{
		Status:  session.StatusSuccess,
		Message: "Welcome Ana!",
		Logs:    []session.Entry{entry},
	}}
	s := New(":0", gate, nil, testLogger())

	rec := serve(s, http.MethodGet, "/api/v1/status")
	var state session.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if state.Status != session.StatusSuccess || state.Message != "Welcome Ana!" {
		t.Errorf("state = %+v", state)
	}

	rec = serve(s, http.MethodGet, "/api/v1/logs")
	var logs []session.Entry
	if err := json.NewDecoder(rec.Body).Decode(&logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != entry.ID || logs[0].Message != "Hello: Ana" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestCameraControl(t *testing.T) {
	gate := &fakeGate{}
	s := New(":0", gate, nil, testLogger())

	rec := serve(s, http.MethodPost, "/api/v1/camera/start")
	if rec.Code != http.StatusOK || gate.starts != 1 || !gate.state.CameraOn {
		t.Errorf("start: code=%d starts=%d state=%+v", rec.Code, gate.starts, gate.state)
	}

	rec = serve(s, http.MethodPost, "/api/v1/camera/stop")
	if rec.Code != http.StatusOK || gate.stops != 1 || gate.state.CameraOn {
		t.Errorf("stop: code=%d stops=%d state=%+v", rec.Code, gate.stops, gate.state)
	}

	rec = serve(s, http.MethodGet, "/api/v1/camera/start")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start = %d, want 405", rec.Code)
	}
}

func TestCameraStartFailure(t *testing.T) {
	gate := &fakeGate{startErr: errors.New("open camera: permission denied")}
	s := New(":0", gate, nil, testLogger())

	rec := serve(s, http.MethodPost, "/api/v1/camera/start")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "open camera: permission denied" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{entries: []session.Entry{{ID: uuid.New(), Message: "Hello: Ana"}}}
	s := New(":0", &fakeGate{}, history, testLogger())

	tests := []struct {
		path      string
		code      int
		wantLimit int
	}{
		{"/api/v1/history", http.StatusOK, defaultHistoryLimit},
		{"/api/v1/history?limit=5", http.StatusOK, 5},
		{"/api/v1/history?limit=0", http.StatusBadRequest, 0},
		{"/api/v1/history?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		history.limit = 0
		rec := serve(s, http.MethodGet, tt.path)
		if rec.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.code)
		}
		if history.limit != tt.wantLimit {
			t.Errorf("%s: limit = %d, want %d", tt.path, history.limit, tt.wantLimit)
		}
	}

	history.err = errors.New("connection reset")
	if rec := serve(s, http.MethodGet, "/api/v1/history"); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing history = %d, want 500", rec.Code)
	}
}

func TestHistoryNotConfigured(t *testing.T) {
	s := New(":0", &fakeGate{}, nil, testLogger())
	if rec := serve(s, http.MethodGet, "/api/v1/history"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
