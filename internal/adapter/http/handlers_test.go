package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/platewise/researchd/internal/adapter/ws"
	"github.com/platewise/researchd/internal/port/transport"
	"github.com/platewise/researchd/internal/service"
)

// stubTransport serves a fixed SSE body for every connection.
type stubTransport struct {
	frames []string
}

func (s *stubTransport) Open(_ context.Context, _ transport.Request) (io.ReadCloser, error) {
	var b strings.Builder
	for _, f := range s.frames {
		b.WriteString("data: " + f + "\n\n")
	}
	return io.NopCloser(strings.NewReader(b.String())), nil
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	hub := ws.NewHub()
	cfg := service.ResearchConfig{
		Stream: service.StreamConfig{IdleWindow: time.Second, MinAnswerChars: 100},
		Driver: service.DriverConfig{MaxAttempts: 3, BackoffBase: time.Millisecond},
		Pacer:  service.PacerConfig{Granularity: "words"},
		Mode:   "deep_research",
	}
	tr := &stubTransport{frames: []string{
		`{"type":"token","content":"Oats lower LDL."}`,
		`{"type":"complete","content":"Oats lower LDL."}`,
	}}
	svc := service.NewResearchService(cfg, tr, ws.NewSink(hub), nil, nil, nil, nil)
	t.Cleanup(svc.Shutdown)
	return &Handlers{Research: svc, Hub: hub}
}

func newTestRouter(t *testing.T) (*Handlers, chi.Router) {
	t.Helper()
	h := newTestHandlers(t)
	r := chi.NewRouter()
	MountRoutes(r, h)
	return h, r
}

func doJSON(t *testing.T, r chi.Router, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestStartResearchAccepted(t *testing.T) {
	_, r := newTestRouter(t)

	rec, body := doJSON(t, r, http.MethodPost, "/api/v1/research", `{"query":"is oatmeal good for cholesterol?"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["session_id"] == "" || body["session_id"] == nil {
		t.Error("expected session_id in response")
	}
	if body["status"] != "streaming" {
		t.Errorf("expected status streaming, got %v", body["status"])
	}
}

func TestStartResearchValidation(t *testing.T) {
	_, r := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty query", `{"query":"   "}`, http.StatusBadRequest},
		{"missing query", `{}`, http.StatusBadRequest},
		{"malformed JSON", `{"query":`, http.StatusBadRequest},
		{"oversized query", `{"query":"` + strings.Repeat("a", 2001) + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, r, http.MethodPost, "/api/v1/research", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if body["error"] == nil {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestGetSessionStreamingThenGone(t *testing.T) {
	h, r := newTestRouter(t)

	// Unknown IDs are 404 (no archive store is configured here).
	rec, _ := doJSON(t, r, http.MethodGet, "/api/v1/research/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}

	_, body := doJSON(t, r, http.MethodPost, "/api/v1/research", `{"query":"vitamin d in winter"}`)
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("expected session_id")
	}

	// Poll until the session leaves the active set; the stub stream
	// completes almost immediately.
	deadline := time.Now().Add(5 * time.Second)
	for h.Research.IsActive(id) {
		if time.Now().After(deadline) {
			t.Fatal("session never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/v1/research/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after finish without archive store, got %d", rec.Code)
	}
}

func TestCancelSessionNotFound(t *testing.T) {
	_, r := newTestRouter(t)

	rec, _ := doJSON(t, r, http.MethodPost, "/api/v1/research/ghost/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListSessionsEmptyWithoutStore(t *testing.T) {
	_, r := newTestRouter(t)

	rec, body := doJSON(t, r, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	sessions, ok := body["sessions"].([]any)
	if !ok || len(sessions) != 0 {
		t.Errorf("expected empty sessions list, got %v", body["sessions"])
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/v1/sessions?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, r := newTestRouter(t)

	rec, body := doJSON(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if _, ok := body["active_sessions"]; !ok {
		t.Error("expected active_sessions in health response")
	}
}
