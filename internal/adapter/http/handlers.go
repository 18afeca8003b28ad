package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platewise/researchd/internal/adapter/nats"
	"github.com/platewise/researchd/internal/adapter/ws"
	"github.com/platewise/researchd/internal/port/archive"
	"github.com/platewise/researchd/internal/resilience"
	"github.com/platewise/researchd/internal/service"
)

const maxQueryLength = 2000

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Research *service.ResearchService
	Hub      *ws.Hub
	Queue    *nats.Queue         // optional, health reporting only
	Breaker  *resilience.Breaker // optional, health reporting only
}

type researchRequest struct {
	Query string `json:"query"`
}

type sessionResponse struct {
	SessionID  string     `json:"session_id"`
	Query      string     `json:"query,omitempty"`
	Status     string     `json:"status"`
	Answer     string     `json:"answer,omitempty"`
	Sources    []source   `json:"sources,omitempty"`
	Rounds     int        `json:"rounds,omitempty"`
	Retries    int        `json:"retries,omitempty"`
	Cached     bool       `json:"cached,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt,omitempty"`
}

func toSessionResponse(rec *archive.Record, cached bool) sessionResponse {
	resp := sessionResponse{
		SessionID: rec.ID,
		Query:     rec.Query,
		Status:    rec.Status,
		Answer:    rec.Answer,
		Rounds:    rec.Rounds,
		Retries:   rec.Retries,
		Cached:    cached,
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		resp.FinishedAt = &t
	}
	for _, s := range rec.Sources {
		resp.Sources = append(resp.Sources, source{URL: s.URL, Title: s.Title, Excerpt: s.Excerpt})
	}
	return resp
}

// StartResearch handles POST /api/v1/research.
//
// A cached answer for an identical normalized query is returned
// immediately with 200. Otherwise a new session starts and 202 is
// returned; tokens, stages and the final answer arrive over /ws.
func (h *Handlers) StartResearch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[researchRequest](w, r)
	if !ok {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query too long (max 2000 chars)")
		return
	}

	if rec, ok := h.Research.CachedAnswer(r.Context(), req.Query); ok {
		writeJSON(w, http.StatusOK, toSessionResponse(rec, true))
		return
	}

	id := h.Research.Start(r.Context(), req.Query)
	writeJSON(w, http.StatusAccepted, sessionResponse{SessionID: id, Query: req.Query, Status: "streaming"})
}

// GetSession handles GET /api/v1/research/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if h.Research.IsActive(id) {
		writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Status: "streaming"})
		return
	}

	rec, err := h.Research.Archived(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(rec, false))
}

// CancelSession handles POST /api/v1/research/{id}/cancel.
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if h.Research.Cancel(id) {
		writeJSON(w, http.StatusAccepted, sessionResponse{SessionID: id, Status: "cancelling"})
		return
	}

	rec, err := h.Research.Archived(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusConflict, "session already finished")
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := h.Research.Recent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toSessionResponse(&recs[i], false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":          "ok",
		"active_sessions": h.Research.ActiveCount(),
		"ws_connections":  h.Hub.ConnectionCount(),
	}
	if h.Queue != nil {
		resp["nats_connected"] = h.Queue.IsConnected()
	}
	if h.Breaker != nil {
		resp["backend_breaker"] = h.Breaker.State()
	}
	writeJSON(w, http.StatusOK, resp)
}
