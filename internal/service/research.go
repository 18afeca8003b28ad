package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rdotel "github.com/platewise/researchd/internal/adapter/otel"
	"github.com/platewise/researchd/internal/domain/session"
	"github.com/platewise/researchd/internal/port/archive"
	"github.com/platewise/researchd/internal/port/cache"
	"github.com/platewise/researchd/internal/port/messagequeue"
	"github.com/platewise/researchd/internal/port/sink"
	"github.com/platewise/researchd/internal/port/transport"
)

// ResearchConfig aggregates the per-session pipeline configuration.
type ResearchConfig struct {
	Stream   StreamConfig
	Driver   DriverConfig
	Pacer    PacerConfig
	Stages   StagesConfig
	Mode     string
	CacheTTL time.Duration
}

// ResearchService starts, tracks and cancels research stream sessions.
// Each session runs three workers: the driver's read loop, the stream
// actor, and the pacer/stage drain loops; they communicate only by
// message passing.
type ResearchService struct {
	cfg     ResearchConfig
	tr      transport.Transport
	snk     sink.Sink
	store   archive.Store      // optional
	cache   cache.Cache        // optional
	queue   messagequeue.Queue // optional
	metrics *rdotel.Metrics    // optional

	mu     sync.Mutex
	active map[string]context.CancelFunc

	now func() time.Time
}

// NewResearchService creates the service. store, answerCache, queue and
// metrics may each be nil to disable that integration.
func NewResearchService(cfg ResearchConfig, tr transport.Transport, snk sink.Sink,
	store archive.Store, answerCache cache.Cache, queue messagequeue.Queue, metrics *rdotel.Metrics) *ResearchService {
	return &ResearchService{
		cfg:     cfg,
		tr:      tr,
		snk:     snk,
		store:   store,
		cache:   answerCache,
		queue:   queue,
		metrics: metrics,
		active:  make(map[string]context.CancelFunc),
		now:     time.Now,
	}
}

// CachedAnswer returns a previously archived answer for an identical
// normalized query, if one is cached.
func (r *ResearchService) CachedAnswer(ctx context.Context, query string) (*archive.Record, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, ok, err := r.cache.Get(ctx, cacheKey(query))
	if err != nil {
		slog.Warn("answer cache get failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rec archive.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("answer cache entry corrupt, dropping", "error", err)
		_ = r.cache.Delete(ctx, cacheKey(query))
		return nil, false
	}
	if r.metrics != nil {
		r.metrics.CacheHits.Add(ctx, 1)
	}
	return &rec, true
}

// Start launches a new research session and returns its ID. The session
// outlives the calling request; Cancel stops it.
func (r *ResearchService) Start(ctx context.Context, query string) string {
	id := uuid.NewString()
	sess := session.New(id, query, r.now())

	pacer := NewPacer(r.cfg.Pacer, func(unit string) { r.snk.OnToken(id, unit) })
	stages := NewStages(r.cfg.Stages, func(text string) { r.snk.OnStage(id, text) })
	st := NewStream(r.cfg.Stream, sess, r.snk, pacer, stages, r.onTerminal)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sctx, span := rdotel.StartSessionSpan(sctx, id, r.cfg.Mode)
	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()

	pacer.Start()
	stages.Start()
	go st.Run(sctx)

	driver := NewDriver(r.tr, r.cfg.Driver)
	req := transport.Request{SessionID: id, Query: query, Mode: r.cfg.Mode}
	go func() {
		defer span.End()
		if err := driver.Run(sctx, req, st); err != nil && sctx.Err() == nil {
			span.RecordError(err)
			slog.Warn("research connection ended with error", "session_id", id, "error", err)
		}
	}()

	if r.metrics != nil {
		r.metrics.SessionsStarted.Add(sctx, 1)
	}
	slog.Info("research session started", "session_id", id)
	return id
}

// Cancel stops a live session. Returns false if the session is not active.
func (r *ResearchService) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// IsActive reports whether the session is still streaming.
func (r *ResearchService) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// ActiveCount returns the number of live sessions.
func (r *ResearchService) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Archived fetches a terminal session from the archive store.
func (r *ResearchService) Archived(ctx context.Context, id string) (*archive.Record, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.Get(ctx, id)
}

// Recent lists the most recently finished sessions from the archive.
func (r *ResearchService) Recent(ctx context.Context, limit int) ([]archive.Record, error) {
	if r.store == nil {
		return []archive.Record{}, nil
	}
	return r.store.ListRecent(ctx, limit)
}

// Shutdown cancels all live sessions.
func (r *ResearchService) Shutdown() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.active))
	for _, c := range r.active {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// onTerminal runs once per session on the actor goroutine, after the
// terminal event (if any) reached the sink: archive, cache, notify.
func (r *ResearchService) onTerminal(s *session.Session) {
	r.mu.Lock()
	delete(r.active, s.ID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := s.Status()
	finished := r.now()
	r.record(ctx, status)
	if r.metrics != nil {
		if n := s.Retries(); n > 0 {
			r.metrics.ConnectionRetries.Add(ctx, int64(n))
		}
		r.metrics.SessionDuration.Record(ctx, finished.Sub(s.CreatedAt).Seconds())
	}

	rec := archive.Record{
		ID:         s.ID,
		Query:      s.Query,
		Status:     string(status),
		Answer:     s.Answer(),
		Sources:    s.Sources(),
		Rounds:     s.Rounds(),
		Retries:    s.Retries(),
		CreatedAt:  s.CreatedAt,
		FinishedAt: finished,
	}

	if r.store != nil {
		if err := r.store.Save(ctx, rec); err != nil {
			slog.Error("session archive failed", "session_id", s.ID, "error", err)
		}
	}

	if r.cache != nil && status == session.StatusCompleted {
		if data, err := json.Marshal(rec); err == nil {
			if err := r.cache.Set(ctx, cacheKey(s.Query), data, r.cfg.CacheTTL); err != nil {
				slog.Warn("answer cache set failed", "session_id", s.ID, "error", err)
			}
		}
	}

	r.notify(ctx, rec)

	slog.Info("research session finished",
		"session_id", s.ID, "status", status, "rounds", s.Rounds(),
		"sources", s.SourceCount(), "answer_chars", len(s.Answer()),
		"duration", finished.Sub(s.CreatedAt))
}

func (r *ResearchService) record(ctx context.Context, status session.Status) {
	if r.metrics == nil {
		return
	}
	switch status {
	case session.StatusCompleted:
		r.metrics.SessionsCompleted.Add(ctx, 1)
	case session.StatusFailed:
		r.metrics.SessionsFailed.Add(ctx, 1)
	case session.StatusCancelled:
		r.metrics.SessionsCancelled.Add(ctx, 1)
	}
}

// notify publishes a compact terminal record for downstream consumers.
func (r *ResearchService) notify(ctx context.Context, rec archive.Record) {
	if r.queue == nil {
		return
	}
	subject := messagequeue.SubjectSessionCompleted
	switch session.Status(rec.Status) {
	case session.StatusFailed:
		subject = messagequeue.SubjectSessionFailed
	case session.StatusCancelled:
		subject = messagequeue.SubjectSessionCancelled
	}

	payload, err := json.Marshal(map[string]any{
		"session_id":   rec.ID,
		"query":        rec.Query,
		"status":       rec.Status,
		"rounds":       rec.Rounds,
		"source_count": len(rec.Sources),
		"answer_chars": len(rec.Answer),
		"finished_at":  rec.FinishedAt,
	})
	if err != nil {
		return
	}
	if err := r.queue.Publish(ctx, subject, payload); err != nil {
		slog.Warn("session notification publish failed", "session_id", rec.ID, "error", err)
	}
}

// cacheKey normalizes the query (case and whitespace) and hashes it.
func cacheKey(query string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm))
	return "answer." + hex.EncodeToString(sum[:])
}
