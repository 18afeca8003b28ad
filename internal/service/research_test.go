package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/platewise/researchd/internal/domain"
	"github.com/platewise/researchd/internal/domain/session"
	"github.com/platewise/researchd/internal/port/archive"
	"github.com/platewise/researchd/internal/port/messagequeue"
)

type memStore struct {
	mu   sync.Mutex
	recs map[string]archive.Record
}

func newMemStore() *memStore { return &memStore{recs: make(map[string]archive.Record)} }

func (s *memStore) Save(_ context.Context, rec archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) ListRecent(_ context.Context, limit int) ([]archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

type memQueue struct {
	mu       sync.Mutex
	subjects []string
}

func (q *memQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *memQueue) Close() error { return nil }

func (q *memQueue) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.subjects...)
}

func researchConfig() ResearchConfig {
	return ResearchConfig{
		Stream:   StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100},
		Driver:   DriverConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, ChunkSize: 256},
		Pacer:    PacerConfig{Granularity: GranularityWords},
		Stages:   StagesConfig{},
		Mode:     "deep",
		CacheTTL: time.Minute,
	}
}

func TestResearchServiceCompletedSessionArchivedAndCached(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){
		body(
			`{"type": "token", "content": "Oats are a solid source of soluble fiber."}`,
			`{"type": "complete"}`,
		),
	}}
	snk := &recordSink{}
	store := newMemStore()
	cache := newMemCache()
	queue := &memQueue{}
	svc := NewResearchService(researchConfig(), tr, snk, store, cache, queue, nil)

	id := svc.Start(context.Background(), "Is oatmeal good for cholesterol?")
	waitFor(t, 5*time.Second, func() bool { return !svc.IsActive(id) })

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("archived record missing: %v", err)
	}
	if rec.Status != string(session.StatusCompleted) {
		t.Fatalf("archived status = %s, want completed", rec.Status)
	}
	if rec.Answer == "" {
		t.Fatal("archived answer is empty")
	}
	if got := queue.published(); len(got) != 1 || got[0] != messagequeue.SubjectSessionCompleted {
		t.Fatalf("published subjects = %v, want one completed notification", got)
	}

	// A repeat of the same query, differently spelled, hits the cache.
	cached, ok := svc.CachedAnswer(context.Background(), "  is OATMEAL good for cholesterol?  ")
	if !ok {
		t.Fatal("expected answer cache hit for normalized repeat query")
	}
	if cached.Answer != rec.Answer {
		t.Fatalf("cached answer = %q, want %q", cached.Answer, rec.Answer)
	}
}

func TestResearchServiceCancelSkipsSinkButArchives(t *testing.T) {
	endless := func() (io.ReadCloser, error) {
		return io.NopCloser(&repeatReader{
			chunk: "data: {\"type\": \"token\", \"content\": \"more \"}\n\n",
		}), nil
	}
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){endless}}
	snk := &recordSink{}
	store := newMemStore()
	cache := newMemCache()
	queue := &memQueue{}
	svc := NewResearchService(researchConfig(), tr, snk, store, cache, queue, nil)

	id := svc.Start(context.Background(), "how much protein per day")
	waitFor(t, 2*time.Second, func() bool {
		snk.mu.Lock()
		defer snk.mu.Unlock()
		return len(snk.tokens) > 0
	})

	if !svc.Cancel(id) {
		t.Fatal("Cancel returned false for a live session")
	}
	waitFor(t, 5*time.Second, func() bool { return !svc.IsActive(id) })

	if snk.completes != 0 || len(snk.errors) != 0 {
		t.Fatalf("sink saw terminal callbacks after cancel: completes=%d errors=%v",
			snk.completes, snk.errors)
	}
	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("cancelled session not archived: %v", err)
	}
	if rec.Status != string(session.StatusCancelled) {
		t.Fatalf("archived status = %s, want cancelled", rec.Status)
	}
	if got := queue.published(); len(got) != 1 || got[0] != messagequeue.SubjectSessionCancelled {
		t.Fatalf("published subjects = %v, want one cancelled notification", got)
	}
	if _, ok := svc.CachedAnswer(context.Background(), "how much protein per day"); ok {
		t.Fatal("cancelled session must not populate the answer cache")
	}
	if svc.Cancel(id) {
		t.Fatal("Cancel returned true for an already-finished session")
	}
}

func TestResearchServiceFailedSessionNotCached(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){refused, refused, refused}}
	snk := &recordSink{}
	store := newMemStore()
	cache := newMemCache()
	queue := &memQueue{}
	svc := NewResearchService(researchConfig(), tr, snk, store, cache, queue, nil)

	id := svc.Start(context.Background(), "unreachable backend query")
	waitFor(t, 5*time.Second, func() bool { return !svc.IsActive(id) })

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed session not archived: %v", err)
	}
	if rec.Status != string(session.StatusFailed) {
		t.Fatalf("archived status = %s, want failed", rec.Status)
	}
	if rec.Retries != 2 {
		t.Fatalf("archived retries = %d, want 2", rec.Retries)
	}
	if got := queue.published(); len(got) != 1 || got[0] != messagequeue.SubjectSessionFailed {
		t.Fatalf("published subjects = %v, want one failed notification", got)
	}
	if _, ok := svc.CachedAnswer(context.Background(), "unreachable backend query"); ok {
		t.Fatal("failed session must not populate the answer cache")
	}
}
