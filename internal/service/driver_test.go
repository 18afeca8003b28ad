package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platewise/researchd/internal/domain"
	"github.com/platewise/researchd/internal/port/transport"
)

// scriptedTransport replays one outcome per Open call.
type scriptedTransport struct {
	mu      sync.Mutex
	opens   int
	outcome []func() (io.ReadCloser, error)
}

func (t *scriptedTransport) Open(_ context.Context, _ transport.Request) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.opens
	t.opens++
	if i >= len(t.outcome) {
		return nil, errors.New("unscripted connection attempt")
	}
	return t.outcome[i]()
}

func (t *scriptedTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func body(frames ...string) func() (io.ReadCloser, error) {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: " + f + "\n\n")
	}
	s := b.String()
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func refused() (io.ReadCloser, error) {
	return nil, errors.New("connection refused")
}

// brokenReader yields its data, then a transport error instead of EOF.
type brokenReader struct {
	data string
	off  int
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.off < len(r.data) {
		n := copy(p, r.data[r.off:])
		r.off += n
		return n, nil
	}
	return 0, errors.New("connection reset by peer")
}

func (r *brokenReader) Close() error { return nil }

func driverConfig() DriverConfig {
	return DriverConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, ChunkSize: 32}
}

func TestDriverStreamsToCompletion(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){
		body(
			`{"type": "token", "content": "Magnesium supports "}`,
			`{"type": "token", "content": "muscle function."}`,
			`{"type": "complete"}`,
		),
	}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	go st.Run(context.Background())

	d := NewDriver(tr, driverConfig())
	if err := d.Run(context.Background(), transport.Request{SessionID: "sess-1"}, st); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	waitDone(t, st)

	if snk.completes != 1 {
		t.Fatalf("completes = %d, want 1", snk.completes)
	}
	if got, want := st.Session().Answer(), "Magnesium supports muscle function."; got != want {
		t.Fatalf("answer = %q, want %q", got, want)
	}
	if tr.openCount() != 1 {
		t.Fatalf("open count = %d, want 1", tr.openCount())
	}
}

func TestDriverRetriesConnectFailures(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){
		refused,
		refused,
		body(
			`{"type": "token", "content": "third time lucky"}`,
			`{"type": "complete"}`,
		),
	}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	go st.Run(context.Background())

	d := NewDriver(tr, driverConfig())
	if err := d.Run(context.Background(), transport.Request{SessionID: "sess-1"}, st); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	waitDone(t, st)

	if tr.openCount() != 3 {
		t.Fatalf("open count = %d, want 3", tr.openCount())
	}
	if got := st.Session().Retries(); got != 2 {
		t.Fatalf("retries = %d, want 2", got)
	}
	if snk.completes != 1 || len(snk.errors) != 0 {
		t.Fatalf("completes=%d errors=%v, want a clean completion", snk.completes, snk.errors)
	}
}

func TestDriverRetryCeilingDeliversSingleError(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){refused, refused, refused}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	go st.Run(context.Background())

	d := NewDriver(tr, driverConfig())
	err := d.Run(context.Background(), transport.Request{SessionID: "sess-1"}, st)
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("Run returned %v, want ErrRetriesExhausted", err)
	}
	waitDone(t, st)

	if tr.openCount() != 3 {
		t.Fatalf("open count = %d, want exactly the attempt ceiling", tr.openCount())
	}
	if len(snk.errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", snk.errors)
	}
	if snk.completes != 0 {
		t.Fatalf("completes = %d, want 0", snk.completes)
	}
}

func TestDriverNoRetryAfterFirstByte(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) {
			return &brokenReader{data: "data: {\"type\": \"token\", \"content\": \"partial\"}\n\n"}, nil
		},
		// A second attempt would succeed, but must never happen.
		body(`{"type": "complete"}`),
	}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	go st.Run(context.Background())

	d := NewDriver(tr, driverConfig())
	if err := d.Run(context.Background(), transport.Request{SessionID: "sess-1"}, st); err == nil {
		t.Fatal("Run returned nil, want the mid-stream error")
	}
	waitDone(t, st)

	if tr.openCount() != 1 {
		t.Fatalf("open count = %d, want 1 (no retry after first byte)", tr.openCount())
	}
	if len(snk.errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", snk.errors)
	}
	if got := st.Session().Answer(); got != "partial" {
		t.Fatalf("answer = %q, want the partial text retained", got)
	}
}

func TestDriverEmptyStreamIsRetryable(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){
		body(), // EOF before any byte
		body(
			`{"type": "token", "content": "answer on retry"}`,
			`{"type": "complete"}`,
		),
	}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	go st.Run(context.Background())

	d := NewDriver(tr, driverConfig())
	if err := d.Run(context.Background(), transport.Request{SessionID: "sess-1"}, st); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	waitDone(t, st)

	if tr.openCount() != 2 {
		t.Fatalf("open count = %d, want 2", tr.openCount())
	}
	if snk.completes != 1 {
		t.Fatalf("completes = %d, want 1", snk.completes)
	}
}

func TestDriverCancelledBeforeConnect(t *testing.T) {
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){
		body(`{"type": "complete"}`),
	}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go st.Run(ctx)

	d := NewDriver(tr, driverConfig())
	if err := d.Run(ctx, transport.Request{SessionID: "sess-1"}, st); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	waitDone(t, st)

	if tr.openCount() != 0 {
		t.Fatalf("open count = %d, want 0", tr.openCount())
	}
	if snk.completes != 0 || len(snk.errors) != 0 {
		t.Fatalf("terminal callbacks fired after cancellation: completes=%d errors=%v",
			snk.completes, snk.errors)
	}
}

func TestDriverStopsReadingAfterSessionTerminal(t *testing.T) {
	// An endless reader; the driver must stop once the actor goes terminal.
	endless := func() (io.ReadCloser, error) {
		return io.NopCloser(&repeatReader{
			chunk: "data: {\"type\": \"token\", \"content\": \"more \"}\n\n",
		}), nil
	}
	tr := &scriptedTransport{outcome: []func() (io.ReadCloser, error){endless}}
	snk := &recordSink{}
	st := newTestStream(StreamConfig{IdleWindow: 5 * time.Second, MinAnswerChars: 100}, snk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go st.Run(ctx)

	done := make(chan error, 1)
	cfg := driverConfig()
	cfg.ChunkSize = 256 // whole frames per read
	d := NewDriver(tr, cfg)
	go func() { done <- d.Run(ctx, transport.Request{SessionID: "sess-1"}, st) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	waitDone(t, st)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver kept reading after the session ended")
	}
}

// repeatReader serves the same chunk forever, with a small delay so the
// test does not spin.
type repeatReader struct {
	chunk string
}

func (r *repeatReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return copy(p, r.chunk), nil
}
