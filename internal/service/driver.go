package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	rdotel "github.com/platewise/researchd/internal/adapter/otel"
	"github.com/platewise/researchd/internal/adapter/sse"
	"github.com/platewise/researchd/internal/domain"
	"github.com/platewise/researchd/internal/domain/event"
	"github.com/platewise/researchd/internal/port/transport"
)

// errNoData marks a connection that closed before producing any bytes;
// such attempts are retryable.
var errNoData = errors.New("connection closed before any data")

// DriverConfig controls connection retry behavior.
type DriverConfig struct {
	// MaxAttempts is the connection attempt ceiling, including the first.
	MaxAttempts int
	// BackoffBase is the first non-zero backoff delay; it doubles per
	// attempt (0, base, 2*base, ...).
	BackoffBase time.Duration
	// ChunkSize is the read buffer size. Zero selects 4096.
	ChunkSize int
}

// Driver opens the transport and pumps bytes through the decode pipeline
// into the stream actor. Connection failures before the first processed
// byte are retried with exponential backoff; once any byte has been
// processed, further failures surface as a session Error instead, so a
// partial answer is never duplicated by a replayed stream.
type Driver struct {
	tr  transport.Transport
	cfg DriverConfig
}

// NewDriver creates a connection driver over the given transport.
func NewDriver(tr transport.Transport, cfg DriverConfig) *Driver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	return &Driver{tr: tr, cfg: cfg}
}

// Run drives the connection for one session until the stream ends, the
// retry ceiling is hit, or ctx is cancelled. Cancellation stops the loop
// immediately without delivering any terminal event.
func (d *Driver) Run(ctx context.Context, req transport.Request, st *Stream) error {
	dec := sse.NewDecoder(0)
	spl := sse.NewSplitter()
	gotData := false

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			st.NoteRetry()
			if err := d.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		// Cancellation check before opening the transport.
		if err := ctx.Err(); err != nil {
			return err
		}

		openCtx, span := rdotel.StartConnectSpan(ctx, req.SessionID, attempt)
		rc, err := d.tr.Open(openCtx, req)
		if err != nil {
			span.RecordError(err)
			span.End()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.Warn("research backend connect failed",
				"session_id", req.SessionID, "attempt", attempt, "error", err)
			continue
		}
		span.End()

		// Cancellation check after the transport is open.
		if err := ctx.Err(); err != nil {
			_ = rc.Close()
			return err
		}

		err = d.pump(ctx, rc, dec, spl, st, &gotData)
		_ = rc.Close()

		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case gotData:
			// Unrecoverable after first byte: report, do not retry.
			st.Deliver(event.Error{Message: fmt.Sprintf("connection lost mid-stream: %v", err)})
			return err
		default:
			slog.Warn("research stream failed before any data",
				"session_id", req.SessionID, "attempt", attempt, "error", err)
		}
	}

	st.Deliver(event.Error{Message: fmt.Sprintf(
		"could not reach research backend after %d attempts", d.cfg.MaxAttempts)})
	return domain.ErrRetriesExhausted
}

// pump reads chunks until EOF or error, feeding the decode pipeline and
// delivering parsed events in arrival order.
func (d *Driver) pump(ctx context.Context, rc io.Reader, dec *sse.Decoder, spl *sse.Splitter, st *Stream, gotData *bool) error {
	buf := make([]byte, d.cfg.ChunkSize)
	for {
		// Cancellation check on every chunk read.
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-st.Done():
			// The session reached a terminal state; stop reading.
			return nil
		default:
		}

		n, err := rc.Read(buf)
		if n > 0 {
			*gotData = true
			for _, frame := range spl.Feed(dec.Feed(buf[:n])) {
				if ev, ok := sse.Parse(frame); ok {
					st.Deliver(ev)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !*gotData {
					return errNoData
				}
				// No terminator frame is guaranteed; transport closure
				// also signals termination.
				st.SignalEOF()
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// backoff waits the exponential delay for the given attempt (attempt 2
// waits BackoffBase, attempt 3 twice that, and so on).
func (d *Driver) backoff(ctx context.Context, attempt int) error {
	delay := d.cfg.BackoffBase << (attempt - 2)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
