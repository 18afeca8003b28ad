package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/platewise/researchd/internal/domain/event"
	"github.com/platewise/researchd/internal/domain/session"
	"github.com/platewise/researchd/internal/domain/source"
	"github.com/platewise/researchd/internal/port/sink"
)

// StreamConfig controls the per-session actor's recovery behavior.
type StreamConfig struct {
	// IdleWindow is the maximum tolerated gap between events before the
	// session is considered stalled and a best-effort terminal outcome is
	// synthesized.
	IdleWindow time.Duration
	// MinAnswerChars is the accumulated-text threshold above which a
	// stalled stream synthesizes a Complete instead of an Error. A display
	// heuristic, deliberately configurable.
	MinAnswerChars int
}

type streamCtrl int

const (
	ctrlEOF streamCtrl = iota
	ctrlRetry
)

// Stream is the per-request event-processing actor. It exclusively owns
// its session entity: all mutation happens on the Run goroutine, fed by
// immutable events from the connection driver. Terminal states are
// absorbing; once reached the actor drains and stops.
type Stream struct {
	cfg    StreamConfig
	sess   *session.Session
	snk    sink.Sink
	pacer  *Pacer
	stages *Stages

	events chan event.Event
	ctrl   chan streamCtrl
	done   chan struct{}

	// onTerminal runs once after the terminal event (if any) has been
	// delivered to the sink. Used for archiving and notifications.
	onTerminal func(s *session.Session)

	now  func() time.Time
	tick time.Duration
}

// NewStream creates the actor for one session. onTerminal may be nil.
func NewStream(cfg StreamConfig, sess *session.Session, snk sink.Sink, pacer *Pacer, stages *Stages, onTerminal func(*session.Session)) *Stream {
	tick := cfg.IdleWindow / 8
	if tick <= 0 || tick > time.Second {
		tick = time.Second
	}
	return &Stream{
		cfg:        cfg,
		sess:       sess,
		snk:        snk,
		pacer:      pacer,
		stages:     stages,
		events:     make(chan event.Event, 256),
		ctrl:       make(chan streamCtrl, 4),
		done:       make(chan struct{}),
		onTerminal: onTerminal,
		now:        time.Now,
		tick:       tick,
	}
}

// Session returns the actor-owned session. Callers other than the Run
// goroutine may only read it after Done is closed.
func (s *Stream) Session() *session.Session { return s.sess }

// Done is closed when the actor has reached a terminal state and stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Deliver enqueues one parsed event in arrival order. It drops the event
// if the actor has already stopped.
func (s *Stream) Deliver(ev event.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// SignalEOF tells the actor the transport closed cleanly; the actor
// synthesizes a best-effort terminal outcome from what has accumulated.
func (s *Stream) SignalEOF() {
	select {
	case s.ctrl <- ctrlEOF:
	case <-s.done:
	}
}

// NoteRetry counts a connection retry against the session.
func (s *Stream) NoteRetry() {
	select {
	case s.ctrl <- ctrlRetry:
	case <-s.done:
	}
}

// Run processes events until a terminal state. Cancellation of ctx is a
// distinct non-error outcome: the session transitions to Cancelled and
// neither Complete nor Error reaches the sink.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancel()
			return
		case ev := <-s.events:
			if s.handle(ev) {
				return
			}
		case c := <-s.ctrl:
			switch c {
			case ctrlRetry:
				s.sess.RecordRetry()
			case ctrlEOF:
				// Events already queued precede the close; apply them first.
				if s.drainPending() {
					return
				}
				if s.synthesize("stream closed") {
					return
				}
			}
		case <-ticker.C:
			if s.sess.IdleExpired(s.now(), s.cfg.IdleWindow) {
				slog.Warn("research stream idle, synthesizing outcome",
					"session_id", s.sess.ID, "idle_window", s.cfg.IdleWindow)
				if s.synthesize("stream stalled") {
					return
				}
			}
		}
	}
}

// drainPending applies all already-queued events without blocking.
// Returns true when one of them took the session terminal.
func (s *Stream) drainPending() bool {
	for {
		select {
		case ev := <-s.events:
			if s.handle(ev) {
				return true
			}
		default:
			return false
		}
	}
}

// handle applies one event. Returns true when the session went terminal.
func (s *Stream) handle(ev event.Event) bool {
	if !s.sess.Touch(s.now()) {
		slog.Info("event after terminal state ignored", "session_id", s.sess.ID)
		return false
	}

	switch e := ev.(type) {
	case event.Token:
		s.sess.AppendText(e.Text)
		s.pacer.Enqueue(e.Text)

	case event.SourcesReady:
		s.mergeAndForward(e.Sources)
	case event.APICompleted:
		s.mergeAndForward(e.Sources)
	case event.RoundComplete:
		s.sess.ObserveRound(e.Round)
		s.mergeAndForward(e.Sources)

	case event.Complete:
		s.sess.MergeSources(e.Sources)
		return s.complete(e.Metadata)

	case event.Error:
		return s.fail(e.Message)

	default:
		if event.IsProgress(ev) {
			if rs, ok := ev.(event.RoundStarted); ok {
				s.sess.ObserveRound(rs.Round)
			}
			s.stages.Enqueue(StageText(ev))
		}
	}
	return false
}

// mergeAndForward merges a source batch by identity and forwards only the
// new ones; duplicates across rounds are dropped silently.
func (s *Stream) mergeAndForward(batch []source.Source) {
	if added := s.sess.MergeSources(batch); len(added) > 0 {
		s.snk.OnSources(s.sess.ID, added)
	}
}

// complete finishes the session successfully: the pacer is flushed so the
// UI reaches the final text without waiting out the pacing schedule, then
// the terminal event goes to the sink.
func (s *Stream) complete(metadata map[string]any) bool {
	if !s.sess.Transition(session.StatusCompleted) {
		slog.Info("duplicate complete ignored", "session_id", s.sess.ID)
		return false
	}
	s.pacer.Flush()
	s.pacer.Stop()
	s.stages.Stop()
	s.snk.OnComplete(s.sess.ID, s.sess.Answer(), s.sess.Sources(), metadata)
	s.fireTerminal()
	return true
}

func (s *Stream) fail(message string) bool {
	if !s.sess.Transition(session.StatusFailed) {
		slog.Info("error after terminal state ignored", "session_id", s.sess.ID)
		return false
	}
	// Flush so already-received partial text stays visible under the error.
	s.pacer.Flush()
	s.pacer.Stop()
	s.stages.Stop()
	s.snk.OnError(s.sess.ID, message)
	s.fireTerminal()
	return true
}

// cancel suppresses both terminal callbacks; queued pacer and stage work
// is discarded, not delivered.
func (s *Stream) cancel() {
	if !s.sess.Transition(session.StatusCancelled) {
		return
	}
	s.pacer.Stop()
	s.stages.Stop()
	s.fireTerminal()
}

// synthesize resolves a stalled or prematurely closed stream: a Complete
// carrying the accumulated answer when enough content arrived, an Error
// otherwise. Returns true when the session went terminal.
func (s *Stream) synthesize(reason string) bool {
	if s.sess.Status().Terminal() {
		return false
	}
	if s.sess.SynthesizeOnIdle(s.cfg.MinAnswerChars) {
		return s.complete(map[string]any{"synthesized": true, "reason": reason})
	}
	return s.fail("research ended before an answer was produced: " + reason)
}

func (s *Stream) fireTerminal() {
	if s.onTerminal != nil {
		s.onTerminal(s.sess)
	}
}
