// Package session defines the research stream session entity and its
// status state machine. All mutation happens on the single goroutine of
// the owning stream actor; the entity itself holds no locks.
package session

import (
	"strings"
	"time"

	"github.com/platewise/researchd/internal/domain/source"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session accumulates per-request state as events arrive.
// Answer text is append-only and sources merge by normalized URL;
// neither ever shrinks before a terminal status is set.
type Session struct {
	ID        string
	Query     string
	CreatedAt time.Time

	status      Status
	answer      strings.Builder
	sources     *source.Set
	rounds      int
	lastEventAt time.Time
	retries     int
}

// New creates a session in Connecting state.
func New(id, query string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Query:       query,
		CreatedAt:   now,
		status:      StatusConnecting,
		sources:     source.NewSet(),
		lastEventAt: now,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status { return s.status }

// Answer returns the accumulated answer text.
func (s *Session) Answer() string { return s.answer.String() }

// Sources returns a copy of the accumulated sources in first-seen order.
func (s *Session) Sources() []source.Source { return s.sources.All() }

// SourceCount returns the number of distinct accumulated sources.
func (s *Session) SourceCount() int { return s.sources.Len() }

// Rounds returns the highest round number observed.
func (s *Session) Rounds() int { return s.rounds }

// LastEventAt returns when the session last observed an event.
func (s *Session) LastEventAt() time.Time { return s.lastEventAt }

// Retries returns how many connection retries the session has absorbed.
func (s *Session) Retries() int { return s.retries }

// RecordRetry counts one connection retry against this session.
func (s *Session) RecordRetry() { s.retries++ }

// Touch records event arrival and promotes Connecting to Streaming.
// Returns false without mutating anything if the session is terminal.
func (s *Session) Touch(now time.Time) bool {
	if s.status.Terminal() {
		return false
	}
	s.lastEventAt = now
	if s.status == StatusConnecting {
		s.status = StatusStreaming
	}
	return true
}

// AppendText appends token text to the accumulated answer.
func (s *Session) AppendText(text string) {
	s.answer.WriteString(text)
}

// MergeSources merges a batch of sources by identity, returning the ones
// that were new.
func (s *Session) MergeSources(batch []source.Source) []source.Source {
	return s.sources.AddAll(batch)
}

// ObserveRound records a round number; the count only ever grows.
func (s *Session) ObserveRound(round int) {
	if round > s.rounds {
		s.rounds = round
	}
}

// Transition moves the session to a terminal status. Returns false if the
// session is already terminal (out-of-order duplicate; caller logs and
// ignores).
func (s *Session) Transition(to Status) bool {
	if s.status.Terminal() {
		return false
	}
	s.status = to
	return true
}

// IdleExpired reports whether the idle window has elapsed since the last
// observed event. The idle rule applies only once events have started
// flowing; the connecting phase is governed by the retry schedule instead.
func (s *Session) IdleExpired(now time.Time, window time.Duration) bool {
	if s.status != StatusStreaming {
		return false
	}
	return now.Sub(s.lastEventAt) >= window
}

// SynthesizeOnIdle decides the best-effort terminal outcome for a stalled
// stream: a Complete carrying the accumulated answer when enough content
// arrived, otherwise an Error. minChars is a display heuristic, not a
// semantic guarantee.
func (s *Session) SynthesizeOnIdle(minChars int) (complete bool) {
	return s.answer.Len() > 0 && s.answer.Len() >= minChars
}
