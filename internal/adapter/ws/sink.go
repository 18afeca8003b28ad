package ws

import (
	"context"

	"github.com/platewise/researchd/internal/domain/source"
	"github.com/platewise/researchd/internal/port/broadcast"
)

// Sink adapts the hub to the streaming pipeline's sink port: every
// callback becomes a typed broadcast to the session's subscribers.
type Sink struct {
	hub broadcast.Broadcaster
}

// NewSink creates a sink broadcasting through the given broadcaster,
// typically the hub.
func NewSink(hub broadcast.Broadcaster) *Sink {
	return &Sink{hub: hub}
}

func (s *Sink) OnToken(sessionID, text string) {
	s.hub.BroadcastEvent(context.Background(), sessionID, EventToken, TokenEvent{Text: text})
}

func (s *Sink) OnStage(sessionID, stage string) {
	s.hub.BroadcastEvent(context.Background(), sessionID, EventStage, StageEvent{Stage: stage})
}

func (s *Sink) OnSources(sessionID string, sources []source.Source) {
	s.hub.BroadcastEvent(context.Background(), sessionID, EventSources, SourcesEvent{Sources: sources})
}

func (s *Sink) OnComplete(sessionID, answer string, sources []source.Source, metadata map[string]any) {
	s.hub.BroadcastEvent(context.Background(), sessionID, EventComplete, CompleteEvent{
		Answer:   answer,
		Sources:  sources,
		Metadata: metadata,
	})
}

func (s *Sink) OnError(sessionID, message string) {
	s.hub.BroadcastEvent(context.Background(), sessionID, EventError, ErrorEvent{Message: message})
}
