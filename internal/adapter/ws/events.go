package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/platewise/researchd/internal/domain/source"
)

// Event type constants for WebSocket messages.
const (
	EventToken    = "research.token"
	EventStage    = "research.stage"
	EventSources  = "research.sources"
	EventComplete = "research.complete"
	EventError    = "research.error"
)

// TokenEvent carries one paced display unit of answer text.
type TokenEvent struct {
	Text string `json:"text"`
}

// StageEvent carries the currently visible progress stage.
type StageEvent struct {
	Stage string `json:"stage"`
}

// SourcesEvent carries newly discovered citation sources.
type SourcesEvent struct {
	Sources []source.Source `json:"sources"`
}

// CompleteEvent carries the final answer with its citations.
type CompleteEvent struct {
	Answer   string          `json:"answer"`
	Sources  []source.Source `json:"sources"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// ErrorEvent carries a terminal failure message.
type ErrorEvent struct {
	Message string `json:"message"`
}

// BroadcastEvent marshals a typed event and routes it to the session's
// subscribers.
func (h *Hub) BroadcastEvent(ctx context.Context, sessionID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   json.RawMessage(data),
	})
}
