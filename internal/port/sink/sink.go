// Package sink defines the port for the answer state consumer: the layer
// that paints paced answer text, stage cards and citations.
package sink

import "github.com/platewise/researchd/internal/domain/source"

// Sink receives ordered updates for one session. Each callback is invoked
// at most once per update, in delivery order, and must be non-blocking or
// hand off internally; the stream core never waits on a callback.
type Sink interface {
	// OnToken delivers one paced display unit of answer text.
	OnToken(sessionID, text string)

	// OnStage delivers the currently visible progress stage.
	OnStage(sessionID, stage string)

	// OnSources delivers newly merged sources in first-seen order.
	OnSources(sessionID string, sources []source.Source)

	// OnComplete delivers the terminal success outcome with the full
	// accumulated answer and source set.
	OnComplete(sessionID, answer string, sources []source.Source, metadata map[string]any)

	// OnError delivers the terminal failure outcome.
	OnError(sessionID, message string)
}
