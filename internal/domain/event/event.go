// Package event defines the closed set of semantic events reconstructed
// from the research backend's wire stream. The SSE parser is the only
// place that maps wire discriminators to these variants; everything
// downstream switches over the closed set.
package event

import "github.com/platewise/researchd/internal/domain/source"

// Event is one immutable semantic update. Implementations are the only
// variants that exist; the marker method keeps the set closed.
type Event interface {
	isEvent()
}

// Token carries a fragment of answer text.
type Token struct {
	Text string
}

// SourcesReady announces an initial batch of citable sources.
type SourcesReady struct {
	Sources []source.Source
}

// PlanningStarted marks the start of research planning.
type PlanningStarted struct{}

// PlanningComplete carries the finished research plan summary.
type PlanningComplete struct {
	Plan string
}

// RoundStarted marks the start of one research round.
type RoundStarted struct {
	Round            int
	Query            string
	EstimatedSources int
}

// APIStarted marks an upstream search API call beginning within a round.
type APIStarted struct {
	API           string
	ExpectedCount int
}

// APICompleted carries the sources returned by one API call.
type APICompleted struct {
	API     string
	Sources []source.Source
}

// RoundComplete carries the consolidated sources of a finished round.
type RoundComplete struct {
	Round   int
	Sources []source.Source
}

// ReflectionStarted marks the start of evidence reflection for a round.
type ReflectionStarted struct {
	Round int
}

// ReflectionComplete carries the reflection verdict for a round.
type ReflectionComplete struct {
	Round             int
	HasEnoughEvidence bool
	Quality           string
	ShouldContinue    bool
}

// SourceSelectionStarted marks the start of final source selection.
type SourceSelectionStarted struct{}

// SynthesisPreparation marks the transition into answer synthesis prep.
type SynthesisPreparation struct{}

// SynthesisStarted marks the start of final answer synthesis.
type SynthesisStarted struct {
	TotalRounds  int
	TotalSources int
}

// Complete is the terminal success event.
type Complete struct {
	Sources  []source.Source
	Metadata map[string]any
}

// Error is the terminal failure event.
type Error struct {
	Message string
}

func (Token) isEvent()                  {}
func (SourcesReady) isEvent()           {}
func (PlanningStarted) isEvent()        {}
func (PlanningComplete) isEvent()       {}
func (RoundStarted) isEvent()           {}
func (APIStarted) isEvent()             {}
func (APICompleted) isEvent()           {}
func (RoundComplete) isEvent()          {}
func (ReflectionStarted) isEvent()      {}
func (ReflectionComplete) isEvent()     {}
func (SourceSelectionStarted) isEvent() {}
func (SynthesisPreparation) isEvent()   {}
func (SynthesisStarted) isEvent()       {}
func (Complete) isEvent()               {}
func (Error) isEvent()                  {}

// IsProgress reports whether e is a multi-round progress event, i.e. one
// routed to the stage coordinator rather than mutating terminal session state.
func IsProgress(e Event) bool {
	switch e.(type) {
	case PlanningStarted, PlanningComplete, RoundStarted, APIStarted,
		ReflectionStarted, ReflectionComplete, SourceSelectionStarted,
		SynthesisPreparation, SynthesisStarted:
		return true
	}
	return false
}
