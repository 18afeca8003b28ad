package sse

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/platewise/researchd/internal/domain/event"
	"github.com/platewise/researchd/internal/domain/source"
)

// wireFrame is the superset of fields the backend sends; the "type"
// discriminator selects which ones are meaningful.
type wireFrame struct {
	Type              string         `json:"type"`
	Content           string         `json:"content"`
	Plan              string         `json:"plan"`
	Round             int            `json:"round"`
	Query             string         `json:"query"`
	EstimatedSources  int            `json:"estimatedSources"`
	API               string         `json:"api"`
	ExpectedCount     int            `json:"expectedCount"`
	Sources           []wireSource   `json:"sources"`
	HasEnoughEvidence bool           `json:"hasEnoughEvidence"`
	Quality           string         `json:"quality"`
	ShouldContinue    bool           `json:"shouldContinue"`
	TotalRounds       int            `json:"totalRounds"`
	TotalSources      int            `json:"totalSources"`
	Metadata          map[string]any `json:"metadata"`
	Message           string         `json:"message"`
}

// wireSource is one citation as it appears on the wire.
type wireSource struct {
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Published *time.Time `json:"published,omitempty"`
	Excerpt   string     `json:"excerpt,omitempty"`
}

func (w wireSource) toDomain() source.Source {
	return source.Source{URL: w.URL, Title: w.Title, Published: w.Published, Excerpt: w.Excerpt}
}

func toDomainSources(ws []wireSource) []source.Source {
	if len(ws) == 0 {
		return nil
	}
	out := make([]source.Source, len(ws))
	for i, w := range ws {
		out[i] = w.toDomain()
	}
	return out
}

// Parse maps one frame payload to its event variant. Malformed payloads
// (invalid JSON, missing or unknown discriminator) return (nil, false) and
// a log entry; the caller continues with the next frame. Parse is pure:
// the same payload always yields the same result.
func Parse(payload string) (event.Event, bool) {
	var f wireFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		slog.Debug("sse frame payload not valid json", "error", err)
		return nil, false
	}

	switch f.Type {
	case "token":
		return event.Token{Text: f.Content}, true
	case "sources":
		return event.SourcesReady{Sources: toDomainSources(f.Sources)}, true
	case "planning_started":
		return event.PlanningStarted{}, true
	case "planning_complete":
		return event.PlanningComplete{Plan: f.Plan}, true
	case "round_started":
		return event.RoundStarted{Round: f.Round, Query: f.Query, EstimatedSources: f.EstimatedSources}, true
	case "api_started":
		return event.APIStarted{API: f.API, ExpectedCount: f.ExpectedCount}, true
	case "api_completed":
		return event.APICompleted{API: f.API, Sources: toDomainSources(f.Sources)}, true
	case "round_complete":
		return event.RoundComplete{Round: f.Round, Sources: toDomainSources(f.Sources)}, true
	case "reflection_started":
		return event.ReflectionStarted{Round: f.Round}, true
	case "reflection_complete":
		return event.ReflectionComplete{
			Round:             f.Round,
			HasEnoughEvidence: f.HasEnoughEvidence,
			Quality:           f.Quality,
			ShouldContinue:    f.ShouldContinue,
		}, true
	case "source_selection_started":
		return event.SourceSelectionStarted{}, true
	case "synthesis_preparation":
		return event.SynthesisPreparation{}, true
	case "synthesis_started":
		return event.SynthesisStarted{TotalRounds: f.TotalRounds, TotalSources: f.TotalSources}, true
	case "complete":
		return event.Complete{Sources: toDomainSources(f.Sources), Metadata: f.Metadata}, true
	case "error":
		return event.Error{Message: f.Message}, true
	case "":
		slog.Debug("sse frame missing type discriminator")
		return nil, false
	default:
		slog.Debug("sse frame with unknown type dropped", "type", f.Type)
		return nil, false
	}
}
