package sse

import (
	"log/slog"
	"strings"
)

// Splitter groups decoded text into discrete frame payloads. Frames are
// separated by a blank line; payload lines carry a "data: " prefix. A
// trailing partial frame is retained until its terminator arrives.
type Splitter struct {
	buf strings.Builder
}

// NewSplitter creates a frame splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Feed appends decoded text and returns the payloads of all complete
// frames, in order. Frames without a recognizable data line are dropped
// with a log entry; splitting never fails.
func (s *Splitter) Feed(text string) []string {
	s.buf.WriteString(text)

	raw := s.buf.String()
	var frames []string
	for {
		idx, skip := frameBoundary(raw)
		if idx < 0 {
			break
		}
		block := raw[:idx]
		raw = raw[idx+skip:]
		if payload, ok := extractPayload(block); ok {
			frames = append(frames, payload)
		}
	}

	s.buf.Reset()
	s.buf.WriteString(raw)
	return frames
}

// frameBoundary finds the first blank-line separator, tolerating CRLF.
// Returns the block end index and the separator width, or -1.
func frameBoundary(raw string) (idx, skip int) {
	lf := strings.Index(raw, "\n\n")
	crlf := strings.Index(raw, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// extractPayload joins the data lines of one frame block. Comment lines
// (":" prefix) and unknown fields are skipped per the SSE contract.
func extractPayload(block string) (string, bool) {
	var data []string
	for line := range strings.Lines(block) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "data: "):
			data = append(data, line[len("data: "):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, line[len("data:"):])
		}
	}
	if len(data) == 0 {
		if strings.TrimSpace(block) != "" {
			slog.Debug("sse frame without data payload dropped", "bytes", len(block))
		}
		return "", false
	}
	return strings.Join(data, "\n"), true
}
