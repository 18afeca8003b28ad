// Package sse turns the research backend's chunked byte stream into typed
// domain events: Decoder yields text on UTF-8 boundaries, Splitter cuts it
// into protocol frames, Parser maps frame payloads to event variants.
package sse

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// DefaultMaxPending is the ceiling on retained undecodable bytes before the
// decoder salvages what it can and discards the rest as corrupted.
const DefaultMaxPending = 8 * 1024

// Decoder accumulates raw bytes and yields decoded text strictly on valid
// character boundaries. Trailing bytes of an incomplete multi-byte character
// are retained and prepended to the next Feed call.
type Decoder struct {
	pending    []byte
	maxPending int
}

// NewDecoder creates a decoder. maxPending <= 0 selects DefaultMaxPending.
func NewDecoder(maxPending int) *Decoder {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Decoder{maxPending: maxPending}
}

// Feed appends p and returns all text decodable on character boundaries.
// It never fails: invalid bytes are replaced with U+FFFD, and once the
// buffer outgrows the ceiling the undecodable remainder is discarded so
// the stream always makes forward progress.
func (d *Decoder) Feed(p []byte) string {
	d.pending = append(d.pending, p...)
	overflow := len(d.pending) > d.maxPending

	n := completePrefixLen(d.pending)
	out := strings.ToValidUTF8(string(d.pending[:n]), "�")
	d.pending = append(d.pending[:0], d.pending[n:]...)

	if overflow && len(d.pending) > 0 {
		// The tail never became decodable within the ceiling: corrupted,
		// not merely split. Discard it rather than stall the stream.
		slog.Warn("sse decoder discarding corrupted suffix",
			"discarded", len(d.pending), "salvaged", n)
		d.pending = d.pending[:0]
	}
	return out
}

// PendingLen returns the number of retained undecoded bytes.
func (d *Decoder) PendingLen() int {
	return len(d.pending)
}

// completePrefixLen returns the length of the longest prefix of b that ends
// on a character boundary. Invalid interior bytes count as complete (Feed
// replaces them); only a truncated multi-byte sequence at the tail is held
// back.
func completePrefixLen(b []byte) int {
	if len(b) == 0 {
		return 0
	}

	// Only the final at-most-UTFMax bytes can form an incomplete character.
	start := -1
	for i := len(b) - 1; i >= 0 && len(b)-i <= utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			start = i
			break
		}
	}
	if start < 0 {
		// No rune start in the tail window: every tail byte is a stray
		// continuation byte, all decodable as replacement characters.
		return len(b)
	}
	if utf8.FullRune(b[start:]) {
		return len(b)
	}
	return start
}
