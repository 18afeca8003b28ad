package sse

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDecoder_SplitMultiByteCharacter(t *testing.T) {
	d := NewDecoder(0)

	// "Blutzuckerspiegel läuft" contains two-byte characters; split one.
	text := []byte("läuft — 食物繊維")
	var got strings.Builder
	for i := range text {
		got.WriteString(d.Feed(text[i : i+1]))
	}
	if got.String() != string(text) {
		t.Fatalf("byte-at-a-time decode = %q, want %q", got.String(), string(text))
	}
	if d.PendingLen() != 0 {
		t.Fatalf("expected empty pending buffer, got %d bytes", d.PendingLen())
	}
}

func TestDecoder_RetainsIncompleteTail(t *testing.T) {
	d := NewDecoder(0)

	full := []byte("答え") // 3 bytes per character
	out := d.Feed(full[:4])
	if out != "答" {
		t.Fatalf("expected complete first character, got %q", out)
	}
	if d.PendingLen() != 1 {
		t.Fatalf("expected 1 retained byte, got %d", d.PendingLen())
	}

	out = d.Feed(full[4:])
	if out != "え" {
		t.Fatalf("expected second character after completion, got %q", out)
	}
}

func TestDecoder_StrayContinuationBytesDoNotBlock(t *testing.T) {
	d := NewDecoder(0)

	out := d.Feed([]byte{0x80, 0x81, 'o', 'k'})
	if !strings.HasSuffix(out, "ok") {
		t.Fatalf("expected stray continuation bytes decoded through, got %q", out)
	}
	if d.PendingLen() != 0 {
		t.Fatalf("expected forward progress, %d bytes pending", d.PendingLen())
	}
}

func TestDecoder_SalvagesOversizedPending(t *testing.T) {
	d := NewDecoder(8)

	// A lead byte promising continuation bytes that never arrive, padded
	// past the ceiling.
	junk := append([]byte("abcdefgh"), 0xE3) // 0xE3 starts a 3-byte sequence
	out := d.Feed(junk)
	if out != "abcdefgh" {
		t.Fatalf("expected salvaged prefix %q, got %q", "abcdefgh", out)
	}
	if d.PendingLen() != 0 {
		t.Fatalf("expected corrupted remainder discarded, %d pending", d.PendingLen())
	}

	// The decoder keeps working afterwards, and the discarded lead byte
	// must not resurface in front of later text.
	if got := d.Feed([]byte("next")); got != "next" {
		t.Fatalf("expected decoder usable after salvage, got %q", got)
	}
}

func TestDecoder_InvalidBytesBecomeReplacementCharacters(t *testing.T) {
	d := NewDecoder(0)

	out := d.Feed([]byte{'a', 0xE3, 'b'})
	if out != "a�b" {
		t.Fatalf("expected invalid interior byte replaced, got %q", out)
	}
	if !utf8.ValidString(out) {
		t.Fatalf("decoder emitted invalid UTF-8: %q", out)
	}
}

func TestDecoder_EmptyFeed(t *testing.T) {
	d := NewDecoder(0)
	if out := d.Feed(nil); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}
