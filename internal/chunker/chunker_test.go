// File path: internal/chunker/chunker_test.go
package chunker

import (
	"strings"
	"testing"
)

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestSplitShortContentSingleChunk(t *testing.T) {
	content := "A short page that fits comfortably in one chunk."
	chunks := Split(content, Options{TargetSize: 1000})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != content {
		t.Fatalf("unexpected chunk content: %q", chunks[0])
	}
}

func TestSplitEmptyContent(t *testing.T) {
	if chunks := Split("", Options{}); chunks != nil {
		t.Fatalf("expected no chunks for empty content, got %v", chunks)
	}
	if chunks := Split("   \n\t ", Options{}); chunks != nil {
		t.Fatalf("expected no chunks for whitespace content, got %v", chunks)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 18) // ~90 chars
	content := strings.TrimSpace(strings.Repeat(para+"\n\n", 6))
	chunks := Split(content, Options{TargetSize: 200, Tolerance: 0.25})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if strings.HasPrefix(chunk, " ") || strings.HasSuffix(chunk, " ") {
			t.Fatalf("chunk %d not trimmed: %q", i, chunk)
		}
	}
}

func TestSplitRespectsSizeBound(t *testing.T) {
	content := strings.Repeat("alpha beta gamma delta epsilon. ", 200)
	target := 300
	tolerance := 0.2
	chunks := Split(content, Options{TargetSize: target, Tolerance: tolerance})
	max := target + int(float64(target)*tolerance)
	for i, chunk := range chunks {
		if len(chunk) > max {
			t.Fatalf("chunk %d length %d exceeds bound %d", i, len(chunk), max)
		}
	}
}

func TestSplitReassemblesContent(t *testing.T) {
	content := "First paragraph with several sentences. Another sentence here.\n\n" +
		strings.Repeat("Second paragraph keeps going with more text. ", 20) +
		"\n\nFinal paragraph."
	chunks := Split(content, Options{TargetSize: 150, Tolerance: 0.3})
	joined := collapseSpace(strings.Join(chunks, " "))
	if joined != collapseSpace(content) {
		t.Fatalf("reassembled content differs\nwant: %q\ngot:  %q", collapseSpace(content), joined)
	}
}

func TestSplitDeterministic(t *testing.T) {
	content := strings.Repeat("Deterministic chunking input. ", 100)
	first := Split(content, Options{TargetSize: 250})
	for run := 0; run < 5; run++ {
		again := Split(content, Options{TargetSize: 250})
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d chunks, want %d", run, len(again), len(first))
		}
		for i := range again {
			if again[i] != first[i] {
				t.Fatalf("run %d chunk %d differs", run, i)
			}
		}
	}
}

func TestSplitHardCutWithoutBoundaries(t *testing.T) {
	content := strings.Repeat("x", 1000)
	chunks := Split(content, Options{TargetSize: 300, Tolerance: 0.1})
	if len(chunks) < 3 {
		t.Fatalf("expected hard cuts to produce multiple chunks, got %d", len(chunks))
	}
	var total int
	for _, chunk := range chunks {
		total += len(chunk)
	}
	if total != len(content) {
		t.Fatalf("hard cuts lost characters: got %d, want %d", total, len(content))
	}
}
