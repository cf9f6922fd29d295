// File path: internal/chunker/chunker.go
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultTargetSize is the character budget aimed for per chunk.
	DefaultTargetSize = 1200
	// DefaultTolerance is the fraction by which a chunk may exceed or
	// undershoot the target when a natural boundary is available.
	DefaultTolerance = 0.2
)

var sentenceEnds = []string{". ", ".\n", "! ", "!\n", "? ", "?\n"}

// Options control how content is split.
type Options struct {
	TargetSize int
	Tolerance  float64
}

func (o Options) normalized() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.Tolerance <= 0 || o.Tolerance >= 1 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// Split divides content into an ordered sequence of chunks. Splits prefer
// paragraph breaks, then sentence ends, then word breaks inside the tolerance
// window, falling back to a hard cut. Concatenating the chunks reproduces the
// content up to whitespace at the split boundaries. The same input always
// produces the same sequence.
func Split(content string, opts Options) []string {
	opts = opts.normalized()
	text := Normalize(content)
	if text == "" {
		return nil
	}
	max := opts.TargetSize + int(float64(opts.TargetSize)*opts.Tolerance)
	min := opts.TargetSize - int(float64(opts.TargetSize)*opts.Tolerance)
	if min < 1 {
		min = 1
	}
	var chunks []string
	for len(text) > max {
		head, rest := cut(text, opts.TargetSize, min, max)
		head = strings.TrimSpace(head)
		if head != "" {
			chunks = append(chunks, head)
		}
		text = strings.TrimLeft(rest, " \t\n")
	}
	if remainder := strings.TrimSpace(text); remainder != "" {
		chunks = append(chunks, remainder)
	}
	return chunks
}

// Normalize canonicalizes line endings and trims surrounding whitespace so
// chunking is insensitive to the crawler's newline convention.
func Normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.TrimSpace(content)
}

// cut picks the split position for the next chunk. The window [min, max]
// bounds where a natural boundary is acceptable.
func cut(text string, target, min, max int) (head, rest string) {
	window := text[:max]
	if idx := strings.LastIndex(window, "\n\n"); idx >= min {
		return text[:idx], text[idx+2:]
	}
	best := -1
	for _, end := range sentenceEnds {
		if idx := strings.LastIndex(window, end); idx+1 >= min && idx+1 > best {
			best = idx + 1
		}
	}
	if best >= min {
		return text[:best], text[best:]
	}
	if idx := strings.LastIndexAny(window, " \t\n"); idx >= min {
		return text[:idx], text[idx+1:]
	}
	// No usable boundary in the window; hard cut at the target, backed up
	// to a rune start so multi-byte characters stay intact.
	pos := target
	for pos > 0 && !utf8.RuneStart(text[pos]) {
		pos--
	}
	if pos == 0 {
		pos = target
	}
	return text[:pos], text[pos:]
}
