package chunker

import (
	"fmt"
	"strings"

	"docchat/internal/domain"
)

// Span is one fixed-size window of the input text. Start is the rune offset
// of the span in the original text.
type Span struct {
	Text  string
	Start int
}

// Split cuts text into spans of size runes starting every size-overlap runes.
// The final span may be shorter. Whitespace-only spans are dropped without
// shifting the offsets of later spans. Deterministic, no side effects.
func Split(text string, size, overlap int) ([]Span, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", domain.ErrInvalidChunking, size, overlap)
	}

	runes := []rune(text)
	step := size - overlap

	var spans []Span
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		spans = append(spans, Span{Text: chunk, Start: start})
	}
	return spans, nil
}
