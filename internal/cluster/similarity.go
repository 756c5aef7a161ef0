package cluster

import (
	"errors"
	"html"
	"math"
	"strings"
)

var errDimensionMismatch = errors.New("vector dimensions differ")

// Cosine returns the cosine similarity of a and b. Zero vectors compare as 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

const (
	maxSuffixWords = 4
	maxSuffixRunes = 40
)

var titleSeparators = []string{" - ", " | ", " — ", " – "}

// CleanStoryTitle unescapes HTML entities and drops a trailing publication
// name such as " - CNN" or " | The Verge".
func CleanStoryTitle(raw string) string {
	title := strings.Join(strings.Fields(html.UnescapeString(raw)), " ")
	cut := -1
	sepLen := 0
	for _, sep := range titleSeparators {
		if idx := strings.LastIndex(title, sep); idx > cut {
			cut = idx
			sepLen = len(sep)
		}
	}
	if cut <= 0 {
		return title
	}
	head := strings.TrimSpace(title[:cut])
	suffix := strings.TrimSpace(title[cut+sepLen:])
	if head == "" || suffix == "" {
		return title
	}
	if len(strings.Fields(suffix)) > maxSuffixWords || len([]rune(suffix)) > maxSuffixRunes {
		return title
	}
	return head
}
