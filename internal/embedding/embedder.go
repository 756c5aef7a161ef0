package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Input builds the text embedded for a link: title plus AI summary when present.
func Input(title, summary string) string {
	title = strings.TrimSpace(title)
	summary = strings.TrimSpace(summary)
	switch {
	case title == "":
		return ""
	case summary == "":
		return title
	default:
		return title + "\n\n" + summary
	}
}

// ValidateVector rejects empty vectors and non-finite components.
func ValidateVector(values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("vector is empty")
	}
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("vector has non-finite value at index %d", i)
		}
	}
	return nil
}
