package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const (
	minLetters    = 12
	minConfidence = 0.5
	maxSample     = 1000
)

// Languages that show up in the link stream. Restricting the set keeps the
// lazily loaded models small and short titles less ambiguous.
var newsLanguages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Dutch,
	lingua.Polish,
	lingua.Swedish,
	lingua.Russian,
	lingua.Ukrainian,
	lingua.Turkish,
	lingua.Japanese,
	lingua.Chinese,
	lingua.Korean,
	lingua.Arabic,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Detect returns the ISO 639-1 code of text, or "" when the text is too short
// or no language is confident enough.
func Detect(text string) string {
	sample := sampleText(text)
	if sample == "" {
		return ""
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minLetters {
		return ""
	}

	d := getDetector()
	language, exists := d.DetectLanguageOf(sample)
	if !exists {
		return ""
	}
	if d.ComputeLanguageConfidence(sample, language) < minConfidence {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func sampleText(text string) string {
	sample := strings.Join(strings.Fields(text), " ")
	if runes := []rune(sample); len(runes) > maxSample {
		sample = string(runes[:maxSample])
	}
	return sample
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(newsLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
