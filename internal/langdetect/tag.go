package langdetect

import "strings"

// NormalizeTag lowercases a BCP 47 style tag and joins subtags with "-".
// Blank values and tags with non-letter subtags return "".
func NormalizeTag(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '-' || r == '_' })
	for _, part := range parts {
		for _, r := range part {
			if r < 'a' || r > 'z' {
				return ""
			}
		}
	}
	return strings.Join(parts, "-")
}

// FromTag returns the two-letter primary subtag of a declared language
// ("en" from "en-US"), or "" when the tag is not ISO 639-1 shaped.
func FromTag(raw string) string {
	tag := NormalizeTag(raw)
	primary, _, _ := strings.Cut(tag, "-")
	if len(primary) != 2 {
		return ""
	}
	return primary
}
