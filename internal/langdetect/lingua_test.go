package langdetect

import "testing"

func TestDetect(t *testing.T) {
	if got := Detect("The central bank raised interest rates again on Wednesday afternoon"); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := Detect("Die Bundesregierung hat am Mittwoch ein neues Klimaschutzgesetz beschlossen"); got != "de" {
		t.Fatalf("expected de, got %q", got)
	}
}

func TestDetectShortText(t *testing.T) {
	t.Parallel()

	if got := Detect("  Hi  "); got != "" {
		t.Fatalf("expected no language for short text, got %q", got)
	}
	if got := Detect("12345 !!! ???"); got != "" {
		t.Fatalf("expected no language without letters, got %q", got)
	}
}

func TestNormalizeTag(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		" EN_us ": "en-us",
		"pt-BR":   "pt-br",
		"":        "",
		"en-1":    "",
		"de--DE":  "de-de",
	}
	for in, want := range cases {
		if got := NormalizeTag(in); got != want {
			t.Fatalf("NormalizeTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromTag(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"en-US": "en",
		"fr":    "fr",
		"deu":   "",
		"x_1":   "",
		"":      "",
	}
	for in, want := range cases {
		if got := FromTag(in); got != want {
			t.Fatalf("FromTag(%q) = %q, want %q", in, got, want)
		}
	}
}
