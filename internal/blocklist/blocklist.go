// Package blocklist decides whether a URL should be rejected before it becomes
// a link.
package blocklist

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type EntryType string

const (
	TypeDomain EntryType = "domain"
	TypeURL    EntryType = "url"
)

type Entry struct {
	ID      int64     `json:"id,omitempty" yaml:"-"`
	Type    EntryType `json:"type" yaml:"type"`
	Pattern string    `json:"pattern" yaml:"pattern"`
}

// Normalize trims and lowercases the entry and validates its type.
func (e Entry) Normalize() (Entry, error) {
	e.Type = EntryType(strings.ToLower(strings.TrimSpace(string(e.Type))))
	e.Pattern = strings.ToLower(strings.TrimSpace(e.Pattern))
	if e.Pattern == "" {
		return Entry{}, fmt.Errorf("blocklist pattern is required")
	}
	switch e.Type {
	case TypeDomain:
		e.Pattern = strings.TrimPrefix(e.Pattern, "*.")
		e.Pattern = strings.TrimPrefix(e.Pattern, ".")
		if strings.ContainsAny(e.Pattern, "/ ") {
			return Entry{}, fmt.Errorf("domain pattern %q must be a bare host", e.Pattern)
		}
	case TypeURL:
	default:
		return Entry{}, fmt.Errorf("blocklist type must be %q or %q, got %q", TypeDomain, TypeURL, e.Type)
	}
	return e, nil
}

type compiled struct {
	entry Entry
	re    *regexp.Regexp
}

// Matcher checks URLs against an ordered entry list; the first match wins.
type Matcher struct {
	entries []compiled
}

func NewMatcher(entries []Entry) *Matcher {
	m := &Matcher{entries: make([]compiled, 0, len(entries))}
	for _, raw := range entries {
		entry, err := raw.Normalize()
		if err != nil {
			continue
		}
		c := compiled{entry: entry}
		if entry.Type == TypeURL && strings.Contains(entry.Pattern, "*") {
			parts := strings.Split(entry.Pattern, "*")
			for i := range parts {
				parts[i] = regexp.QuoteMeta(parts[i])
			}
			c.re = regexp.MustCompile(strings.Join(parts, ".*"))
		}
		m.entries = append(m.entries, c)
	}
	return m
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Match returns the first entry matching any of the given URLs.
func (m *Matcher) Match(urls ...string) (Entry, bool) {
	if m == nil || len(m.entries) == 0 {
		return Entry{}, false
	}
	for _, raw := range urls {
		lowered := strings.ToLower(strings.TrimSpace(raw))
		if lowered == "" {
			continue
		}
		host := hostOf(lowered)
		for _, c := range m.entries {
			if c.matches(lowered, host) {
				return c.entry, true
			}
		}
	}
	return Entry{}, false
}

func (c compiled) matches(loweredURL, host string) bool {
	switch c.entry.Type {
	case TypeDomain:
		if host == "" {
			return false
		}
		return host == c.entry.Pattern || strings.HasSuffix(host, "."+c.entry.Pattern)
	case TypeURL:
		if c.re != nil {
			return c.re.MatchString(loweredURL)
		}
		return strings.Contains(loweredURL, c.entry.Pattern)
	}
	return false
}

func hostOf(lowered string) string {
	parsed, err := url.Parse(lowered)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(parsed.Hostname(), ".")
}

type yamlFile struct {
	Entries []Entry `yaml:"entries"`
}

// ParseYAML reads an import file of the form
//
//	entries:
//	  - type: domain
//	    pattern: example.com
func ParseYAML(r io.Reader) ([]Entry, error) {
	var file yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode blocklist yaml: %w", err)
	}

	out := make([]Entry, 0, len(file.Entries))
	for i, raw := range file.Entries {
		entry, err := raw.Normalize()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
