package canonical

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":      {},
	"gclid":       {},
	"dclid":       {},
	"gclsrc":      {},
	"msclkid":     {},
	"yclid":       {},
	"twclid":      {},
	"igshid":      {},
	"mc_cid":      {},
	"mc_eid":      {},
	"_hsenc":      {},
	"_hsmi":       {},
	"mkt_tok":     {},
	"oly_anon_id": {},
	"oly_enc_id":  {},
	"vero_id":     {},
	"ref":         {},
	"ref_src":     {},
	"ref_url":     {},
	"smid":        {},
	"cmpid":       {},
	"s_cid":       {},
	"__s":         {},
}

var trackingQueryPrefixes = []string{"utm_", "pk_", "mtm_"}

// NormalizeURL reduces a URL to its canonical string form without touching the
// network: lowercase scheme and host, default port dropped, fragment removed,
// trailing slash trimmed, tracking parameters stripped and the query sorted.
func NormalizeURL(raw string) (string, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return normalizeParsed(parsed), nil
}

// Parse validates that raw is an absolute http(s) URL.
func Parse(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("url is empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("malformed url %q: %w", trimmed, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("malformed url %q: unsupported scheme", trimmed)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("malformed url %q: missing host", trimmed)
	}
	return parsed, nil
}

// Domain returns the display domain of a URL: lowercase host without a
// leading "www.".
func Domain(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

func normalizeParsed(in *url.URL) string {
	parsed := *in
	parsed.User = nil

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}
	parsed.Host = host

	parsed.Fragment = ""
	parsed.RawFragment = ""

	path := parsed.Path
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "/" {
		path = ""
	}
	parsed.Path = path
	parsed.RawPath = ""

	parsed.RawQuery = cleanQuery(parsed.Query())
	parsed.ForceQuery = false

	return parsed.String()
}

func cleanQuery(q url.Values) string {
	for key := range q {
		if isTrackingKey(key) {
			q.Del(key)
		}
	}
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reordered := url.Values{}
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		for _, value := range values {
			reordered.Add(key, value)
		}
	}
	return reordered.Encode()
}

func isTrackingKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, prefix := range trackingQueryPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	_, ok := trackingQueryKeys[lower]
	return ok
}
