package batch

import (
	"net/url"
	"strings"
)

// schemeFixes maps the malformed scheme prefixes seen in hand-edited
// spreadsheets to their canonical forms. Rules are checked in order and at
// most one rewrite is applied.
var schemeFixes = []struct {
	prefix string
	scheme string
}{
	{"https:/", "https://"},
	{"http:/", "http://"},
	{"https/", "https://"},
	{"http/", "http://"},
}

// NormalizeURL rewrites known malformed scheme prefixes (single slash or
// missing colon, e.g. "https:/example.com" or "http/example.com") to the
// canonical double-slash form. Well-formed input is returned unchanged, so
// NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(raw string) string {
	for _, fix := range schemeFixes {
		if !strings.HasPrefix(raw, fix.prefix) {
			continue
		}
		rest := raw[len(fix.prefix):]
		if strings.HasPrefix(rest, "/") {
			// Already canonical ("http://…" begins with "http:/").
			break
		}
		return fix.scheme + rest
	}
	return raw
}

// ValidateURL reports whether s parses into a URL carrying both a scheme and
// a host. Rows failing this check never reach the remote service.
func ValidateURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
