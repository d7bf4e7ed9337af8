package domain

import (
	"net/url"
	"strings"
)

// ExternalID derives the stable identity of the application behind a window
// event: the URL host when present, then the native bundle id, then the
// display name.
func ExternalID(e WindowEvent) string {
	if e.URL != "" {
		if d := DomainFromURL(e.URL); d != "" {
			return d
		}
	}
	if e.BundleID != "" {
		return e.BundleID
	}
	return e.DisplayName
}

// DomainFromURL returns the host of rawURL without scheme, port, path, query or a leading "www.".
// Inputs without a scheme ("www.google.com/path") are accepted. URLs that
// carry no host, such as "about:blank" or "file:///tmp/x", yield "".
func DomainFromURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if strings.Contains(s, "://") || hasOpaqueScheme(s) {
		return ""
	}

	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// hasOpaqueScheme reports whether s looks like "scheme:rest" rather than
// "host:port", e.g. "about:blank" or "mailto:a@b.c"
func hasOpaqueScheme(s string) bool {
	i := strings.Index(s, ":")
	if i <= 0 || strings.ContainsAny(s[:i], "./") {
		return false
	}
	rest := s[i+1:]
	return rest == "" || rest[0] < '0' || rest[0] > '9'
}

// NewApplication builds the Application record for a window event seen for the first time
func NewApplication(e WindowEvent) *Application {
	name := e.DisplayName
	isBrowser := e.URL != ""
	if d := DomainFromURL(e.URL); d != "" {
		name = d
	}
	if name == "" {
		name = ExternalID(e)
	}
	return &Application{
		ExternalID: ExternalID(e),
		Name:       name,
		Platform:   e.Platform,
		IsBrowser:  isBrowser,
	}
}
