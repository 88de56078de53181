package util

import (
	"net/url"
	"strings"
)

// JoinURL joins a base URL and path segments with single slashes, ignoring empty segments.
// Unlike url.JoinPath it leaves the result without a trailing slash, which is the form the
// hub expects for topic and callback URLs.
func JoinURL(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}

// WithQuery appends encoded params to rawURL, keeping any query it already has.
func WithQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + params.Encode()
}
