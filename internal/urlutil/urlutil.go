// SPDX-License-Identifier: MIT

// Package urlutil sanitizes tracking and media URLs for logging. Ad
// server URLs routinely carry user identifiers in the query string, so
// log output keeps only scheme, host and path.
package urlutil

import "net/url"

// Sanitize renders a parsed URL without user info or query parameters.
func Sanitize(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	clean.Fragment = ""
	clean.RawFragment = ""
	return clean.String()
}

// SanitizeString parses and sanitizes a raw URL string. Unparseable
// input is replaced wholesale so malformed values cannot leak.
func SanitizeString(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	return Sanitize(u)
}
