package client

import "strings"

// SessionCookieName is the only cookie the portal needs to identify a session.
const SessionCookieName = "_yatri_session"

// CookiePair is one name/value pair from a cookie header.
type CookiePair struct {
	Name  string
	Value string
}

// ParseCookieHeader splits a Set-Cookie style header on ";" and then on the
// first "=". Attributes without a value (HttpOnly, Secure) get an empty Value.
func ParseCookieHeader(header string) []CookiePair {
	var pairs []CookiePair
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		pairs = append(pairs, CookiePair{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return pairs
}

// ExtractSessionCookie returns "_yatri_session=<value>" from the given
// Set-Cookie headers. Every other cookie is dropped. When the cookie is set
// more than once the last value wins.
func ExtractSessionCookie(headers ...string) (string, bool) {
	var found string
	for _, header := range headers {
		for _, pair := range ParseCookieHeader(header) {
			if pair.Name == SessionCookieName && pair.Value != "" {
				found = pair.Name + "=" + pair.Value
			}
		}
	}
	return found, found != ""
}
