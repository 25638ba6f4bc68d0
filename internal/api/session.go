package api //nolint:revive // package name is intentional

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/internal/stream"
)

const (
	// SessionHeader carries the client session id.
	SessionHeader = "X-Session-Id"
	// UserHeader carries the authenticated user id, set by the edge proxy.
	UserHeader = "X-User-Id"
	// sessionParam is the session fallback for clients that cannot set headers
	// (EventSource, browser WebSocket).
	sessionParam = "session"
	langParam    = "lang"
)

// principalFromRequest reads the caller identity. Malformed ids are ignored.
func principalFromRequest(r *http.Request) stream.Principal {
	var p stream.Principal
	session := r.Header.Get(SessionHeader)
	if session == "" {
		session = r.URL.Query().Get(sessionParam)
	}
	if id, ok := observability.SanitizeID(session); ok {
		p.SessionID = id
	}
	if id, ok := observability.SanitizeID(r.Header.Get(UserHeader)); ok {
		p.UserID = id
	}
	return p
}

// uiLanguage returns the language the client declared, from the lang query parameter or
// the first Accept-Language entry.
func uiLanguage(r *http.Request) string {
	if lang := strings.TrimSpace(r.URL.Query().Get(langParam)); lang != "" {
		return lang
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}
