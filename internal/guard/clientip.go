package guard

import (
	"net/http"
	"strings"
)

// UnknownIP is the shared bucket for callers with no forwarding headers at
// all. Conservative on purpose: they rate-limit together rather than each
// getting a fresh window.
const UnknownIP = "unknown"

// ClientIP derives the caller's address from forwarding headers in priority
// order: the standard proxy header, then the real-IP header, then the CDN one.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	return UnknownIP
}
