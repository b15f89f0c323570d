// Package requestip derives the client IP from a request, preferring proxy
// headers over the transport address. The rate limiter and the security flag
// emitter share this policy so both key on the same address.
package requestip

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when no usable candidate exists at all.
const Unknown = "unknown"

// headerOrder lists proxy headers from most to least trusted.
var headerOrder = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
	"CF-Connecting-IP",
}

// FromRequest returns the best client IP for the request. Public candidates
// win; when none exists, any non-loopback candidate is accepted; otherwise
// Unknown.
func FromRequest(r *http.Request) string {
	candidates := collect(r)

	for _, c := range candidates {
		if ip := net.ParseIP(c); ip != nil && isPublic(ip) {
			return c
		}
	}
	for _, c := range candidates {
		if ip := net.ParseIP(c); ip != nil && !ip.IsLoopback() {
			return c
		}
	}
	return Unknown
}

func collect(r *http.Request) []string {
	var candidates []string

	for _, header := range headerOrder {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		if header == "X-Forwarded-For" {
			// Only the first entry is the client; the rest are proxies.
			value = strings.Split(value, ",")[0]
		}
		value = strings.TrimSpace(value)
		if value != "" {
			candidates = append(candidates, value)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		candidates = append(candidates, host)
	} else if r.RemoteAddr != "" {
		candidates = append(candidates, r.RemoteAddr)
	}

	return candidates
}

func isPublic(ip net.IP) bool {
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() && !ip.IsUnspecified()
}
