// Package httputil holds request helpers shared by the API and stream handlers.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the client address used for per-IP stream limits and
// request logs. When trustProxy is true the first X-Forwarded-For entry, then
// X-Real-IP, are used if they hold a valid address. Only enable trustProxy
// behind a reverse proxy that overwrites those headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := headerIP(first); ok {
				return ip
			}
		}
		if ip, ok := headerIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// headerIP parses a proxy header value that may carry a port.
func headerIP(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if addr, err := netip.ParseAddr(v); err == nil {
		return addr.Unmap().String(), true
	}
	if ap, err := netip.ParseAddrPort(v); err == nil {
		return ap.Addr().Unmap().String(), true
	}
	return "", false
}
