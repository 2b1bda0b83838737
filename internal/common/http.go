package common

import (
	"net"
	"net/http"
)

// ClientIP returns the host part of r.RemoteAddr. The router runs chi's RealIP
// middleware first, so forwarded headers are already applied.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
