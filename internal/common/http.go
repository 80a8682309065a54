package common

import (
	"net"
	"net/http"
	"strings"
)

// LoopbackIP is reported when no client address can be determined.
const LoopbackIP = "127.0.0.1"

// ClientIP attempts to determine the real client IP address from the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); ip != "" {
		parts := strings.Split(ip, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			return candidate
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// ClientIPOrLoopback returns ClientIP, or LoopbackIP when it is empty.
func ClientIPOrLoopback(r *http.Request) string {
	if ip := ClientIP(r); ip != "" {
		return ip
	}
	return LoopbackIP
}
