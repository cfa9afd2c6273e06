package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Key prefixes for the two key spaces. An authenticated caller and an
// anonymous client never share a bucket.
const (
	userKeyPrefix = "user:"
	ipKeyPrefix   = "ip:"
)

// KeyForIdentity returns the bucket key for an authenticated subject.
func KeyForIdentity(subject string) string {
	return userKeyPrefix + subject
}

// KeyForClient returns the bucket key for an anonymous client address.
func KeyForClient(addr string) string {
	return ipKeyPrefix + addr
}

// ClientIP extracts the client address from forwarding headers, falling
// back to the transport peer address.
func ClientIP(header http.Header, remoteAddr string) string {
	if xff := header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}

	// Bare address without a port, possibly a bracketed IPv6 literal.
	ip := strings.TrimPrefix(remoteAddr, "[")
	return strings.TrimSuffix(ip, "]")
}
