package router

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/vyrodovalexey/avagate/internal/util"
)

var versionPattern = regexp.MustCompile(`^v[0-9]+$`)

// Route maps a versioned path prefix to a backend and forwarding policy.
type Route struct {
	// Name uniquely identifies the route.
	Name string

	// Version is the API version, e.g. "v1".
	Version string

	// Prefix is the path prefix below /api/<version>, e.g. "/orders".
	Prefix string

	// Backend is the base URL of the upstream service.
	Backend string

	// Public routes skip authentication and are limited per client address.
	Public bool

	// Cost is the number of tokens one request consumes.
	Cost int

	// Timeout bounds the upstream call. Zero means the forwarder default.
	Timeout time.Duration

	// Retries is the number of extra attempts the forwarder may make for
	// idempotent requests.
	Retries int

	// StripPrefix removes /api/<version> before forwarding.
	StripPrefix bool

	// Scopes lists scopes the caller must hold.
	Scopes []string

	target *url.URL
}

// Target returns the parsed backend URL.
func (r *Route) Target() *url.URL {
	u := *r.target
	return &u
}

// UpstreamPath returns the path to send upstream for a request to the
// given version-relative path.
func (r *Route) UpstreamPath(relPath string) string {
	p := relPath
	if !r.StripPrefix {
		p = "/api/" + r.Version + relPath
	}
	base := strings.TrimSuffix(r.target.Path, "/")
	if base == "" {
		return p
	}
	return base + p
}

// matches reports whether the route's prefix covers path on a segment
// boundary.
func (r *Route) matches(path string) bool {
	if r.Prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

// normalizePrefix makes a prefix start with "/" and drops a trailing "/".
func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// compile validates a route and returns an immutable copy with defaults
// applied.
func compile(r Route, verr *util.ValidationError) *Route {
	c := r
	c.Scopes = slices.Clone(r.Scopes)
	c.Prefix = normalizePrefix(r.Prefix)

	field := func(name string) string {
		return fmt.Sprintf("routes[%s].%s", r.Name, name)
	}

	if !versionPattern.MatchString(r.Version) {
		verr.AddField(field("version"), fmt.Sprintf("invalid version %q, expected v<number>", r.Version))
	}
	if strings.Contains(c.Prefix, "//") || HasDotSegments(c.Prefix) {
		verr.AddField(field("prefix"), fmt.Sprintf("invalid prefix %q", r.Prefix))
	}

	u, err := url.Parse(r.Backend)
	switch {
	case err != nil:
		verr.AddField(field("backend"), err.Error())
	case u.Scheme != "http" && u.Scheme != "https":
		verr.AddField(field("backend"), fmt.Sprintf("unsupported scheme %q", u.Scheme))
	case u.Host == "":
		verr.AddField(field("backend"), "missing host")
	default:
		c.target = u
	}

	switch {
	case c.Cost == 0:
		c.Cost = 1
	case c.Cost < 0:
		verr.AddField(field("cost"), "must be positive")
	}
	if c.Timeout < 0 {
		verr.AddField(field("timeout"), "must not be negative")
	}
	if c.Retries < 0 {
		verr.AddField(field("retries"), "must not be negative")
	}

	return &c
}
