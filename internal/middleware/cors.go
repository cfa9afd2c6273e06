package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/avagate/internal/config"
)

// CORS response and request headers.
const (
	HeaderOrigin           = "Origin"
	HeaderRequestMethod    = "Access-Control-Request-Method"
	HeaderRequestHeaders   = "Access-Control-Request-Headers"
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderMaxAge           = "Access-Control-Max-Age"
	headerVary             = "Vary"
)

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// originPolicy holds the pre-computed header values.
type originPolicy struct {
	exact    map[string]struct{}
	suffixes []string
	any      bool

	methods     string
	headers     string
	expose      string
	maxAge      string
	credentials bool
}

func newOriginPolicy(cfg CORSConfig) *originPolicy {
	p := &originPolicy{
		exact:       make(map[string]struct{}, len(cfg.AllowOrigins)),
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	for _, origin := range cfg.AllowOrigins {
		switch {
		case origin == "*":
			p.any = true
		case strings.HasPrefix(origin, "*."):
			p.suffixes = append(p.suffixes, strings.ToLower(origin[1:]))
		default:
			p.exact[strings.ToLower(strings.TrimSuffix(origin, "/"))] = struct{}{}
		}
	}
	return p
}

// allows reports whether origin may read responses.
func (p *originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := p.exact[origin]; ok {
		return true
	}
	host := originHost(origin)
	for _, suffix := range p.suffixes {
		// "*.example.com" needs at least one label before the suffix.
		if len(host) > len(suffix) && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// originHost strips the scheme and port from an Origin value.
func originHost(origin string) string {
	if _, rest, ok := strings.Cut(origin, "://"); ok {
		origin = rest
	}
	if i := strings.LastIndexByte(origin, ':'); i >= 0 {
		origin = origin[:i]
	}
	return origin
}

func (p *originPolicy) setActualHeaders(h http.Header, origin string) {
	h.Set(HeaderAllowOrigin, origin)
	if p.credentials {
		h.Set(HeaderAllowCredentials, "true")
	}
	if p.expose != "" {
		h.Set(HeaderExposeHeaders, p.expose)
	}
}

func (p *originPolicy) setPreflightHeaders(h http.Header, origin string, r *http.Request) {
	h.Set(HeaderAllowOrigin, origin)
	if p.credentials {
		h.Set(HeaderAllowCredentials, "true")
	}
	if p.methods != "" {
		h.Set(HeaderAllowMethods, p.methods)
	}
	if p.headers != "" {
		h.Set(HeaderAllowHeaders, p.headers)
	} else if requested := r.Header.Get(HeaderRequestHeaders); requested != "" {
		h.Set(HeaderAllowHeaders, requested)
	}
	if p.maxAge != "" {
		h.Set(HeaderMaxAge, p.maxAge)
	}
}

// isPreflight reports a browser CORS preflight. A bare OPTIONS request
// is an ordinary request and is passed on.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get(HeaderOrigin) != "" &&
		r.Header.Get(HeaderRequestMethod) != ""
}

// CORS returns a middleware that answers preflight requests itself and
// decorates responses to allowed origins. Preflights from origins that
// are not allowed get 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newOriginPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get(HeaderOrigin)
			if origin != "" {
				w.Header().Add(headerVary, HeaderOrigin)
			}
			allowed := policy.allows(origin)

			if isPreflight(r) {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				policy.setPreflightHeaders(w.Header(), origin, r)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed {
				policy.setActualHeaders(w.Header(), origin)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSFromConfig creates CORS middleware from gateway config. A nil
// config disables CORS.
func CORSFromConfig(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return CORS(CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}
