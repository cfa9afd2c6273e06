package router

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/util"
)

var (
	// ErrNoMatch indicates that no route covers the version and path.
	ErrNoMatch = errors.New("no matching route")

	// ErrAmbiguousRoute indicates two routes matched with equal prefix
	// length. Replace rejects such tables, so seeing it is a bug.
	ErrAmbiguousRoute = errors.New("ambiguous route match")
)

// snapshot is one immutable generation of the table.
type snapshot struct {
	generation uint64
	// byVersion holds routes ordered by descending prefix length.
	byVersion map[string][]*Route
	routes    []*Route
}

// Table is the versioned route table.
type Table struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
	logger  observability.Logger
	metrics *Metrics
}

// Option is a functional option for the table.
type Option func(*Table)

// WithLogger sets the logger for the table.
func WithLogger(logger observability.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics for the table.
func WithMetrics(metrics *Metrics) Option {
	return func(t *Table) {
		t.metrics = metrics
	}
}

// NewTable creates an empty table at generation 0.
func NewTable(opts ...Option) *Table {
	t := &Table{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(t)
	}
	t.current.Store(&snapshot{byVersion: map[string][]*Route{}})
	return t
}

// Resolve finds the route for a version and a version-relative path.
// The returned route is shared and must not be modified.
func (t *Table) Resolve(version, relPath string) (*Route, error) {
	snap := t.current.Load()

	route, err := snap.resolve(version, relPath)
	t.metrics.recordResolve(err)
	if errors.Is(err, ErrAmbiguousRoute) {
		t.logger.Error("ambiguous route match",
			observability.String("version", version),
			observability.String("path", relPath),
			observability.Uint64("generation", snap.generation),
		)
	}
	return route, err
}

func (s *snapshot) resolve(version, relPath string) (*Route, error) {
	routes := s.byVersion[version]
	for i, r := range routes {
		if !r.matches(relPath) {
			continue
		}
		for _, other := range routes[i+1:] {
			if len(other.Prefix) < len(r.Prefix) {
				break
			}
			if other.matches(relPath) {
				return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousRoute, r.Name, other.Name)
			}
		}
		return r, nil
	}
	return nil, ErrNoMatch
}

// Replace validates routes and installs them as the new table. It
// returns the new generation. On error the current table is kept.
func (t *Table) Replace(routes []Route) (uint64, error) {
	verr := util.NewValidationError("invalid route table")
	names := make(map[string]bool, len(routes))
	keys := make(map[string]string, len(routes))
	byVersion := make(map[string][]*Route)
	compiled := make([]*Route, 0, len(routes))

	for i, r := range routes {
		if r.Name == "" {
			verr.AddField(fmt.Sprintf("routes[%d].name", i), "is required")
			continue
		}
		if names[r.Name] {
			verr.AddField(fmt.Sprintf("routes[%s].name", r.Name), "duplicate route name")
			continue
		}
		names[r.Name] = true

		c := compile(r, verr)
		key := c.Version + " " + c.Prefix
		if prev, ok := keys[key]; ok {
			verr.AddField(fmt.Sprintf("routes[%s].prefix", r.Name),
				fmt.Sprintf("prefix %s %s already used by route %s", c.Version, c.Prefix, prev))
			continue
		}
		keys[key] = c.Name

		compiled = append(compiled, c)
		byVersion[c.Version] = append(byVersion[c.Version], c)
	}

	if verr.HasErrors() {
		return 0, verr
	}

	for _, rs := range byVersion {
		slices.SortStableFunc(rs, func(a, b *Route) int {
			if n := cmp.Compare(len(b.Prefix), len(a.Prefix)); n != 0 {
				return n
			}
			return strings.Compare(a.Prefix, b.Prefix)
		})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	next := &snapshot{
		generation: t.current.Load().generation + 1,
		byVersion:  byVersion,
		routes:     compiled,
	}
	t.current.Store(next)
	t.metrics.setTable(next.generation, len(compiled))

	t.logger.Info("route table replaced",
		observability.Uint64("generation", next.generation),
		observability.Int("routes", len(compiled)),
	)

	return next.generation, nil
}

// Generation returns the generation of the current table.
func (t *Table) Generation() uint64 {
	return t.current.Load().generation
}

// Len returns the number of routes in the current table.
func (t *Table) Len() int {
	return len(t.current.Load().routes)
}

// Routes returns copies of the routes in the current table.
func (t *Table) Routes() []Route {
	snap := t.current.Load()
	out := make([]Route, 0, len(snap.routes))
	for _, r := range snap.routes {
		out = append(out, *r)
	}
	return out
}

// SplitVersionedPath splits "/api/v1/orders/5" into "v1" and
// "/orders/5". The path is taken as sent: a trailing slash is kept and
// nothing is cleaned. ok is false for paths outside /api/v<n> and for
// paths with "." or ".." segments, which could otherwise address
// something outside the matched prefix upstream.
func SplitVersionedPath(p string) (version, relPath string, ok bool) {
	if HasDotSegments(p) {
		return "", "", false
	}

	rest, found := strings.CutPrefix(p, "/api/")
	if !found {
		return "", "", false
	}

	version, relPath, _ = strings.Cut(rest, "/")
	if !versionPattern.MatchString(version) {
		return "", "", false
	}
	return version, "/" + relPath, true
}

// HasDotSegments reports whether p contains a "." or ".." segment.
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
