package pipeline

import (
	"errors"
	"slices"
	"time"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

// ErrFieldAlreadySet is returned when a stage tries to rewrite a field
// recorded by an earlier stage.
var ErrFieldAlreadySet = errors.New("exchange field already set")

// StageResult is the result of one stage.
type StageResult string

// Stage results.
const (
	ResultContinue StageResult = "continue"
	ResultSkip     StageResult = "skip"
	ResultReject   StageResult = "reject"
)

// StageRecord is one entry of the decision trail.
type StageRecord struct {
	Stage    Stage
	Result   StageResult
	Code     Code
	Reason   string
	Duration time.Duration
}

// Exchange accumulates what the pipeline learned about one request.
//
// It is written only by the goroutine running the pipeline and is safe
// to read once Handle has returned. Every field can be set once.
type Exchange struct {
	requestID string
	startedAt time.Time

	version    string
	relPath    string
	rawRelPath string

	route    *router.Route
	identity *auth.Identity
	decision *ratelimit.Decision
	target   *Target
	response *Response

	trail []StageRecord
}

func newExchange(requestID string, startedAt time.Time) *Exchange {
	return &Exchange{
		requestID: requestID,
		startedAt: startedAt,
		trail:     make([]StageRecord, 0, 4),
	}
}

// RequestID returns the request id.
func (e *Exchange) RequestID() string { return e.requestID }

// StartedAt returns when the pipeline started.
func (e *Exchange) StartedAt() time.Time { return e.startedAt }

// Version returns the API version, empty if the path was not versioned.
func (e *Exchange) Version() string { return e.version }

// RelPath returns the path below /api/<version>.
func (e *Exchange) RelPath() string { return e.relPath }

// RawRelPath returns RelPath as the client escaped it.
func (e *Exchange) RawRelPath() string { return e.rawRelPath }

// Route returns the matched route, or nil.
func (e *Exchange) Route() *router.Route { return e.route }

// RouteName returns the matched route name, or "".
func (e *Exchange) RouteName() string {
	if e.route == nil {
		return ""
	}
	return e.route.Name
}

// Identity returns the verified identity, or nil on public routes and
// failed authentication.
func (e *Exchange) Identity() *auth.Identity { return e.identity }

// RateDecision returns the rate limiter decision, or nil if the request
// never reached rate checking.
func (e *Exchange) RateDecision() *ratelimit.Decision { return e.decision }

// Target returns the upstream target, or nil.
func (e *Exchange) Target() *Target { return e.target }

// Response returns the upstream response, or nil.
func (e *Exchange) Response() *Response { return e.response }

// Trail returns a copy of the stage records in execution order.
func (e *Exchange) Trail() []StageRecord { return slices.Clone(e.trail) }

func (e *Exchange) setPath(version, relPath, rawRelPath string) error {
	if e.version != "" {
		return ErrFieldAlreadySet
	}
	e.version, e.relPath, e.rawRelPath = version, relPath, rawRelPath
	return nil
}

func (e *Exchange) setRoute(r *router.Route) error {
	if e.route != nil {
		return ErrFieldAlreadySet
	}
	e.route = r
	return nil
}

func (e *Exchange) setIdentity(id *auth.Identity) error {
	if e.identity != nil {
		return ErrFieldAlreadySet
	}
	e.identity = id
	return nil
}

func (e *Exchange) setDecision(d ratelimit.Decision) error {
	if e.decision != nil {
		return ErrFieldAlreadySet
	}
	e.decision = &d
	return nil
}

func (e *Exchange) setTarget(t Target) error {
	if e.target != nil {
		return ErrFieldAlreadySet
	}
	e.target = &t
	return nil
}

func (e *Exchange) setResponse(r *Response) error {
	if e.response != nil {
		return ErrFieldAlreadySet
	}
	e.response = r
	return nil
}

func (e *Exchange) record(rec StageRecord) {
	e.trail = append(e.trail, rec)
}
