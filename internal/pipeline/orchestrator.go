package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

const (
	tracerName = "github.com/vyrodovalexey/avagate/internal/pipeline"

	// DefaultForwardTimeout applies to routes without their own timeout.
	DefaultForwardTimeout = 30 * time.Second

	// HeaderRequestID carries the request id in and out of the gateway.
	HeaderRequestID = "X-Request-ID"
)

// Resolver looks up routes.
type Resolver interface {
	Resolve(version, relPath string) (*router.Route, error)
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*auth.Identity, error)
}

// Admitter charges rate limit buckets.
type Admitter interface {
	Admit(key string, cost int) ratelimit.Decision
}

// Recorder receives stage and request outcomes for metrics.
type Recorder interface {
	RecordStage(stage, result string, duration time.Duration)
	RecordOutcome(route, code string, status int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordStage(string, string, time.Duration)        {}
func (nopRecorder) RecordOutcome(string, string, int, time.Duration) {}

// Outcome is the result of one pipeline run.
type Outcome struct {
	// Code is the terminal code, CodeOK when the upstream answered.
	Code Code

	// Status is the HTTP status to send: the upstream status on success,
	// the rejection status otherwise.
	Status int

	// Response is the upstream response, nil when rejected.
	Response *Response

	// Rejection is the terminal rejection, nil on success.
	Rejection *Rejection

	// Exchange holds everything the stages recorded.
	Exchange *Exchange

	// Duration is the total pipeline time.
	Duration time.Duration
}

// Orchestrator runs requests through the pipeline. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	resolver       Resolver
	verifier       Verifier
	limiter        Admitter
	forwarder      Forwarder
	recorder       Recorder
	tracer         trace.Tracer
	logger         observability.Logger
	now            func() time.Time
	newID          func() string
	defaultTimeout time.Duration
}

// Option is a functional option for the orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithTracerProvider sets the tracer provider used for stage spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithDefaultTimeout sets the forward timeout for routes without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// New creates an orchestrator.
func New(resolver Resolver, verifier Verifier, limiter Admitter, forwarder Forwarder, opts ...Option) (*Orchestrator, error) {
	switch {
	case resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case limiter == nil:
		return nil, errors.New("pipeline: limiter is required")
	case forwarder == nil:
		return nil, errors.New("pipeline: forwarder is required")
	}

	o := &Orchestrator{
		resolver:       resolver,
		verifier:       verifier,
		limiter:        limiter,
		forwarder:      forwarder,
		recorder:       nopRecorder{},
		tracer:         otel.Tracer(tracerName),
		logger:         observability.NopLogger(),
		now:            time.Now,
		newID:          uuid.NewString,
		defaultTimeout: DefaultForwardTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type stage struct {
	name Stage
	run  func(ctx context.Context, ex *Exchange, req *Request) (StageResult, *Rejection)
}

// Handle runs req through the pipeline. It never returns nil.
func (o *Orchestrator) Handle(ctx context.Context, req *Request) *Outcome {
	start := o.now()

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = o.newID()
	}
	ex := newExchange(requestID, start)

	ctx, span := o.tracer.Start(ctx, "gateway.pipeline",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("gateway.request_id", requestID),
		),
	)
	defer span.End()

	stages := []stage{
		{StageRouting, o.route},
		{StageAuthenticating, o.authenticate},
		{StageRateChecking, o.checkRate},
		{StageForwarding, o.forward},
	}

	var rej *Rejection
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			rej = newRejection(st.name, CodeCanceled, ReasonClientCanceled, err)
			ex.record(StageRecord{Stage: st.name, Result: ResultReject, Code: rej.Code, Reason: rej.Reason})
			break
		}
		if rej = o.runStage(ctx, st, ex, req); rej != nil {
			break
		}
	}

	out := &Outcome{Exchange: ex, Rejection: rej, Duration: o.now().Sub(start)}
	if rej != nil {
		out.Code, out.Status = rej.Code, rej.Status
		span.SetStatus(codes.Error, string(rej.Code))
		o.logRejection(ctx, ex, rej)
	} else {
		out.Code = CodeOK
		out.Response = ex.Response()
		out.Status = out.Response.Status
	}

	span.SetAttributes(
		attribute.String("gateway.route", ex.RouteName()),
		attribute.String("gateway.code", string(out.Code)),
		attribute.Int("http.response.status_code", out.Status),
	)
	o.recorder.RecordOutcome(ex.RouteName(), string(out.Code), out.Status, out.Duration)

	return out
}

// runStage runs one stage under its own span, converting a panic into
// an INTERNAL rejection so shared state and the process survive.
func (o *Orchestrator) runStage(ctx context.Context, st stage, ex *Exchange, req *Request) (rej *Rejection) {
	ctx, span := o.tracer.Start(ctx, "gateway.stage."+string(st.name),
		trace.WithAttributes(attribute.String("gateway.stage", string(st.name))))
	start := o.now()
	result := ResultContinue

	defer func() {
		if p := recover(); p != nil {
			o.logger.WithContext(ctx).Error("panic in pipeline stage",
				observability.String("stage", string(st.name)),
				observability.String("request_id", ex.RequestID()),
				observability.Any("panic", p),
				observability.String("stack", string(debug.Stack())),
			)
			rej = newRejection(st.name, CodeInternal, "stage-panic", fmt.Errorf("panic: %v", p))
		}

		rec := StageRecord{Stage: st.name, Result: result, Duration: o.now().Sub(start)}
		if rej != nil {
			rec.Result, rec.Code, rec.Reason = ResultReject, rej.Code, rej.Reason
			span.SetStatus(codes.Error, rej.Reason)
			span.SetAttributes(attribute.String("gateway.code", string(rej.Code)))
		}
		span.SetAttributes(attribute.String("gateway.stage.result", string(rec.Result)))
		span.End()

		ex.record(rec)
		o.recorder.RecordStage(string(st.name), string(rec.Result), rec.Duration)
	}()

	result, rej = st.run(ctx, ex, req)
	return rej
}

func (o *Orchestrator) logRejection(ctx context.Context, ex *Exchange, rej *Rejection) {
	fields := []observability.Field{
		observability.String("request_id", ex.RequestID()),
		observability.String("stage", string(rej.Stage)),
		observability.String("code", string(rej.Code)),
		observability.String("reason", rej.Reason),
		observability.String("route", ex.RouteName()),
	}
	if rej.Cause != nil {
		fields = append(fields, observability.Error(rej.Cause))
	}

	logger := o.logger.WithContext(ctx)
	switch rej.Code {
	case CodeInternal:
		logger.Error("request failed with internal error", fields...)
	case CodeUpstreamTimeout, CodeUpstreamError, CodeAuthUnavailable:
		logger.Warn("request rejected", fields...)
	default:
		logger.Debug("request rejected", fields...)
	}
}
