package node

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cirocosta/btc-exporter/pkg/rpc"
)

//go:generate mockgen -destination=mock/querier.go -package=mock . Querier,Caller

// Querier performs a single query against the node.
//
type Querier interface {
	Query(ctx context.Context, req Request) (*Result, error)
}

// Caller is the subset of the rpc client the adapter relies on.
//
type Caller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

var (
	_ Querier = (*Adapter)(nil)
	_ Caller  = (*rpc.Client)(nil)
)

// Request describes one node query: which group it belongs to, which rpc
// method to call (and with which params), and how to allocate the typed
// value the result is decoded into.
//
type Request struct {
	Group    string
	Method   string
	Params   []interface{}
	Response func() interface{}
}

// Result is the decoded response of a successful query.
//
type Result struct {
	Group string
	Value interface{}
	Time  time.Time
}

// validator is implemented by responses that can tell whether what was
// decoded is meaningful.
//
type validator interface {
	Validate() error
}

// Adapter wraps a Caller with per-call timeouts, optional rate limiting
// and classification of failures into CollectionErrors.
//
type Adapter struct {
	caller  Caller
	timeout time.Duration

	// limiter bounds how often we hit the node.
	//
	// optional: if nil, no limiting takes place.
	//
	limiter *rate.Limiter

	now func() time.Time
	log logr.Logger
}

// AdapterOption is a functional argument that overrides default adapter
// behavior.
//
type AdapterOption func(a *Adapter)

// WithTimeout overrides the default per-call timeout.
//
func WithTimeout(v time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.timeout = v
	}
}

// WithRateLimit caps requests to `perSecond` with bursts of up to `burst`.
// A non-positive `perSecond` disables limiting.
//
func WithRateLimit(perSecond float64, burst int) AdapterOption {
	return func(a *Adapter) {
		if perSecond <= 0 {
			a.limiter = nil
			return
		}

		if burst < 1 {
			burst = 1
		}

		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger overrides the default logger.
//
func WithLogger(v logr.Logger) AdapterOption {
	return func(a *Adapter) {
		a.log = v
	}
}

// WithClock overrides the time source used to stamp results.
//
func WithClock(v func() time.Time) AdapterOption {
	return func(a *Adapter) {
		a.now = v
	}
}

// NewAdapter instantiates an adapter on top of `caller`.
//
func NewAdapter(caller Caller, opts ...AdapterOption) (*Adapter, error) {
	defaultLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("zap new development: %w", err)
	}

	a := &Adapter{
		caller:  caller,
		timeout: 5 * time.Second,
		now:     time.Now,
		log:     zapr.NewLogger(defaultLogger.Named("node")),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Query issues the request's rpc call, bounded by the adapter's timeout.
//
// Every failure is returned as a *CollectionError. The adapter never
// retries.
//
func (a *Adapter) Query(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, &CollectionError{
				Group: req.Group,
				Kind:  KindTransientNetwork,
				Err:   fmt.Errorf("rate limit wait: %w", err),
			}
		}
	}

	var value interface{}
	if req.Response != nil {
		value = req.Response()
	}

	start := a.now()

	err := a.caller.Call(ctx, req.Method, req.Params, value)
	if err != nil {
		classified := Classify(req.Group, fmt.Errorf("%s: %w", req.Method, err))

		a.log.V(1).Info("query failed",
			"group", req.Group,
			"method", req.Method,
			"kind", classified.Kind.String(),
			"err", err.Error(),
		)

		return nil, classified
	}

	if v, ok := value.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &CollectionError{
				Group: req.Group,
				Kind:  KindParse,
				Err:   fmt.Errorf("%s: validate: %w", req.Method, err),
			}
		}
	}

	a.log.V(2).Info("query done",
		"group", req.Group,
		"method", req.Method,
		"duration", a.now().Sub(start).String(),
	)

	return &Result{
		Group: req.Group,
		Value: value,
		Time:  a.now(),
	}, nil
}
