// Package circuitbreaker stops admitting requests to an API that keeps
// failing and probes it again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"restkit/pkg/core"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	FailThreshold    int           `json:"fail_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// FromConfig extracts the breaker settings of a client configuration.
func FromConfig(cfg *core.Config) Config {
	return Config{
		FailThreshold:    cfg.CircuitBreakerFailThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
	}
}

// Breaker is a core.Gate that rejects requests while open. Outcomes are fed
// back through Record or RecordError.
type Breaker struct {
	mu               sync.Mutex
	state            atomic.Int32
	openedAt         atomic.Int64
	failures         int
	successes        int
	failThreshold    int
	successThreshold int
	timeout          time.Duration
	logger           zerolog.Logger
	metrics          *Metrics
}

type Metrics struct {
	totalRequests   atomic.Int64
	rejected        atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	stateChanges    atomic.Int32
}

type Option func(*Breaker)

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

func New(config Config, opts ...Option) *Breaker {
	b := &Breaker{
		failThreshold:    max(config.FailThreshold, 1),
		successThreshold: max(config.SuccessThreshold, 1),
		timeout:          config.Timeout,
		logger:           zerolog.Nop(),
		metrics:          &Metrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.state.Store(int32(StateClosed))
	return b
}

// Allow reports whether a request may be sent. An open breaker whose
// cool-down has passed moves to half-open and lets requests through as probes.
func (b *Breaker) Allow() bool {
	b.metrics.totalRequests.Add(1)

	switch b.State() {
	case StateOpen:
		if time.Since(time.Unix(0, b.openedAt.Load())) < b.timeout {
			b.metrics.rejected.Add(1)
			return false
		}
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.metrics.stateChanges.Add(1)
			b.logger.Info().Msg("circuit breaker half-open, probing")
		}
		return true
	default:
		return true
	}
}

// Admit implements core.Gate. It never waits.
func (b *Breaker) Admit(_ context.Context, req core.AdmitRequest) (time.Duration, error) {
	if b.Allow() {
		return 0, nil
	}
	return 0, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, core.ErrCircuitOpen)
}

// Record feeds the outcome of one admitted request back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.metrics.successRequests.Add(1)
	} else {
		b.metrics.failedRequests.Add(1)
	}

	switch b.State() {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.failThreshold {
			b.open()
		}
	case StateHalfOpen:
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.successThreshold {
			b.transitionTo(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordError records err as the outcome of a request. Only failures that say
// something about the health of the server count against it; a rejected
// parameter or a decoding failure does not.
func (b *Breaker) RecordError(err error) {
	b.Record(!countsAsFailure(err))
}

func countsAsFailure(err error) bool {
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Type {
	case core.ErrorTypeNetwork, core.ErrorTypeTimeout, core.ErrorTypeServerError, core.ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// open must be called with mu held.
func (b *Breaker) open() {
	b.openedAt.Store(time.Now().UnixNano())
	b.successes = 0
	b.transitionTo(StateOpen)
	b.logger.Warn().
		Int("failures", b.failures).
		Dur("timeout", b.timeout).
		Msg("circuit breaker opened")
}

func (b *Breaker) transitionTo(newState State) {
	if State(b.state.Swap(int32(newState))) != newState {
		b.metrics.stateChanges.Add(1)
	}
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Store(int32(StateClosed))
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   b.metrics.totalRequests.Load(),
		Rejected:        b.metrics.rejected.Load(),
		SuccessRequests: b.metrics.successRequests.Load(),
		FailedRequests:  b.metrics.failedRequests.Load(),
		StateChanges:    b.metrics.stateChanges.Load(),
		CurrentState:    b.State().String(),
	}
}

type MetricsSnapshot struct {
	TotalRequests   int64
	Rejected        int64
	SuccessRequests int64
	FailedRequests  int64
	StateChanges    int32
	CurrentState    string
}
