package ratelimit

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"restkit/pkg/core"
)

// Scope selects which requests share a token bucket.
type Scope int

const (
	// ScopeTotal puts every matching request in one bucket.
	ScopeTotal Scope = iota
	// ScopeEndpoint keeps one bucket per endpoint.
	ScopeEndpoint
	// ScopeIdentity keeps one bucket per credential identity. Requests without
	// an identity are not limited by such a rule.
	ScopeIdentity
)

func (s Scope) String() string {
	return [...]string{"TOTAL", "ENDPOINT", "IDENTITY"}[s]
}

// Rule describes one limit: Requests units of weight per Period.
type Rule struct {
	Name     string
	Scope    Scope
	Requests int
	Period   time.Duration
	// Burst is the bucket capacity, Requests when zero.
	Burst int
	// Prefix restricts the rule to endpoints starting with it.
	Prefix string
	// Methods restricts the rule to the listed HTTP methods.
	Methods []string
	// SignedOnly restricts the rule to signed requests.
	SignedOnly bool
}

func (r Rule) matches(req core.AdmitRequest) bool {
	if r.SignedOnly && !req.Signed {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(req.Endpoint, r.Prefix) {
		return false
	}
	if len(r.Methods) > 0 && !slices.ContainsFunc(r.Methods, func(m string) bool {
		return strings.EqualFold(m, req.Method)
	}) {
		return false
	}
	return true
}

func (r Rule) key(req core.AdmitRequest) (string, bool) {
	switch r.Scope {
	case ScopeEndpoint:
		return req.Endpoint, true
	case ScopeIdentity:
		return req.Identity, req.Identity != ""
	default:
		return "", true
	}
}

// Limiter is a token bucket admission gate implementing core.Gate.
// It is safe for concurrent use.
type Limiter struct {
	rule    Rule
	mu      sync.RWMutex
	limit   rate.Limit
	burst   int
	buckets sync.Map
	logger  zerolog.Logger
	metrics *Metrics
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	waitedNanos     atomic.Int64
	bucketCount     atomic.Int32
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for throttling and rejections.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter allowing requests per period across all requests.
func New(requests int, period time.Duration, opts ...Option) *Limiter {
	return NewWithRule(Rule{Name: "total", Scope: ScopeTotal, Requests: requests, Period: period}, opts...)
}

// NewWithRule creates a Limiter enforcing rule.
func NewWithRule(rule Rule, opts ...Option) *Limiter {
	burst := rule.Burst
	if burst <= 0 {
		burst = rule.Requests
	}
	l := &Limiter{
		rule:    rule,
		limit:   perSecond(rule.Requests, rule.Period),
		burst:   burst,
		logger:  zerolog.Nop(),
		metrics: &Metrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func perSecond(requests int, period time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / period.Seconds())
}

// Rule returns the rule the limiter enforces.
func (l *Limiter) Rule() Rule {
	return l.rule
}

// Admit consumes req.Weight tokens from the bucket req maps to. Depending on
// req.Overflow it waits for tokens or rejects immediately when the bucket is
// empty. It returns how long it waited.
func (l *Limiter) Admit(ctx context.Context, req core.AdmitRequest) (time.Duration, error) {
	return admit(ctx, req, []*Limiter{l})
}

// hold is quota reserved from one limiter that is not committed yet.
type hold struct {
	limiter *Limiter
	r       *rate.Reservation
	delay   time.Duration
}

// reserve takes req.Weight tokens at now from the bucket req maps to. The hold
// is nil when the rule does not apply to req.
func (l *Limiter) reserve(req core.AdmitRequest, now time.Time) (*hold, error) {
	if !l.rule.matches(req) {
		return nil, nil
	}
	key, ok := l.rule.key(req)
	if !ok {
		return nil, nil
	}

	weight := max(req.Weight, 1)
	l.metrics.totalRequests.Add(1)

	bucket := l.getBucket(key)
	if weight > bucket.Burst() {
		l.metrics.deniedRequests.Add(1)
		return nil, rejection(req, "weight exceeds bucket capacity", 0, core.ErrWeightExceedsBurst)
	}
	r := bucket.ReserveN(now, weight)
	if !r.OK() {
		l.metrics.deniedRequests.Add(1)
		return nil, rejection(req, "weight exceeds bucket capacity", 0, core.ErrWeightExceedsBurst)
	}
	return &hold{limiter: l, r: r, delay: r.DelayFrom(now)}, nil
}

// admit reserves from every limiter at the same instant and waits for the
// slowest one. When any limiter rejects the request the quota reserved from
// the others is handed back.
func admit(ctx context.Context, req core.AdmitRequest, limiters []*Limiter) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, rejection(req, "wait cancelled", 0, err)
	}

	now := time.Now()
	holds := make([]*hold, 0, len(limiters))
	for _, l := range limiters {
		h, err := l.reserve(req, now)
		if err != nil {
			release(holds, now)
			return 0, err
		}
		if h != nil {
			holds = append(holds, h)
		}
	}

	var slowest *hold
	for _, h := range holds {
		if slowest == nil || h.delay > slowest.delay {
			slowest = h
		}
	}
	if slowest == nil || slowest.delay == 0 {
		commit(holds, 0)
		return 0, nil
	}
	delay := slowest.delay
	limiter := slowest.limiter

	if req.Overflow != core.OverflowWait {
		release(holds, now)
		if req.Overflow == core.OverflowFailWithLogging {
			limiter.logger.Warn().
				Str("rule", limiter.rule.Name).
				Str("endpoint", req.Endpoint).
				Str("method", req.Method).
				Int("weight", max(req.Weight, 1)).
				Int64("retry_after_ms", delay.Milliseconds()).
				Msg("rate limit reached, request rejected")
		}
		return 0, rejection(req, "quota exhausted", 0, core.ErrQuotaExceeded)
	}

	if deadline, ok := ctx.Deadline(); ok && deadline.Before(now.Add(delay)) {
		release(holds, now)
		return 0, rejection(req, "wait would exceed deadline", 0, context.DeadlineExceeded)
	}

	limiter.logger.Debug().
		Str("rule", limiter.rule.Name).
		Str("endpoint", req.Endpoint).
		Int64("wait_ms", delay.Milliseconds()).
		Msg("rate limit reached, waiting")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		waited := time.Since(now)
		commit(holds, waited)
		return waited, nil
	case <-ctx.Done():
		waited := time.Since(now)
		release(holds, time.Now())
		for _, h := range holds {
			h.limiter.metrics.waitedNanos.Add(int64(waited))
		}
		return waited, rejection(req, "wait cancelled", waited, ctx.Err())
	}
}

func commit(holds []*hold, waited time.Duration) {
	for _, h := range holds {
		h.limiter.metrics.allowedRequests.Add(1)
		h.limiter.metrics.waitedNanos.Add(int64(waited))
	}
}

// release cancels the reservations as of at. Tokens whose reservation time
// lies before at are already spent and stay consumed.
func release(holds []*hold, at time.Time) {
	for _, h := range holds {
		h.r.CancelAt(at)
		h.limiter.metrics.deniedRequests.Add(1)
	}
}

func rejection(req core.AdmitRequest, reason string, waited time.Duration, err error) error {
	return &core.RateLimitError{
		Reason:   reason,
		Endpoint: req.Endpoint,
		Waited:   waited,
		Err:      err,
	}
}

func (l *Limiter) getBucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*rate.Limiter)
	}

	l.mu.RLock()
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.mu.RUnlock()

	actual, loaded := l.buckets.LoadOrStore(key, limiter)
	if !loaded {
		l.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// SetLimit updates the limit of existing and future buckets to requests per period.
func (l *Limiter) SetLimit(requests int, period time.Duration) {
	l.mu.Lock()
	l.rule.Requests = requests
	l.rule.Period = period
	l.limit = perSecond(requests, period)
	if l.rule.Burst <= 0 {
		l.burst = requests
	}
	limit, burst := l.limit, l.burst
	l.mu.Unlock()

	l.buckets.Range(func(_, v any) bool {
		b := v.(*rate.Limiter)
		b.SetLimit(limit)
		b.SetBurst(burst)
		return true
	})
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   l.metrics.totalRequests.Load(),
		AllowedRequests: l.metrics.allowedRequests.Load(),
		DeniedRequests:  l.metrics.deniedRequests.Load(),
		TotalWaited:     time.Duration(l.metrics.waitedNanos.Load()),
		BucketCount:     l.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	// TotalRequests is the total number of admission checks performed.
	TotalRequests int64
	// AllowedRequests is the number of requests that were admitted.
	AllowedRequests int64
	// DeniedRequests is the number of requests that were rejected or cancelled.
	DeniedRequests int64
	// TotalWaited is the accumulated time spent waiting for tokens.
	TotalWaited time.Duration
	// BucketCount is the number of token buckets in use.
	BucketCount int32
}
