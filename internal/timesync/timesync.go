// Package timesync estimates the offset between the local clock and a remote
// server so that signed requests carry a timestamp the server accepts.
//
// The server timestamp is assumed to correspond to the midpoint of the round
// trip that fetched it. At most one measurement runs per State; concurrent
// callers keep using the current offset instead of queuing.
package timesync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"restkit/pkg/core"
)

// Clock is the local time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Measurement is one server time reading.
type Measurement struct {
	ServerTime time.Time
	RoundTrip  time.Duration
	// SentAt is when the request left, if the measure function knows better
	// than the coordinator. Queuing before the send must not count as travel.
	SentAt time.Time
}

// MeasureFunc fetches the server time. It is the only call that leaves the process.
type MeasureFunc func(ctx context.Context) (Measurement, error)

// RequestCounter reports how many requests the owning client has sent.
type RequestCounter interface {
	TotalRequests() int64
}

// Coordinator keeps a State in line with the server clock.
type Coordinator struct {
	policy   Policy
	state    *State
	clock    Clock
	requests RequestCounter
	logger   zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithRequestCounter lets the warm-up rule see every request of the client,
// not just server time measurements.
func WithRequestCounter(counter RequestCounter) Option {
	return func(c *Coordinator) {
		c.requests = counter
	}
}

// New creates a Coordinator for state. A nil state gets a fresh one.
func New(policy Policy, state *State, opts ...Option) *Coordinator {
	if state == nil {
		state = NewState()
	}
	c := &Coordinator{
		policy: policy,
		state:  state,
		clock:  SystemClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the state the coordinator maintains.
func (c *Coordinator) State() *State {
	return c.state
}

// Policy returns the coordinator's policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Now returns the local time corrected by the current offset.
func (c *Coordinator) Now() time.Time {
	return c.clock.Now().Add(c.state.Offset())
}

// ComputeOffset returns the offset implied by m for a measurement started at
// before. m.SentAt replaces before when set.
func ComputeOffset(before time.Time, m Measurement) time.Duration {
	if !m.SentAt.IsZero() {
		before = m.SentAt
	}
	return m.ServerTime.Sub(before.Add(m.RoundTrip / 2))
}

// Due reports whether Synchronize would contact the server now.
func (c *Coordinator) Due() bool {
	return c.due()
}

func (c *Coordinator) due() bool {
	if !c.policy.Enabled {
		return false
	}
	last := c.state.LastSync()
	return last.IsZero() || c.clock.Now().Sub(last) >= c.policy.RecalculationInterval
}

// Synchronize recalculates the offset when the policy says it is due.
// It returns true without contacting the server when synchronization is
// disabled, not yet due, or already running in another goroutine.
// A failed measurement leaves the previous offset in place and is returned as
// a *core.TimeSyncError.
func (c *Coordinator) Synchronize(ctx context.Context, measure MeasureFunc) (bool, error) {
	if !c.due() {
		return true, nil
	}

	if !c.state.tryAcquire() {
		c.logger.Debug().Msg("time sync already in progress")
		return true, nil
	}
	defer c.state.release()

	// another caller may have finished a sync between the check and the acquire
	if !c.due() {
		return true, nil
	}

	before, m, err := c.measure(ctx, measure)
	if err != nil {
		return false, err
	}

	if c.firstRequest() {
		c.logger.Debug().
			Int64("rtt_ms", m.RoundTrip.Milliseconds()).
			Msg("discarding warm-up time measurement")
		before, m, err = c.measure(ctx, measure)
		if err != nil {
			return false, err
		}
	}

	offset := ComputeOffset(before, m)
	c.state.store(offset, c.clock.Now())

	c.logger.Info().
		Int64("offset_ms", offset.Milliseconds()).
		Int64("rtt_ms", m.RoundTrip.Milliseconds()).
		Msg("time offset updated")

	return true, nil
}

func (c *Coordinator) measure(ctx context.Context, measure MeasureFunc) (time.Time, Measurement, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, Measurement{}, &core.TimeSyncError{Err: err}
	}

	before := c.clock.Now()
	m, err := measure(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("server time measurement failed")
		return time.Time{}, Measurement{}, &core.TimeSyncError{Err: err}
	}
	c.state.measurements.Add(1)
	return before, m, nil
}

func (c *Coordinator) firstRequest() bool {
	if c.requests != nil {
		return c.requests.TotalRequests() == 1
	}
	return c.state.measurements.Load() == 1
}
