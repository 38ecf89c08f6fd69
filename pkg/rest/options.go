package rest

import (
	"github.com/rs/zerolog"

	"restkit/internal/ratelimit"
	"restkit/internal/timesync"
	"restkit/pkg/core"
)

// RateLimit is an additional admission rule applied after the configured
// total limit.
type RateLimit = ratelimit.Rule

// Scopes for RateLimit.
const (
	ScopeTotal    = ratelimit.ScopeTotal
	ScopeEndpoint = ratelimit.ScopeEndpoint
	ScopeIdentity = ratelimit.ScopeIdentity
)

type options struct {
	logger        zerolog.Logger
	gate          core.Gate
	rules         []RateLimit
	ids           IDGenerator
	clock         timesync.Clock
	credentials   CredentialSource
	shareTimeWith *Client
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger. The level is further limited by Config.LogLevel.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithGate replaces the rate limiters built from the configuration.
func WithGate(gate core.Gate) Option {
	return func(o *options) {
		o.gate = gate
	}
}

// WithRateLimits adds rules on top of the configured total limit.
func WithRateLimits(rules ...RateLimit) Option {
	return func(o *options) {
		o.rules = append(o.rules, rules...)
	}
}

// IDGenerator hands out request correlation ids.
type IDGenerator interface {
	Next() int64
}

// WithIDGenerator replaces the process wide request id generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

// WithClock replaces the system clock.
func WithClock(clock timesync.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithCredentials overrides Config.Credentials.
func WithCredentials(creds *core.Credentials) Option {
	return func(o *options) {
		o.credentials = staticCredentials{creds: creds}
	}
}

// WithCredentialSource supplies credentials per request, for instance from a
// rotating key ring.
func WithCredentialSource(source CredentialSource) Option {
	return func(o *options) {
		o.credentials = source
	}
}

// WithSharedTimeSync makes the client use the time offset of other, for
// clients talking to the same server.
func WithSharedTimeSync(other *Client) Option {
	return func(o *options) {
		o.shareTimeWith = other
	}
}
