// Package ratelimit provides token bucket admission gates for outgoing requests.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"restkit/pkg/core"
)

// Chain admits a request only when every gate in it does. Gates other than
// *Limiter are consulted first, in order. The limiters are then admitted
// together: quota is reserved from all of them at once, the request waits for
// the slowest, and a rejection by one hands the quota reserved from the
// others back.
type Chain []core.Gate

// Admit implements core.Gate.
func (c Chain) Admit(ctx context.Context, req core.AdmitRequest) (time.Duration, error) {
	var (
		total    time.Duration
		limiters []*Limiter
	)
	for _, gate := range c {
		if l, ok := gate.(*Limiter); ok {
			limiters = append(limiters, l)
			continue
		}
		waited, err := gate.Admit(ctx, req)
		total += waited
		if err != nil {
			return total, withWaited(err, total)
		}
	}
	if len(limiters) == 0 {
		return total, nil
	}

	waited, err := admit(ctx, req, limiters)
	total += waited
	if err != nil {
		return total, withWaited(err, total)
	}
	return total, nil
}

func withWaited(err error, waited time.Duration) error {
	var rl *core.RateLimitError
	if errors.As(err, &rl) {
		rl.Waited = waited
	}
	return err
}

// FromConfig builds the default gate for cfg: one bucket for all requests.
func FromConfig(cfg *core.Config, opts ...Option) Chain {
	return Chain{New(cfg.RateLimitRequests, cfg.RateLimitPeriod, opts...)}
}
