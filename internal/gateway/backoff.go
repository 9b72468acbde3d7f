package gateway

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ backoff.BackOff = (*Policy)(nil)

// Policy is the reconnect schedule: BaseDelay doubled per consecutive
// failure, capped at MaxDelay, with symmetric jitter. After MaxAttempts
// delays NextBackOff returns backoff.Stop until Reset is called.
//
// The schedule is a backoff.ExponentialBackOff; Policy adds the attempt
// counter reported by Gateway.State.
type Policy struct {
	mu       sync.Mutex
	schedule backoff.BackOff
	attempts int
}

// NewPolicy creates a Policy.
func NewPolicy(cfg BackoffConfig) *Policy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = cfg.Jitter
	exp.MaxInterval = cfg.MaxDelay
	exp.MaxElapsedTime = 0 // bounded by attempts, not time

	var schedule backoff.BackOff = exp
	if cfg.MaxAttempts > 0 {
		schedule = backoff.WithMaxRetries(exp, uint64(cfg.MaxAttempts))
	}
	schedule.Reset()

	return &Policy{schedule: schedule}
}

// NextBackOff returns the delay before the next attempt and counts it.
func (p *Policy) NextBackOff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := p.schedule.NextBackOff()
	if d != backoff.Stop {
		p.attempts++
	}
	return d
}

// Reset zeroes the failure count. Called after every successful open.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.schedule.Reset()
	p.attempts = 0
	p.mu.Unlock()
}

// Attempts returns the number of consecutive failures counted so far.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
