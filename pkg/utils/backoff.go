package utils

import (
	"time"

	"github.com/juju/retry"
)

// Backoff computes jittered exponential reconnect delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 是订阅重连使用的默认退避参数。
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}

// Next returns the delay before reconnect attempt n (0-based), doubling from
// Base up to Max with full jitter.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := retry.ExpBackoff(b.Base, b.Max, 2, true)(0, attempt+1)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
