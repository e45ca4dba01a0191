// Package ratelimit implements keyed token-bucket admission control.
//
// Two limiter scopes exist in the server: a process-global limiter
// keyed by remote IP, and per-bucket limiters keyed by namespace. Both
// run on the same keyed store abstraction so the backing
// implementation (in-memory or Redis) is a deployment choice.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Kind tags a quota window.
type Kind string

// Supported quota windows.
const (
	QPS Kind = "QPS"
	QPM Kind = "QPM"
	QPH Kind = "QPH"
)

// Quota is the tagged rate-limiting configuration: Times requests per
// the window named by Type. QPH scales over a true hour.
type Quota struct {
	Type  Kind   `json:"type"`
	Times uint32 `json:"times"`
}

// Validate rejects unknown windows and zero rates.
func (q Quota) Validate() error {
	switch q.Type {
	case QPS, QPM, QPH:
	default:
		return fmt.Errorf("ratelimit: unknown quota type %q", q.Type)
	}
	if q.Times == 0 {
		return fmt.Errorf("ratelimit: quota times must be > 0")
	}
	return nil
}

// window returns the replenish interval of the quota.
func (q Quota) window() time.Duration {
	switch q.Type {
	case QPM:
		return time.Minute
	case QPH:
		return time.Hour
	default:
		return time.Second
	}
}

// limit converts the quota into a token refill rate and burst size.
// Burst equals Times: a full window's worth of requests may arrive at
// once, then tokens replenish evenly across the window.
func (q Quota) limit() (rate.Limit, int) {
	return rate.Every(q.window() / time.Duration(q.Times)), int(q.Times)
}

// Store is a keyed admission check. On deny, retryAfter reports how
// long until a token becomes available for that key.
type Store interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}
