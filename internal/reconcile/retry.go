package reconcile

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// BackoffType selects how the pause between conflicting attempts grows.
type BackoffType string

const (
	BackoffExp       BackoffType = "exp"
	BackoffExpJitter BackoffType = "exp-jitter"
	BackoffFixed     BackoffType = "fixed"
	BackoffNone      BackoffType = "none"
)

// ParseBackoffType accepts exp, exp-jitter, fixed and none (case-insensitive).
func ParseBackoffType(s string) (BackoffType, error) {
	switch BackoffType(strings.ToLower(strings.TrimSpace(s))) {
	case BackoffExp:
		return BackoffExp, nil
	case BackoffExpJitter:
		return BackoffExpJitter, nil
	case BackoffFixed:
		return BackoffFixed, nil
	case BackoffNone, "":
		return BackoffNone, nil
	}
	return "", fmt.Errorf("unknown backoff type %q", s)
}

// RetryPolicy controls the pause before re-reading a row after a version
// conflict.
type RetryPolicy struct {
	Type   BackoffType
	Base   time.Duration
	Cap    time.Duration
	Factor float64
}

// DefaultRetryPolicy retries a conflict after a short jittered pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Type: BackoffExpJitter, Base: 5 * time.Millisecond, Cap: 50 * time.Millisecond, Factor: 2}
}

// computeBackoff returns the pause after the given failed attempt (1-based).
func computeBackoff(pol RetryPolicy, attempt int) time.Duration {
	switch pol.Type {
	case BackoffFixed:
		if pol.Base <= 0 {
			return 0
		}
		if pol.Cap > 0 && pol.Base > pol.Cap {
			return pol.Cap
		}
		return pol.Base
	case BackoffExp, BackoffExpJitter:
		base := pol.Base
		if base <= 0 {
			base = 5 * time.Millisecond
		}
		factor := pol.Factor
		if factor <= 0 {
			factor = 2
		}
		d := time.Duration(float64(base) * math.Pow(factor, float64(max(attempt-1, 0))))
		if pol.Cap > 0 && d > pol.Cap {
			d = pol.Cap
		}
		if pol.Type == BackoffExpJitter {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(d)))
		}
		return d
	default:
		return 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
