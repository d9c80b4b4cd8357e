package livechannel

import "time"

// BackoffFunc maps a reconnect attempt number (starting at 1) to a delay.
type BackoffFunc func(attempt int) time.Duration

// ReconnectPolicy bounds automatic reconnection.
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive reconnects allowed before the
	// client gives up. The counter resets on every successful open.
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultReconnectPolicy gives up after 5 attempts with min(1s*2^n, 10s) delays.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		Backoff:     Exponential(time.Second, 10*time.Second),
	}
}

// Exponential returns min(base*2^attempt, max).
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// Linear returns step*attempt.
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return step * time.Duration(attempt)
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	return p
}
