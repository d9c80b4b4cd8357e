package livechannel

import (
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	backoff := Exponential(1000*time.Millisecond, 10000*time.Millisecond)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{3, 8000 * time.Millisecond},
		{4, 10000 * time.Millisecond},
		{5, 10000 * time.Millisecond},
		{60, 10000 * time.Millisecond},
		{-1, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.want {
			t.Errorf("Exponential(%d): expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestExponential_NonDecreasing(t *testing.T) {
	backoff := Exponential(250*time.Millisecond, 30*time.Second)
	prev := time.Duration(0)
	for n := 1; n <= 20; n++ {
		d := backoff(n)
		if d < prev {
			t.Fatalf("Delay decreased at attempt %d: %v < %v", n, d, prev)
		}
		prev = d
	}
}

func TestLinear(t *testing.T) {
	backoff := Linear(3 * time.Second)
	if got := backoff(1); got != 3*time.Second {
		t.Errorf("Expected 3s, got %v", got)
	}
	if got := backoff(4); got != 12*time.Second {
		t.Errorf("Expected 12s, got %v", got)
	}
	if got := backoff(0); got != 3*time.Second {
		t.Errorf("Expected 3s for attempt 0, got %v", got)
	}
}

func TestDefaultReconnectPolicy(t *testing.T) {
	p := DefaultReconnectPolicy()
	if p.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", p.MaxAttempts)
	}
	if got := p.Backoff(1); got != 2*time.Second {
		t.Errorf("Expected 2s first delay, got %v", got)
	}

	p = ReconnectPolicy{MaxAttempts: -3}.withDefaults()
	if p.MaxAttempts != 0 || p.Backoff == nil {
		t.Errorf("Unexpected defaults %+v", p)
	}
}
