package taskqueue

import (
	"testing"
	"time"
)

func TestRetryDelayDoublesAndClamps(t *testing.T) {
	base := 30 * time.Second
	cap := 1800 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{7, 1800 * time.Second},
		{50, 1800 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(base, cap, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestRetryDelayIsMonotonic(t *testing.T) {
	base := 5 * time.Second
	cap := 10 * time.Minute

	prev := time.Duration(0)
	for attempt := 1; attempt <= 64; attempt++ {
		delay := retryDelay(base, cap, attempt)
		if delay < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, delay, prev)
		}
		if delay > cap {
			t.Fatalf("delay exceeded cap at attempt %d: %v", attempt, delay)
		}
		prev = delay
	}
}

func TestRetryDelayEdgeCases(t *testing.T) {
	if got := retryDelay(0, time.Minute, 3); got != 0 {
		t.Fatalf("expected zero delay for zero base, got %v", got)
	}
	if got := retryDelay(time.Second, time.Minute, 0); got != time.Second {
		t.Fatalf("expected base delay for attempt 0, got %v", got)
	}
}
