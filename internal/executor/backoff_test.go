package executor

import (
	"testing"
	"time"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	base := time.Second
	cap := 5 * time.Minute

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		delay := Backoff(base, cap, attempt)
		if delay < prev {
			t.Errorf("attempt %d: delay %v shrank below previous %v", attempt, delay, prev)
		}
		if delay > cap {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, delay, cap)
		}
		prev = delay
	}

	if Backoff(base, cap, 60) != cap {
		t.Error("large attempt counts must clamp to cap without overflow")
	}
}

func TestBackoff_FirstAttemptNearBase(t *testing.T) {
	base := time.Second
	delay := Backoff(base, 5*time.Minute, 0)
	if delay < base || delay >= base+base/2 {
		t.Errorf("attempt 0 delay %v outside [base, base+base/2)", delay)
	}
}

func TestBackoff_EdgeCases(t *testing.T) {
	if Backoff(0, time.Minute, 3) != 0 {
		t.Error("zero base must yield zero delay")
	}
	if Backoff(time.Second, time.Minute, -5) == 0 {
		t.Error("negative attempt must be treated as zero, not disabled")
	}
}
