package scanner

import (
	"testing"
	"time"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second

	for attempt := 0; attempt < 5; attempt++ {
		floor := base << attempt
		ceiling := floor + floor/2
		for i := 0; i < 50; i++ {
			d := backoff(base, max, attempt)
			if d < floor || d > ceiling {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, floor, ceiling)
			}
		}
	}
}

func TestBackoffRespectsCeiling(t *testing.T) {
	base := 1 * time.Second
	max := 4 * time.Second

	for i := 0; i < 50; i++ {
		if d := backoff(base, max, 20); d > max {
			t.Fatalf("delay %v exceeds max %v", d, max)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	d := backoff(0, 0, 0)
	if d < 500*time.Millisecond || d > 750*time.Millisecond {
		t.Fatalf("default delay out of range: %v", d)
	}
}
