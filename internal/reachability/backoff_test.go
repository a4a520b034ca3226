package reachability

import (
	"testing"
	"time"
)

func TestBackoffNextDelay(t *testing.T) {
	b := Backoff{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		5:  10 * time.Second,
		80: 10 * time.Second,
	}
	for failures, want := range cases {
		if got := b.NextDelay(failures); got != want {
			t.Fatalf("NextDelay(%d) = %v, want %v", failures, got, want)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	if got := b.NextDelay(1); got != time.Second {
		t.Fatalf("expected 1s default, got %v", got)
	}
	if got := b.NextDelay(3); got != 4*time.Second {
		t.Fatalf("expected factor 2 default, got %v", got)
	}
}
