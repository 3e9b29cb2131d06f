package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowsByFactor(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Factor: 2}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.delayWithRand(tc.attempt, 0); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayCappedAtMax(t *testing.T) {
	p := Policy{Base: time.Second, Max: 3 * time.Second, Factor: 2}
	if got := p.delayWithRand(10, 0); got != 3*time.Second {
		t.Errorf("got %v, want %v", got, 3*time.Second)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2, Jitter: 0.5}
	min := p.delayWithRand(1, 0)
	max := p.delayWithRand(1, 1)
	if min != time.Second {
		t.Errorf("zero random: got %v, want %v", min, time.Second)
	}
	if max != 1500*time.Millisecond {
		t.Errorf("full random: got %v, want %v", max, 1500*time.Millisecond)
	}
}

func TestDelayFactorBelowOneClamped(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 0.5}
	if got := p.delayWithRand(3, 0); got != time.Second {
		t.Errorf("got %v, want %v", got, time.Second)
	}
}

func TestDelayAttemptBelowOne(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2}
	if got := p.delayWithRand(0, 0); got != time.Second {
		t.Errorf("got %v, want %v", got, time.Second)
	}
}

func TestSleepCompletes(t *testing.T) {
	p := Policy{Base: time.Millisecond, Factor: 2}
	if err := Sleep(context.Background(), p, 1); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
}

func TestSleepCancelled(t *testing.T) {
	p := Policy{Base: time.Hour, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, p, 1); err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
