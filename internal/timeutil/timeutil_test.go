package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancel")
	}
}

func TestSleepZero(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep: %v", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := time.Second
	ceiling := 60 * time.Second

	for attempt, want := range []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	} {
		got := Backoff(attempt, base, 2, ceiling, 0)
		if got != want {
			t.Errorf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}

	if got := Backoff(20, base, 2, ceiling, 0); got != ceiling {
		t.Errorf("expected cap at %s, got %s", ceiling, got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := Backoff(0, time.Second, 2, time.Minute, 250*time.Millisecond)
		if got < time.Second || got >= time.Second+250*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %s", got)
		}
	}
}
