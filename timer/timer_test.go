package timer

import (
	"testing"
	"time"

	"github.com/flowmesh/core/clock"
)

func TestStartFiresTick(t *testing.T) {
	t.Parallel()

	ticks := make(chan string, 4)
	c := New(nil, func(id string) { ticks <- id })

	if err := c.Start("t1", 10*time.Millisecond, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.StopAll()

	select {
	case id := <-ticks:
		if id != "t1" {
			t.Errorf("tick id: got %q, want %q", id, "t1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestStartDuplicateID(t *testing.T) {
	t.Parallel()

	c := New(nil, func(string) {})
	if err := c.Start("t1", time.Hour, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.StopAll()

	err := c.Start("t1", time.Hour, nil)
	if err == nil {
		t.Fatal("expected an error starting a duplicate id")
	}
}

func TestStopUnknownID(t *testing.T) {
	t.Parallel()

	c := New(nil, func(string) {})
	if err := c.Stop("missing"); err == nil {
		t.Fatal("expected an error stopping an unknown id")
	}
}

func TestScaledInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		interval time.Duration
		ratio    float64
		want     time.Duration
	}{
		{time.Second, 1.0, time.Second},
		{time.Second, 2.0, 500 * time.Millisecond},
		{time.Second, 0.5, 2 * time.Second},
		{time.Second, 0, time.Second}, // non-positive ratio falls back to 1.0
	}
	for _, c := range cases {
		if got := scaledInterval(c.interval, c.ratio); got != c.want {
			t.Errorf("scaledInterval(%v, %v): got %v, want %v", c.interval, c.ratio, got, c.want)
		}
	}
}

func TestScaledRemainingRoundTrip(t *testing.T) {
	t.Parallel()

	// 1s of real time remaining under ratio 2.0 is 2s of nominal time;
	// rescaled to ratio 1.0 that's 2s of real time.
	got := scaledRemaining(time.Second, 2.0, 1.0)
	want := 2 * time.Second
	if got != want {
		t.Errorf("scaledRemaining: got %v, want %v", got, want)
	}
}

func TestHandleClockUpdateReschedules(t *testing.T) {
	t.Parallel()

	ticks := make(chan string, 4)
	c := New(nil, func(id string) { ticks <- id })
	clk := clock.New("clk-1")

	if err := c.Start("t1", 200*time.Millisecond, clk); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.StopAll()

	// Speeding up the clock should make the tick arrive well before its
	// original 200ms deadline.
	clk.SetRatio(20.0)

	select {
	case <-ticks:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for rescheduled tick")
	}
}
