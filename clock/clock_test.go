package clock

import "testing"

func TestNewDefaultsToUnityRatio(t *testing.T) {
	t.Parallel()

	c := New("clk-1")
	if got, want := c.Ratio(), 1.0; got != want {
		t.Errorf("Ratio: got %v, want %v", got, want)
	}
	if got, want := c.ID(), "clk-1"; got != want {
		t.Errorf("ID: got %q, want %q", got, want)
	}
}

func TestSetRatioPublishesToSubscribers(t *testing.T) {
	t.Parallel()

	c := New("clk-1")
	ch, initial := c.Subscribe()
	if initial != 1.0 {
		t.Fatalf("Subscribe initial ratio: got %v, want 1.0", initial)
	}

	c.SetRatio(2.0)

	select {
	case u := <-ch:
		if u.Ratio != 2.0 || u.ClockID != "clk-1" {
			t.Errorf("Update: got %+v, want {clk-1 2}", u)
		}
	default:
		t.Fatal("expected an update on the subscriber channel")
	}

	if got := c.Ratio(); got != 2.0 {
		t.Errorf("Ratio after SetRatio: got %v, want 2.0", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	c := New("clk-1")
	ch, _ := c.Subscribe()
	c.Unsubscribe(ch)

	c.SetRatio(3.0) // must not panic sending to a removed subscriber

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel to be closed after Unsubscribe")
	}
}

func TestSetRatioDropsUpdateForFullSubscriber(t *testing.T) {
	t.Parallel()

	c := New("clk-1")
	ch, _ := c.Subscribe()

	for i := 0; i < subscriberBuffer+2; i++ {
		c.SetRatio(float64(i) + 1)
	}

	// Draining should not block forever; the buffer caps how many
	// updates are queued, the rest are dropped with a warning log.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained > subscriberBuffer {
				t.Errorf("drained %d updates, want at most %d", drained, subscriberBuffer)
			}
			return
		}
	}
}
