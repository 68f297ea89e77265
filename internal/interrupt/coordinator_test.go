package interrupt

import (
	"context"
	"testing"
	"time"
)

func TestCoordinatorPassesThroughSingleSource(t *testing.T) {
	c := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.User() <- Event{Source: SourceUser, Payload: "hi"}

	select {
	case ev := <-c.Out():
		if ev.Source != SourceUser || ev.Payload != "hi" {
			t.Errorf("got %+v, want user/hi", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCoordinatorPrioritizesNetworkOverUser(t *testing.T) {
	c := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pre-load both channels with a buffered goroutine feeding them so both
	// are ready before Run starts draining.
	go func() { c.User() <- Event{Source: SourceUser} }()
	go func() { c.network <- Event{Source: SourceNetwork} }()
	time.Sleep(20 * time.Millisecond)

	go c.Run(ctx)

	select {
	case ev := <-c.Out():
		if ev.Source != SourceNetwork {
			t.Errorf("first event source = %v, want SourceNetwork", ev.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first event")
	}
}

func TestCoordinatorStopsOnContextCancel(t *testing.T) {
	c := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancel")
	}
}
