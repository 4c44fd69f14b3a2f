package control

import (
	"errors"
	"testing"

	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/sampler"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	u := sampler.Update{Measurement: quantum.Measurement{Pressure: 1.5e-3, Temperature: 21.0}}
	b.Publish(u)

	for i, ch := range []<-chan sampler.Update{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Measurement.Pressure != 1.5e-3 {
				t.Errorf("subscriber %d: pressure = %v, want 1.5e-3", i, got.Measurement.Pressure)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Unsubscribe")
	}

	// publishing after unsubscribe must not panic
	b.Publish(sampler.Update{Err: errors.New("boom")})
}

func TestBroadcasterSkipsFullSubscriber(t *testing.T) {
	b := NewBroadcaster()
	_, slow := b.Subscribe()
	_, fast := b.Subscribe()

	// Fill the slow subscriber's buffer and keep publishing.
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(sampler.Update{Measurement: quantum.Measurement{Pressure: float64(i)}})
	}

	if got := len(slow); got != subscriberBuffer {
		t.Errorf("slow subscriber buffered %d updates, want %d", got, subscriberBuffer)
	}
	// The fast subscriber drained nothing either, so it also capped out;
	// what matters is Publish never blocked to get here.
	if got := len(fast); got != subscriberBuffer {
		t.Errorf("fast subscriber buffered %d updates, want %d", got, subscriberBuffer)
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}

	b.Publish(sampler.Update{}) // dropped, no panic

	_, late := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected Subscribe after Close to return a closed channel")
	}
}
