package server

import (
	"context"
	"testing"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	a, unsubA := b.Subscribe("demo/s1")
	c, unsubC := b.Subscribe("demo/s1")
	other, unsubOther := b.Subscribe("demo/s2")
	defer unsubOther()

	b.Publish(ctx, "demo/s1", []byte(`{"id":"s1"}`))

	for name, ch := range map[string]<-chan []byte{"a": a, "c": c} {
		select {
		case got := <-ch:
			if string(got) != `{"id":"s1"}` {
				t.Errorf("%s: unexpected payload %s", name, got)
			}
		default:
			t.Errorf("%s: expected a message", name)
		}
	}
	select {
	case got := <-other:
		t.Errorf("expected nothing on another topic, got %s", got)
	default:
	}

	unsubA()
	unsubA()
	if _, open := <-a; open {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if n := b.Subscribers("demo/s1"); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	unsubC()
	if n := b.Subscribers("demo/s1"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe("demo/s1")
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(context.Background(), "demo/s1", []byte("x"))
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("expected buffer of %d, got %d", subscriberBuffer, len(ch))
	}
}
