package events

import (
	"testing"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsub := b.Subscribe(EventTick, 1)
	defer unsub()

	depth := uts.MarketDepth{InstrumentID: "rb2410"}
	b.Publish(EventTick, depth)

	got := <-ch
	if got.(uts.MarketDepth).InstrumentID != "rb2410" {
		t.Fatalf("got %+v", got)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsub := b.Subscribe(EventTick, 1)
	defer unsub()

	b.Publish(EventTick, 1)
	b.Publish(EventTick, 2) // dropped, must not block

	if got := <-ch; got != 1 {
		t.Fatalf("got %v, want first payload", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected second payload %v", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsub := b.Subscribe(EventTrade, 0)
	unsub()
	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// publishing after unsubscribe is a no-op
	b.Publish(EventTrade, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(EventOrderUpdate, 0)
	b.Close()
	b.Close()
	if _, open := <-ch; open {
		t.Fatal("channel still open after close")
	}
	if ch2, _ := b.Subscribe(EventOrderUpdate, 0); ch2 == nil {
		t.Fatal("subscribe after close must return a closed channel, not nil")
	}
}
