package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

func newTestFeed(t *testing.T) (*Feed, *ctp.SimMarketGateway, *events.Bus) {
	t.Helper()
	gw := ctp.NewSimMarketGateway()
	t.Cleanup(gw.Release)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	f := NewFeed(gw, []string{"tcp://127.0.0.1:20202"}, bus, zerolog.Nop())
	if err := f.LogIn(context.Background()); err != nil {
		t.Fatalf("LogIn: %v", err)
	}
	return f, gw, bus
}

func tick(id string, last float64) ctp.DepthField {
	field := ctp.DepthField{
		InstrumentID:    id,
		ActionDay:       "20240603",
		UpdateTime:      "10:15:30",
		UpdateMillis:    500,
		LastPrice:       last,
		HighestPrice:    last + 5,
		LowestPrice:     last - 5,
		ClosePrice:      ctp.NoPrice,
		SettlementPrice: ctp.NoPrice,
		UpperLimitPrice: last * 1.1,
		LowerLimitPrice: last * 0.9,
		Volume:          100,
		Turnover:        last * 100,
	}
	for i := 0; i < 5; i++ {
		field.BidPrice[i] = last - float64(i+1)
		field.BidVolume[i] = 10 * (i + 1)
		field.AskPrice[i] = last + float64(i+1)
		field.AskVolume[i] = 10 * (i + 1)
	}
	return field
}

func waitSnapshot(t *testing.T, f *Feed, id string) uts.MarketDepth {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if md, ok := f.Snapshot(id); ok {
			return md
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no snapshot for %s", id)
	return uts.MarketDepth{}
}

func TestSubscribeAndReceiveSnapshot(t *testing.T) {
	f, gw, _ := newTestFeed(t)

	if err := f.Subscribe(context.Background(), []string{"rb2410"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	gw.Push(tick("rb2410", 3500))

	md := waitSnapshot(t, f, "rb2410")
	if md.OHLC.Last != 3500 {
		t.Fatalf("last = %v, want 3500", md.OHLC.Last)
	}
	if md.UpdateTime != "2024-06-03 10:15:30.500" {
		t.Fatalf("update time = %q", md.UpdateTime)
	}
	if md.OHLC.Close != 0 {
		t.Fatalf("close = %v, wire sentinel must sanitize to 0", md.OHLC.Close)
	}
	if md.Bid[0].Price != 3499 || md.Ask[0].Price != 3501 {
		t.Fatalf("top of book = %v / %v", md.Bid[0], md.Ask[0])
	}
}

func TestUnsubscribedInstrumentIsDropped(t *testing.T) {
	f, gw, _ := newTestFeed(t)

	// Never subscribed: pushes must not create snapshots.
	gw.Push(tick("cu2409", 70000))
	time.Sleep(50 * time.Millisecond)
	if _, ok := f.Snapshot("cu2409"); ok {
		t.Fatal("snapshot exists for unsubscribed instrument")
	}
}

func TestUnsubscribeRemovesSnapshot(t *testing.T) {
	f, gw, _ := newTestFeed(t)

	if err := f.Subscribe(context.Background(), []string{"rb2410"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	gw.Push(tick("rb2410", 3500))
	waitSnapshot(t, f, "rb2410")

	if err := f.Unsubscribe(context.Background(), []string{"rb2410"}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.Snapshot("rb2410"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("snapshot survived unsubscribe")
}

func TestDerivedVolumeAndTurnoverAreDeltas(t *testing.T) {
	f, gw, _ := newTestFeed(t)

	if err := f.Subscribe(context.Background(), []string{"rb2410"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	first := tick("rb2410", 3500)
	first.Volume = 100
	first.Turnover = 350000
	gw.Push(first)
	waitSnapshot(t, f, "rb2410")

	second := tick("rb2410", 3510)
	second.Volume = 130
	second.Turnover = 455300
	gw.Push(second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		md, _ := f.Snapshot("rb2410")
		if md.OHLC.Last == 3510 {
			if md.OHLC.Volume != 30 {
				t.Fatalf("volume = %d, want per-tick delta 30", md.OHLC.Volume)
			}
			if md.OHLC.Turnover != 105300 {
				t.Fatalf("turnover = %v, want per-tick delta 105300", md.OHLC.Turnover)
			}
			// Open of the second tick is the previous tick's last.
			if md.OHLC.Open != 3500 {
				t.Fatalf("open = %v, want previous last 3500", md.OHLC.Open)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("second tick never observed")
}

func TestTickReachesBusAndSinks(t *testing.T) {
	f, gw, bus := newTestFeed(t)

	ch, unsub := bus.Subscribe(events.EventTick, 4)
	defer unsub()

	var mu sync.Mutex
	var written []uts.MarketDepth
	f.RegisterSink(sinkFunc(func(md uts.MarketDepth) error {
		mu.Lock()
		written = append(written, md)
		mu.Unlock()
		return nil
	}))

	if err := f.Subscribe(context.Background(), []string{"rb2410"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	gw.Push(tick("rb2410", 3500))

	select {
	case payload := <-ch:
		if payload.(uts.MarketDepth).InstrumentID != "rb2410" {
			t.Fatalf("bus payload = %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick never published on bus")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(written) != 1 {
		t.Fatalf("sink writes = %d, want 1", len(written))
	}
}

type sinkFunc func(uts.MarketDepth) error

func (fn sinkFunc) Write(md uts.MarketDepth) error { return fn(md) }

func TestSubscribeChunksLargeLists(t *testing.T) {
	f, _, _ := newTestFeed(t)

	tickers := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		tickers = append(tickers, "x"+itoa3(i))
	}
	if err := f.Subscribe(context.Background(), tickers); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := len(f.SubscribedTickers()); got != 250 {
		t.Fatalf("subscribed = %d, want 250", got)
	}
	// Resubscribing is a no-op.
	if err := f.Subscribe(context.Background(), tickers[:10]); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
}
