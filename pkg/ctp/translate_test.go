package ctp

import (
	"testing"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

func TestTranslatorRoundTrips(t *testing.T) {
	tr := NewTranslator()

	for _, d := range []uts.Direction{uts.Long, uts.Short} {
		got, ok := tr.DirectionFromCode(tr.DirectionCode(d))
		if !ok || got != d {
			t.Errorf("direction %v round-tripped to %v (ok=%v)", d, got, ok)
		}
	}
	for _, oc := range []uts.OpenClose{uts.Open, uts.Close, uts.CloseToday, uts.CloseYesterday} {
		got, ok := tr.OpenCloseFromCode(tr.OpenCloseCode(oc))
		if !ok || got != oc {
			t.Errorf("open/close %v round-tripped to %v (ok=%v)", oc, got, ok)
		}
	}
	for _, h := range []uts.HedgeFlag{uts.Speculation, uts.Arbitrage, uts.Hedge} {
		got, ok := tr.HedgeFlagFromCode(tr.HedgeFlagCode(h))
		if !ok || got != h {
			t.Errorf("hedge flag %v round-tripped to %v (ok=%v)", h, got, ok)
		}
	}
	for _, e := range []uts.Exchange{uts.SHFE, uts.DCE, uts.CZCE, uts.CFFEX, uts.INE} {
		got, ok := tr.ExchangeFromName(tr.ExchangeName(e))
		if !ok || got != e {
			t.Errorf("exchange %v round-tripped to %v (ok=%v)", e, got, ok)
		}
	}
}

func TestTranslatorUnknownCodes(t *testing.T) {
	tr := NewTranslator()

	if got := tr.OrderStatusFromCode('z'); got != uts.StatusUnknown {
		t.Errorf("OrderStatusFromCode('z') = %v, want StatusUnknown", got)
	}
	if _, ok := tr.DirectionFromCode('x'); ok {
		t.Error("DirectionFromCode('x') resolved an unmapped byte")
	}
	// Auto has no wire form; its zero-byte encoding must not decode.
	if _, ok := tr.OpenCloseFromCode(tr.OpenCloseCode(uts.Auto)); ok {
		t.Error("Auto decoded to a wire offset flag")
	}
	if _, ok := tr.ExchangeFromName("NYSE"); ok {
		t.Error("ExchangeFromName resolved an unknown venue")
	}
}

func TestTranslatorStatusCodes(t *testing.T) {
	tr := NewTranslator()
	cases := []struct {
		code byte
		want uts.OrderStatus
	}{
		{'0', uts.AllTraded},
		{'3', uts.NoTradeQueueing},
		{'5', uts.Canceled},
		{'a', uts.StatusUnknown},
	}
	for _, tc := range cases {
		if got := tr.OrderStatusFromCode(tc.code); got != tc.want {
			t.Errorf("OrderStatusFromCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
