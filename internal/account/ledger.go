package account

import (
	"sync"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// ledger is the order book and position ledger of one account. Orders, trades
// and holdings are guarded by independent locks so snapshot reads do not
// contend with push processing on unrelated categories.
type ledger struct {
	orderMu    sync.Mutex
	orders     map[uts.OrderIndex]uts.OrderRecord
	cancelable map[uts.OrderIndex]struct{}

	tradeMu sync.Mutex
	trades  []uts.TradingRecord

	holdingMu sync.Mutex
	holdings  map[uts.InstrumentIndex]uts.HoldingRecord
}

func newLedger() *ledger {
	return &ledger{
		orders:     make(map[uts.OrderIndex]uts.OrderRecord),
		cancelable: make(map[uts.OrderIndex]struct{}),
		holdings:   make(map[uts.InstrumentIndex]uts.HoldingRecord),
	}
}

// ApplyOrder ingests one order status push. The gateway is authoritative: an
// unseen index creates the record, a seen index is updated in place. Records
// are never deleted; the derived cancelable set is recomputed on every push.
// It reports whether the push was the first one observed for its index.
func (l *ledger) ApplyOrder(rec uts.OrderRecord) bool {
	idx := rec.Index()
	l.orderMu.Lock()
	defer l.orderMu.Unlock()

	existing, seen := l.orders[idx]
	if seen {
		if rec.Status == uts.RejectedByExchange {
			existing.Status = uts.RejectedByExchange
		} else {
			existing.Status = rec.Status
			existing.TradedVolume = rec.TradedVolume
			existing.RemainedVolume = rec.RemainedVolume
		}
		l.orders[idx] = existing
		rec = existing
	} else {
		l.orders[idx] = rec
	}

	if rec.Status.Cancelable() {
		l.cancelable[idx] = struct{}{}
	} else {
		delete(l.cancelable, idx)
	}
	return !seen
}

// ApplyTrade appends the fill to the trade log and settles it into the
// position bucket it reduces or grows. Closing fills consume the bucket on
// the opposite side of the trade.
func (l *ledger) ApplyTrade(trade uts.TradingRecord) {
	l.tradeMu.Lock()
	l.trades = append(l.trades, trade)
	l.tradeMu.Unlock()

	direction := trade.Direction
	if trade.OpenClose != uts.Open {
		direction = direction.Reverse()
	}
	idx := uts.InstrumentIndex{InstrumentID: trade.InstrumentID, Direction: direction, HedgeFlag: trade.HedgeFlag}

	l.holdingMu.Lock()
	defer l.holdingMu.Unlock()

	loc, ok := l.holdings[idx]
	if !ok {
		l.holdings[idx] = uts.HoldingRecord{
			Exchange:      trade.Exchange,
			InstrumentID:  trade.InstrumentID,
			Direction:     direction,
			HedgeFlag:     trade.HedgeFlag,
			TotalQuantity: trade.Volume,
			TodayQuantity: trade.Volume,
		}
		return
	}

	loc.TotalQuantity += trade.OpenClose.Sign() * trade.Volume
	switch trade.OpenClose {
	case uts.Open:
		loc.TodayQuantity += trade.Volume
	case uts.CloseToday:
		loc.TodayQuantity -= trade.Volume
	case uts.CloseYesterday:
		loc.PreQuantity -= trade.Volume
	case uts.Close:
		if trade.Exchange.ClosesYesterdayFirst() {
			consumed := min(loc.PreQuantity, trade.Volume)
			loc.PreQuantity -= consumed
			loc.TodayQuantity -= trade.Volume - consumed
		} else {
			consumed := min(loc.TodayQuantity, trade.Volume)
			loc.TodayQuantity -= consumed
			loc.PreQuantity -= trade.Volume - consumed
		}
	}
	l.holdings[idx] = loc
}

// SeedPreHolding merges one yesterday-position row into the ledger. Rows for
// the same bucket add up; today quantity stays untouched.
func (l *ledger) SeedPreHolding(rec uts.HoldingRecord) {
	idx := rec.Index()
	l.holdingMu.Lock()
	defer l.holdingMu.Unlock()

	if loc, ok := l.holdings[idx]; ok {
		loc.TotalQuantity += rec.PreQuantity
		loc.PreQuantity += rec.PreQuantity
		l.holdings[idx] = loc
		return
	}
	l.holdings[idx] = uts.HoldingRecord{
		Exchange:      rec.Exchange,
		InstrumentID:  rec.InstrumentID,
		Direction:     rec.Direction,
		HedgeFlag:     rec.HedgeFlag,
		TotalQuantity: rec.PreQuantity,
		PreQuantity:   rec.PreQuantity,
	}
}

// Order returns the record for one index.
func (l *ledger) Order(idx uts.OrderIndex) (uts.OrderRecord, bool) {
	l.orderMu.Lock()
	defer l.orderMu.Unlock()
	rec, ok := l.orders[idx]
	return rec, ok
}

// Orders returns a copy of the order log.
func (l *ledger) Orders() map[uts.OrderIndex]uts.OrderRecord {
	l.orderMu.Lock()
	defer l.orderMu.Unlock()
	out := make(map[uts.OrderIndex]uts.OrderRecord, len(l.orders))
	for k, v := range l.orders {
		out[k] = v
	}
	return out
}

// CancelableOrders returns the indices still eligible for cancellation.
func (l *ledger) CancelableOrders() []uts.OrderIndex {
	l.orderMu.Lock()
	defer l.orderMu.Unlock()
	out := make([]uts.OrderIndex, 0, len(l.cancelable))
	for idx := range l.cancelable {
		out = append(out, idx)
	}
	return out
}

// Trades returns a copy of the fill log.
func (l *ledger) Trades() []uts.TradingRecord {
	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()
	out := make([]uts.TradingRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// Holdings returns a copy of the position buckets.
func (l *ledger) Holdings() map[uts.InstrumentIndex]uts.HoldingRecord {
	l.holdingMu.Lock()
	defer l.holdingMu.Unlock()
	out := make(map[uts.InstrumentIndex]uts.HoldingRecord, len(l.holdings))
	for k, v := range l.holdings {
		out[k] = v
	}
	return out
}

// Holding returns the bucket for one index.
func (l *ledger) Holding(idx uts.InstrumentIndex) (uts.HoldingRecord, bool) {
	l.holdingMu.Lock()
	defer l.holdingMu.Unlock()
	rec, ok := l.holdings[idx]
	return rec, ok
}
