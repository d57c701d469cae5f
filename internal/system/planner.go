package system

import (
	"math"
	"strings"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// ProcessAdvancedOrder validates an advanced order, resolves its relative
// price against the latest depth snapshot and decomposes its open/close
// intent into concrete exchange-ready legs. Nothing is submitted; callers
// place the returned legs themselves.
func (s *System) ProcessAdvancedOrder(order uts.Order) ([]uts.Order, error) {
	account := order.Account().String()
	if order.Volume <= 0 {
		return nil, uts.NewOrderError(account, "order volume must be positive, got %d", order.Volume)
	}

	s.instrumentMu.RLock()
	info, ok := s.instruments[strings.ToUpper(order.InstrumentID)]
	s.instrumentMu.RUnlock()
	if !ok {
		return nil, uts.NewOrderError(account, "unknown instrument %q", order.InstrumentID)
	}
	order.InstrumentID = info.InstrumentID
	order.Exchange = info.Exchange

	if order.Exchange == uts.CZCE && order.TimeInForce == uts.FOK {
		return nil, uts.NewOrderError(account, "%s does not accept FOK orders", order.Exchange)
	}

	if err := s.resolvePrice(&order, info); err != nil {
		return nil, err
	}
	return s.resolveOpenClose(order)
}

// resolvePrice turns a relative price spec into a concrete one, applying the
// tick offset and clamping to the day's price-limit band.
func (s *System) resolvePrice(order *uts.Order, info uts.InstrumentInfo) error {
	account := order.Account().String()
	feed := s.Feed()
	if feed == nil {
		return uts.NewOrderError(account, "no market data source configured")
	}
	depth, ok := feed.Snapshot(order.InstrumentID)
	if !ok {
		return uts.NewOrderError(account, "no market data for %s, subscribe it first", order.InstrumentID)
	}

	wasRelative := order.PriceType.Relative()
	switch order.PriceType {
	case uts.AnyPrice:
		switch order.Exchange {
		case uts.CFFEX:
			order.PriceType = uts.FiveLevelPrice
			order.LimitPrice = 0
		case uts.SHFE:
			// SHFE rejects market orders; a limit at the band is the
			// closest equivalent.
			order.PriceType = uts.LimitPrice
			if order.Direction == uts.Long {
				order.LimitPrice = depth.UpperLimit
			} else {
				order.LimitPrice = depth.LowerLimit
			}
		}
	case uts.LimitPrice:
		ratio := order.LimitPrice / info.PriceTick
		if math.Abs(ratio-math.Round(ratio)) > 1e-4 {
			return uts.NewOrderError(account, "limit price %v is not a multiple of the %v price tick", order.LimitPrice, info.PriceTick)
		}
	case uts.BestPrice:
		if order.Exchange != uts.CFFEX {
			order.PriceType = uts.LimitPrice
			if order.Direction == uts.Long {
				order.LimitPrice = depth.Ask[0].Price
			} else {
				order.LimitPrice = depth.Bid[0].Price
			}
		}
	case uts.LastPrice:
		order.PriceType = uts.LimitPrice
		order.LimitPrice = depth.OHLC.Last
	case uts.BidPrice, uts.AskPrice:
		level := order.LevelOffset
		if level == 0 {
			level = 1
		}
		if level < 1 || level > 5 {
			return uts.NewOrderError(account, "depth level offset must be between 1 and 5, got %d", order.LevelOffset)
		}
		if order.PriceType == uts.BidPrice {
			order.LimitPrice = depth.Bid[level-1].Price
		} else {
			order.LimitPrice = depth.Ask[level-1].Price
		}
		order.PriceType = uts.LimitPrice
	case uts.FiveLevelPrice:
		if order.Exchange != uts.CFFEX {
			return uts.NewOrderError(account, "five-level market orders are only accepted on %s", uts.CFFEX)
		}
	}

	if wasRelative && order.PriceType == uts.LimitPrice {
		order.LimitPrice += float64(order.TickOffset) * info.PriceTick * float64(order.Direction.Sign())
		if order.LimitPrice > depth.UpperLimit {
			order.LimitPrice = depth.UpperLimit
		}
		if order.LimitPrice < depth.LowerLimit {
			order.LimitPrice = depth.LowerLimit
		}
	}
	if order.PriceType == uts.LimitPrice {
		if order.LimitPrice > depth.UpperLimit || order.LimitPrice < depth.LowerLimit {
			return uts.NewOrderError(account, "limit price %v is outside the [%v, %v] band", order.LimitPrice, depth.LowerLimit, depth.UpperLimit)
		}
	}
	return nil
}

// resolveOpenClose checks explicit close tags against the closable bucket and
// splits Auto orders into close/open legs. The split consumes today-opened and
// carried-over volume in the same precedence the venue settles generic closes
// with, so planned legs and post-fill bookkeeping agree.
func (s *System) resolveOpenClose(order uts.Order) ([]uts.Order, error) {
	account := order.Account().String()
	a, err := s.checkAccount(order.Account())
	if err != nil {
		return nil, err
	}

	// A close consumes the bucket held in the opposite direction.
	bucket, _ := a.Holding(uts.InstrumentIndex{
		InstrumentID: order.InstrumentID,
		Direction:    order.Direction.Reverse(),
		HedgeFlag:    order.HedgeFlag,
	})
	merged := s.lacksCloseToday(order.InstrumentID)

	switch order.OpenClose {
	case uts.Open:
		return []uts.Order{order}, nil
	case uts.Close:
		if bucket.TotalQuantity < order.Volume {
			return nil, uts.NewOrderError(account, "cannot close %d of %s, only %d held", order.Volume, order.InstrumentID, bucket.TotalQuantity)
		}
		return []uts.Order{order}, nil
	case uts.CloseYesterday:
		if bucket.PreQuantity < order.Volume {
			return nil, uts.NewOrderError(account, "cannot close %d carried-over %s, only %d held", order.Volume, order.InstrumentID, bucket.PreQuantity)
		}
		if merged {
			order.OpenClose = uts.Close
		}
		return []uts.Order{order}, nil
	case uts.CloseToday:
		if bucket.TodayQuantity < order.Volume {
			return nil, uts.NewOrderError(account, "cannot close %d today-opened %s, only %d held", order.Volume, order.InstrumentID, bucket.TodayQuantity)
		}
		if merged {
			order.OpenClose = uts.Close
		}
		return []uts.Order{order}, nil
	case uts.Auto:
		return splitAuto(order, bucket, merged), nil
	default:
		return nil, uts.NewOrderError(account, "unsupported open/close tag %v", order.OpenClose)
	}
}

// splitAuto decomposes an Auto order into at most two close legs and one open
// leg against the closable bucket.
func splitAuto(order uts.Order, bucket uts.HoldingRecord, merged bool) []uts.Order {
	leg := func(oc uts.OpenClose, volume int) uts.Order {
		out := order
		out.OpenClose = oc
		out.Volume = volume
		return out
	}

	closeVol := min(order.Volume, bucket.TotalQuantity)
	openVol := order.Volume - closeVol
	if closeVol == 0 {
		return []uts.Order{leg(uts.Open, order.Volume)}
	}

	var legs []uts.Order
	switch {
	case merged:
		legs = append(legs, leg(uts.Close, closeVol))
	case order.Exchange.ClosesYesterdayFirst():
		pre := min(closeVol, bucket.PreQuantity)
		if pre > 0 {
			legs = append(legs, leg(uts.CloseYesterday, pre))
		}
		if today := closeVol - pre; today > 0 {
			legs = append(legs, leg(uts.CloseToday, today))
		}
	default:
		today := min(closeVol, bucket.TodayQuantity)
		if today > 0 {
			legs = append(legs, leg(uts.CloseToday, today))
		}
		if pre := closeVol - today; pre > 0 {
			legs = append(legs, leg(uts.CloseYesterday, pre))
		}
	}
	if openVol > 0 {
		legs = append(legs, leg(uts.Open, openVol))
	}
	return legs
}
