package ctp

import "github.com/jicewarwick/OpenUTS/pkg/uts"

// Translator holds the lookup tables between domain enums and the single-byte
// wire codes of the vendor protocol. Tables are plain values built when the
// gateway adapter is constructed, never at package init.
type Translator struct {
	direction    map[uts.Direction]byte
	directionRev map[byte]uts.Direction
	openClose    map[uts.OpenClose]byte
	openCloseRev map[byte]uts.OpenClose
	hedgeFlag    map[uts.HedgeFlag]byte
	hedgeFlagRev map[byte]uts.HedgeFlag
	orderStatus  map[byte]uts.OrderStatus
	exchangeName map[uts.Exchange]string
	exchangeRev  map[string]uts.Exchange
}

// NewTranslator builds the wire-code tables.
func NewTranslator() *Translator {
	t := &Translator{
		direction: map[uts.Direction]byte{
			uts.Long:  '0',
			uts.Short: '1',
		},
		openClose: map[uts.OpenClose]byte{
			uts.Open:           '0',
			uts.Close:          '1',
			uts.CloseToday:     '3',
			uts.CloseYesterday: '4',
		},
		hedgeFlag: map[uts.HedgeFlag]byte{
			uts.Speculation: '1',
			uts.Arbitrage:   '2',
			uts.Hedge:       '3',
		},
		orderStatus: map[byte]uts.OrderStatus{
			'0': uts.AllTraded,
			'1': uts.PartTradedQueueing,
			'2': uts.PartTradedNotQueueing,
			'3': uts.NoTradeQueueing,
			'4': uts.NoTradeNotQueueing,
			'5': uts.Canceled,
			'a': uts.StatusUnknown,
			'b': uts.NotTouched,
			'c': uts.Touched,
		},
		exchangeName: map[uts.Exchange]string{
			uts.SHFE:  "SHFE",
			uts.DCE:   "DCE",
			uts.CZCE:  "CZCE",
			uts.CFFEX: "CFFEX",
			uts.INE:   "INE",
		},
	}
	t.directionRev = make(map[byte]uts.Direction, len(t.direction))
	for d, c := range t.direction {
		t.directionRev[c] = d
	}
	t.openCloseRev = make(map[byte]uts.OpenClose, len(t.openClose))
	for oc, c := range t.openClose {
		t.openCloseRev[c] = oc
	}
	t.hedgeFlagRev = make(map[byte]uts.HedgeFlag, len(t.hedgeFlag))
	for h, c := range t.hedgeFlag {
		t.hedgeFlagRev[c] = h
	}
	t.exchangeRev = make(map[string]uts.Exchange, len(t.exchangeName))
	for e, name := range t.exchangeName {
		t.exchangeRev[name] = e
	}
	return t
}

// DirectionCode returns the wire code for a side, or 0 when the side has no
// wire representation.
func (t *Translator) DirectionCode(d uts.Direction) byte { return t.direction[d] }

// DirectionFromCode maps a wire side byte back to the domain side.
func (t *Translator) DirectionFromCode(c byte) (uts.Direction, bool) {
	d, ok := t.directionRev[c]
	return d, ok
}

// OpenCloseCode returns the wire offset flag for an open/close tag. Auto has
// no wire form; it must be decomposed before reaching the gateway.
func (t *Translator) OpenCloseCode(oc uts.OpenClose) byte { return t.openClose[oc] }

// OpenCloseFromCode maps a wire offset flag back to the domain tag.
func (t *Translator) OpenCloseFromCode(c byte) (uts.OpenClose, bool) {
	oc, ok := t.openCloseRev[c]
	return oc, ok
}

// HedgeFlagCode returns the wire hedge flag.
func (t *Translator) HedgeFlagCode(h uts.HedgeFlag) byte { return t.hedgeFlag[h] }

// HedgeFlagFromCode maps a wire hedge flag back to the domain flag.
func (t *Translator) HedgeFlagFromCode(c byte) (uts.HedgeFlag, bool) {
	h, ok := t.hedgeFlagRev[c]
	return h, ok
}

// OrderStatusFromCode maps a wire status byte to the domain status.
func (t *Translator) OrderStatusFromCode(c byte) uts.OrderStatus {
	if s, ok := t.orderStatus[c]; ok {
		return s
	}
	return uts.StatusUnknown
}

// ExchangeName returns the wire spelling of an exchange id, empty when the
// venue is unknown to the protocol.
func (t *Translator) ExchangeName(e uts.Exchange) string { return t.exchangeName[e] }

// ExchangeFromName maps a wire exchange spelling back to the domain id.
func (t *Translator) ExchangeFromName(name string) (uts.Exchange, bool) {
	e, ok := t.exchangeRev[name]
	return e, ok
}
