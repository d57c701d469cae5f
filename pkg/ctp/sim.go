package ctp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// SimConfig scripts the behavior of the simulated gateways.
type SimConfig struct {
	BrokerID    string
	Credentials map[string]string // userID -> password

	Instruments map[string]uts.InstrumentInfo // keyed by instrument id
	Commissions map[string]uts.CommissionRate
	Positions   []PositionField // yesterday positions streamed by position queries
	Capital     uts.CapitalInfo

	// LoginErrorCode, when nonzero, forces every login to fail with that code.
	LoginErrorCode int
	// AuthFail forces authentication rejections.
	AuthFail bool
	// RejectOrders forces a gateway-level rejection of every order insert.
	RejectOrders bool
	// ExchangeReject lists instrument ids whose orders pass the gateway but are
	// rejected by the simulated exchange.
	ExchangeReject map[string]bool
	// FillOrders controls whether accepted orders fill immediately at their
	// limit price. When false, orders rest as queueing until canceled.
	FillOrders bool
	// Latency is applied before every callback dispatch.
	Latency time.Duration
	// Mute suppresses all callbacks, simulating a dead connection.
	Mute bool
}

var simSessionSeq atomic.Int64

// SimTradeGateway is an in-memory trade gateway used by the dry-run mode and
// the test suites. Callbacks are dispatched from a single goroutine so a
// request line observes responses in request order.
type SimTradeGateway struct {
	cfg        SimConfig
	translator *Translator
	sessionID  int
	connID     string

	mu     sync.Mutex
	sink   TradeSink
	queue  chan func()
	closed bool

	orders map[int64]*OrderField // by order ref
}

// NewSimTradeGateway builds a simulated trade gateway.
func NewSimTradeGateway(cfg SimConfig) *SimTradeGateway {
	if cfg.Credentials == nil {
		cfg.Credentials = map[string]string{}
	}
	return &SimTradeGateway{
		cfg:        cfg,
		translator: NewTranslator(),
		sessionID:  int(simSessionSeq.Add(1)),
		connID:     uuid.NewString(),
		orders:     make(map[int64]*OrderField),
	}
}

// Register sets the push sink. Must precede Connect.
func (g *SimTradeGateway) Register(sink TradeSink) {
	g.mu.Lock()
	g.sink = sink
	g.mu.Unlock()
}

// Connect starts the dispatch loop and reports the front as connected.
func (g *SimTradeGateway) Connect(addrs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sink == nil {
		return errors.New("sim gateway: no sink registered")
	}
	if g.queue != nil {
		return errors.New("sim gateway: already connected")
	}
	if len(addrs) == 0 {
		return errors.New("sim gateway: no front address")
	}
	g.queue = make(chan func(), 256)
	go func() {
		for fn := range g.queue {
			fn()
		}
	}()
	g.dispatchLocked(func(s TradeSink) { s.OnFrontConnected() })
	return nil
}

// Release stops callback dispatch. Safe to call twice.
func (g *SimTradeGateway) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queue != nil && !g.closed {
		close(g.queue)
		g.closed = true
	}
}

func (g *SimTradeGateway) dispatch(fn func(TradeSink)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dispatchLocked(fn)
}

func (g *SimTradeGateway) dispatchLocked(fn func(TradeSink)) {
	if g.closed || g.queue == nil || g.cfg.Mute {
		return
	}
	sink := g.sink
	delay := g.cfg.Latency
	g.queue <- func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		fn(sink)
	}
}

func (g *SimTradeGateway) ReqAuthenticate(req AuthenticateRequest, requestID int) error {
	if g.cfg.AuthFail {
		g.dispatch(func(s TradeSink) {
			s.OnRspAuthenticate(Result{Code: 63, Message: "client authentication failed"})
		})
		return nil
	}
	g.dispatch(func(s TradeSink) { s.OnRspAuthenticate(Result{}) })
	return nil
}

func (g *SimTradeGateway) ReqUserLogin(req LoginRequest, requestID int) error {
	code := g.cfg.LoginErrorCode
	if code == 0 {
		if want, ok := g.cfg.Credentials[req.UserID]; !ok || want != req.Password {
			code = CodeWrongUserOrPassword
		}
	}
	if code != 0 {
		c := code
		g.dispatch(func(s TradeSink) {
			s.OnRspUserLogin(LoginResponse{}, Result{Code: c, Message: "login rejected"})
		})
		return nil
	}
	rsp := LoginResponse{
		FrontID:    1,
		SessionID:  g.sessionID,
		TradingDay: time.Now().Format("20060102"),
	}
	g.dispatch(func(s TradeSink) { s.OnRspUserLogin(rsp, Result{}) })
	return nil
}

func (g *SimTradeGateway) ReqSettlementConfirm(req SettlementConfirmRequest, requestID int) error {
	g.dispatch(func(s TradeSink) { s.OnRspSettlementConfirm(Result{}) })
	return nil
}

func (g *SimTradeGateway) ReqUserLogout(req LogoutRequest, requestID int) error {
	g.dispatch(func(s TradeSink) { s.OnRspUserLogout(Result{}) })
	return nil
}

func (g *SimTradeGateway) ReqPasswordUpdate(req PasswordUpdateRequest, requestID int) error {
	if g.cfg.Credentials[req.UserID] != req.OldPassword {
		g.dispatch(func(s TradeSink) {
			s.OnRspPasswordUpdate(Result{Code: CodeWrongUserOrPassword, Message: "wrong old password"})
		})
		return nil
	}
	g.cfg.Credentials[req.UserID] = req.NewPassword
	g.dispatch(func(s TradeSink) { s.OnRspPasswordUpdate(Result{}) })
	return nil
}

func (g *SimTradeGateway) ReqQryInstrument(requestID int) error {
	infos := make([]uts.InstrumentInfo, 0, len(g.cfg.Instruments))
	for _, info := range g.cfg.Instruments {
		infos = append(infos, info)
	}
	g.dispatch(func(s TradeSink) {
		if len(infos) == 0 {
			s.OnRspQryInstrument(nil, Result{}, true)
			return
		}
		for i := range infos {
			s.OnRspQryInstrument(&infos[i], Result{}, i == len(infos)-1)
		}
	})
	return nil
}

func (g *SimTradeGateway) ReqQryCommissionRate(instrumentID string, kind uts.InstrumentKind, requestID int) error {
	rate, ok := g.cfg.Commissions[instrumentID]
	g.dispatch(func(s TradeSink) {
		if !ok {
			s.OnRspQryCommissionRate(nil, Result{}, true)
			return
		}
		s.OnRspQryCommissionRate(&rate, Result{}, true)
	})
	return nil
}

func (g *SimTradeGateway) ReqQryPosition(requestID int) error {
	rows := make([]PositionField, len(g.cfg.Positions))
	copy(rows, g.cfg.Positions)
	g.dispatch(func(s TradeSink) {
		if len(rows) == 0 {
			s.OnRspQryPosition(nil, Result{}, true)
			return
		}
		for i := range rows {
			s.OnRspQryPosition(&rows[i], Result{}, i == len(rows)-1)
		}
	})
	return nil
}

func (g *SimTradeGateway) ReqQryTradingAccount(requestID int) error {
	capital := g.cfg.Capital
	g.dispatch(func(s TradeSink) { s.OnRspQryTradingAccount(capital, Result{}) })
	return nil
}

// Wire status bytes as the venue pushes them.
const (
	wireStatusAllTraded       = '0'
	wireStatusNoTradeQueueing = '3'
	wireStatusCanceled        = '5'
)

func (g *SimTradeGateway) ReqOrderInsert(order OrderInsert, requestID int) error {
	if g.cfg.RejectOrders {
		g.dispatch(func(s TradeSink) {
			s.OnRspOrderInsert(order, Result{Code: 22, Message: "order field error"})
		})
		return nil
	}
	// The submission crosses the wire as single-byte codes; anything the
	// protocol cannot express is a bad field, rejected before the exchange.
	direction, okDir := g.translator.DirectionFromCode(g.translator.DirectionCode(order.Direction))
	openClose, okOC := g.translator.OpenCloseFromCode(g.translator.OpenCloseCode(order.OpenClose))
	hedgeFlag, okHedge := g.translator.HedgeFlagFromCode(g.translator.HedgeFlagCode(order.HedgeFlag))
	exchange, okExch := g.translator.ExchangeFromName(g.translator.ExchangeName(order.Exchange))
	if !okDir || !okOC || !okHedge || !okExch {
		g.dispatch(func(s TradeSink) {
			s.OnRspOrderInsert(order, Result{Code: 15, Message: "bad order field"})
		})
		return nil
	}
	now := time.Now().Format("2006-01-02 15:04:05.000")
	field := OrderField{
		FrontID:        1,
		SessionID:      g.sessionID,
		OrderRef:       order.OrderRef,
		Exchange:       exchange,
		InstrumentID:   order.InstrumentID,
		OpenClose:      openClose,
		Direction:      direction,
		HedgeFlag:      hedgeFlag,
		TotalVolume:    order.Volume,
		RemainedVolume: order.Volume,
		PriceType:      order.PriceType,
		LimitPrice:     order.LimitPrice,
		TimeInForce:    order.TimeInForce,
		Status:         g.translator.OrderStatusFromCode(wireStatusNoTradeQueueing),
		Time:           now,
	}
	if g.cfg.ExchangeReject[order.InstrumentID] {
		rejected := field
		rejected.InsertRejected = true
		rejected.StatusMessage = fmt.Sprintf("instrument %s rejected by exchange", order.InstrumentID)
		g.dispatch(func(s TradeSink) { s.OnRtnOrder(rejected) })
		return nil
	}

	g.mu.Lock()
	g.orders[order.OrderRef] = &field
	g.mu.Unlock()
	accepted := field
	g.dispatch(func(s TradeSink) { s.OnRtnOrder(accepted) })

	if g.cfg.FillOrders {
		filled := field
		filled.Status = g.translator.OrderStatusFromCode(wireStatusAllTraded)
		filled.TradedVolume = filled.TotalVolume
		filled.RemainedVolume = 0
		g.mu.Lock()
		g.orders[order.OrderRef] = &filled
		g.mu.Unlock()
		trade := TradeField{
			OrderRef:     order.OrderRef,
			Exchange:     exchange,
			InstrumentID: order.InstrumentID,
			OpenClose:    openClose,
			Direction:    direction,
			HedgeFlag:    hedgeFlag,
			Price:        order.LimitPrice,
			Volume:       order.Volume,
			Time:         now,
		}
		g.dispatch(func(s TradeSink) {
			s.OnRtnTrade(trade)
			s.OnRtnOrder(filled)
		})
	}
	return nil
}

func (g *SimTradeGateway) ReqOrderAction(action OrderAction, requestID int) error {
	g.mu.Lock()
	field, ok := g.orders[action.OrderRef]
	var canceled OrderField
	acted := false
	if ok && field.Status.Cancelable() {
		canceled = *field
		canceled.Status = g.translator.OrderStatusFromCode(wireStatusCanceled)
		g.orders[action.OrderRef] = &canceled
		acted = true
	}
	g.mu.Unlock()
	if acted {
		g.dispatch(func(s TradeSink) { s.OnRtnOrder(canceled) })
	}
	return nil
}

// SimMarketGateway is the market-data counterpart of SimTradeGateway. Tests
// and the dry-run feed inject snapshots through Push.
type SimMarketGateway struct {
	mu     sync.Mutex
	sink   MarketSink
	queue  chan func()
	closed bool
	mute   bool
	subs   map[string]bool
}

// NewSimMarketGateway builds a simulated market-data gateway.
func NewSimMarketGateway() *SimMarketGateway {
	return &SimMarketGateway{subs: make(map[string]bool)}
}

// SetMute suppresses callbacks while set, simulating a dead connection.
func (g *SimMarketGateway) SetMute(mute bool) {
	g.mu.Lock()
	g.mute = mute
	g.mu.Unlock()
}

func (g *SimMarketGateway) Register(sink MarketSink) {
	g.mu.Lock()
	g.sink = sink
	g.mu.Unlock()
}

func (g *SimMarketGateway) Connect(addrs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sink == nil {
		return errors.New("sim market gateway: no sink registered")
	}
	if g.queue != nil {
		return errors.New("sim market gateway: already connected")
	}
	g.queue = make(chan func(), 256)
	go func() {
		for fn := range g.queue {
			fn()
		}
	}()
	g.dispatchLocked(func(s MarketSink) { s.OnFrontConnected() })
	return nil
}

func (g *SimMarketGateway) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queue != nil && !g.closed {
		close(g.queue)
		g.closed = true
	}
}

func (g *SimMarketGateway) dispatch(fn func(MarketSink)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dispatchLocked(fn)
}

func (g *SimMarketGateway) dispatchLocked(fn func(MarketSink)) {
	if g.closed || g.queue == nil || g.mute {
		return
	}
	sink := g.sink
	g.queue <- func() { fn(sink) }
}

func (g *SimMarketGateway) ReqUserLogin(requestID int) error {
	g.dispatch(func(s MarketSink) { s.OnRspUserLogin(Result{}) })
	return nil
}

func (g *SimMarketGateway) ReqUserLogout(requestID int) error {
	g.dispatch(func(s MarketSink) { s.OnRspUserLogout(Result{}) })
	return nil
}

func (g *SimMarketGateway) Subscribe(instrumentIDs []string) error {
	ids := append([]string(nil), instrumentIDs...)
	g.mu.Lock()
	for _, id := range ids {
		g.subs[id] = true
	}
	g.mu.Unlock()
	g.dispatch(func(s MarketSink) {
		for i, id := range ids {
			s.OnRspSubMarketData(id, Result{}, i == len(ids)-1)
		}
	})
	return nil
}

func (g *SimMarketGateway) Unsubscribe(instrumentIDs []string) error {
	ids := append([]string(nil), instrumentIDs...)
	g.mu.Lock()
	for _, id := range ids {
		delete(g.subs, id)
	}
	g.mu.Unlock()
	g.dispatch(func(s MarketSink) {
		for i, id := range ids {
			s.OnRspUnSubMarketData(id, Result{}, i == len(ids)-1)
		}
	})
	return nil
}

// Push injects one depth snapshot as an unsolicited gateway push. Snapshots
// for unsubscribed instruments are dropped, matching venue behavior.
func (g *SimMarketGateway) Push(field DepthField) {
	g.mu.Lock()
	subscribed := g.subs[field.InstrumentID]
	g.mu.Unlock()
	if !subscribed {
		return
	}
	g.dispatch(func(s MarketSink) { s.OnRtnDepthMarketData(field) })
}
