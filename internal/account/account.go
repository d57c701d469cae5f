// Package account implements one trading account: its connection state
// machine, order book and position ledger, and the synchronous login, order,
// query and cancel operations layered over the asynchronous gateway.
package account

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/async"
	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/internal/throttle"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

const (
	loginTimeout          = 60 * time.Second
	logoutTimeout         = 2 * time.Second
	passwordTimeout       = 2 * time.Second
	orderWatchTimeout     = 2 * time.Second
	instrumentTimeout     = 60 * time.Second
	commissionTimeout     = 2 * time.Second
	positionTimeout       = 60 * time.Second
	capitalTimeout        = time.Second
	capitalRefreshPeriod  = 60 * time.Second
	defaultQueriesPerSec  = 2
	defaultThrottleWindow = time.Second
)

// Account is the facade over one trade connection: connection state machine,
// ledger, throttler and the blocking operations built on them.
type Account struct {
	info    uts.AccountInfo
	broker  uts.BrokerInfo
	id      string
	gateway ctp.TradeGateway
	log     zerolog.Logger
	bus     *events.Bus

	// stateMu serializes login, logout and password update end to end.
	stateMu sync.Mutex
	status  atomic.Int32
	failure atomic.Int32 // last observed login failure

	frontID   int
	sessionID int
	orderRef  atomic.Int64
	requestID atomic.Int64

	password  string
	pwdMu     sync.Mutex
	pwdOK     bool
	connected bool

	connMgr  *async.QueryManager // login / logout / password line
	queryMgr *async.QueryManager // instrument / commission / position / capital line

	throttler *throttle.Throttler
	ledger    *ledger

	capitalMu sync.Mutex
	capital   uts.CapitalInfo

	instrumentMu sync.Mutex
	instruments  map[string]uts.InstrumentInfo // keyed by upper-cased instrument id
	badRecord    bool

	commissionMu sync.Mutex
	commissions  map[string]uts.CommissionRate

	orderSyncMu sync.Mutex
	watchMu     sync.Mutex
	watchers    map[uts.OrderIndex]chan struct{}
	rejected    map[uts.OrderIndex]struct{}

	refreshStop chan struct{}
	refreshDone chan struct{}
}

// New builds an account bound to one trade gateway. The gateway is registered
// but not connected until the first login.
func New(info uts.AccountInfo, broker uts.BrokerInfo, gateway ctp.TradeGateway, log zerolog.Logger) *Account {
	rate := broker.QueryRatePerSecond
	if rate == 0 {
		rate = defaultQueriesPerSec
	}
	a := &Account{
		info:        info,
		broker:      broker,
		id:          info.Key().String(),
		gateway:     gateway,
		log:         log.With().Str("account", info.Key().String()).Logger(),
		password:    info.Password,
		connMgr:     async.NewQueryManager(nil, loginTimeout),
		queryMgr:    async.NewQueryManager(nil, capitalTimeout),
		throttler:   throttle.New(rate, defaultThrottleWindow),
		ledger:      newLedger(),
		instruments: make(map[string]uts.InstrumentInfo),
		commissions: make(map[string]uts.CommissionRate),
		watchers:    make(map[uts.OrderIndex]chan struct{}),
		rejected:    make(map[uts.OrderIndex]struct{}),
	}
	a.status.Store(int32(Initializing))
	gateway.Register(&tradeEvents{a: a})
	return a
}

// Key returns the account's registration key.
func (a *Account) Key() uts.AccountKey { return a.info.Key() }

// Status returns the current connection state.
func (a *Account) Status() ConnectionStatus { return ConnectionStatus(a.status.Load()) }

func (a *Account) setStatus(s ConnectionStatus) {
	a.status.Store(int32(s))
	a.publish(events.EventAccountStatus, events.AccountStatus{Account: a.Key(), Status: s.String()})
}

// SetBus attaches an event bus; order, trade, capital and status changes are
// published to it. Must be called before login.
func (a *Account) SetBus(bus *events.Bus) { a.bus = bus }

func (a *Account) publish(e events.Event, payload any) {
	if a.bus != nil {
		a.bus.Publish(e, payload)
	}
}

// IsLoggedIn reports whether the login chain completed.
func (a *Account) IsLoggedIn() bool { return a.Status() == Done }

func (a *Account) nextRequestID() int { return int(a.requestID.Add(1)) }

// LogOnSync drives connect, authenticate, login and settlement confirmation,
// then seeds yesterday positions and starts the capital refresher. A timeout
// of the whole chain surfaces as a network error; login rejections are
// classified into the login failure taxonomy.
func (a *Account) LogOnSync(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.IsLoggedIn() {
		a.log.Warn().Msg("already logged on")
		return nil
	}

	cond := a.connMgr.Run(ctx, a.logOnAsync, loginTimeout, 1)
	if cond == async.Timeout {
		return &uts.NetworkError{Subject: a.id}
	}
	switch a.Status() {
	case Done:
	case Authorizing:
		return &uts.LoginError{Account: a.id, Reason: uts.LoginAuthorizationFailed}
	case Logining:
		return &uts.LoginError{Account: a.id, Reason: uts.LoginFailure(a.failure.Load())}
	default:
		a.log.Debug().Stringer("status", a.Status()).Msg("login chain stalled")
		return &uts.LoginError{Account: a.id, Reason: uts.LoginUnknown}
	}

	if err := a.QueryPreHolding(ctx); err != nil {
		return err
	}

	a.refreshStop = make(chan struct{})
	a.refreshDone = make(chan struct{})
	go a.refreshCapital(a.refreshStop, a.refreshDone)
	a.log.Info().Msg("logged in")
	return nil
}

func (a *Account) logOnAsync() {
	if !a.connected {
		if err := a.gateway.Connect(a.broker.TradeServerAddr); err != nil {
			a.log.Error().Err(err).Msg("connect failed")
			a.connMgr.Done(false)
			return
		}
		a.connected = true
		a.setStatus(Connecting)
		return
	}
	a.postLoginRequest()
}

func (a *Account) postLoginRequest() {
	req := ctp.LoginRequest{
		BrokerID: a.broker.BrokerID,
		UserID:   a.info.AccountNumber,
		Password: a.password,
	}
	if err := a.gateway.ReqUserLogin(req, a.nextRequestID()); err != nil {
		a.log.Error().Err(err).Msg("login request failed")
		a.connMgr.Done(false)
		return
	}
	a.setStatus(Logining)
}

// LogOffSync logs the account out and releases the connection. Calling it on
// an account that never logged in is a no-op. Unwind failures are logged only.
func (a *Account) LogOffSync(ctx context.Context) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.IsLoggedIn() {
		return
	}
	cond := a.connMgr.Run(ctx, a.logOffAsync, logoutTimeout, 1)
	if cond != async.Succeeded {
		a.log.Warn().Stringer("condition", cond).Msg("logout did not confirm, dropping connection")
	}
	a.setStatus(LoggedOut)
	if a.refreshStop != nil {
		close(a.refreshStop)
		<-a.refreshDone
		a.refreshStop = nil
	}
	a.gateway.Release()
	a.connected = false
	a.log.Info().Msg("logged out")
}

func (a *Account) logOffAsync() {
	if a.Status() == LoggedOut {
		a.connMgr.Done(true)
		return
	}
	a.setStatus(LoggingOut)
	req := ctp.LogoutRequest{BrokerID: a.broker.BrokerID, UserID: a.info.AccountNumber}
	if err := a.gateway.ReqUserLogout(req, a.nextRequestID()); err != nil {
		a.log.Warn().Err(err).Msg("logout request failed")
		a.connMgr.Done(false)
	}
}

// UpdatePassword changes the account password at the gateway. A new password
// equal to the current one is accepted without a round trip.
func (a *Account) UpdatePassword(ctx context.Context, newPassword string) bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if newPassword == a.password {
		a.log.Warn().Msg("new password equals the current one")
		return true
	}
	a.pwdMu.Lock()
	a.pwdOK = false
	a.pwdMu.Unlock()

	req := ctp.PasswordUpdateRequest{
		BrokerID:    a.broker.BrokerID,
		UserID:      a.info.AccountNumber,
		OldPassword: a.password,
		NewPassword: newPassword,
	}
	cond := a.connMgr.Run(ctx, func() {
		if err := a.gateway.ReqPasswordUpdate(req, a.nextRequestID()); err != nil {
			a.log.Error().Err(err).Msg("password update request failed")
			a.connMgr.Done(false)
		}
	}, passwordTimeout, 1)

	a.pwdMu.Lock()
	ok := cond == async.Succeeded && a.pwdOK
	a.pwdMu.Unlock()
	if ok {
		a.password = newPassword
	}
	return ok
}

// refreshCapital periodically re-queries the equity snapshot while logged in.
func (a *Account) refreshCapital(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(capitalRefreshPeriod)
	defer ticker.Stop()
	for {
		if a.Status() == Done {
			if err := a.QueryCapitalSync(context.Background()); err != nil {
				a.log.Warn().Err(err).Msg("capital refresh failed")
			}
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// QueryInstruments fetches reference data for every instrument on the market.
func (a *Account) QueryInstruments(ctx context.Context) (map[string]uts.InstrumentInfo, error) {
	cond := a.queryMgr.Run(ctx, func() {
		a.throttler.Wait()
		if err := a.gateway.ReqQryInstrument(a.nextRequestID()); err != nil {
			a.log.Error().Err(err).Msg("instrument query failed")
			a.queryMgr.Done(false)
		}
	}, instrumentTimeout, 1)
	if cond == async.Timeout {
		return nil, &uts.NetworkError{Subject: a.id}
	}
	a.instrumentMu.Lock()
	defer a.instrumentMu.Unlock()
	if a.badRecord {
		return nil, &uts.ConfigError{Subject: a.id, Err: uts.ErrUnrecognizedGatewayData}
	}
	out := make(map[string]uts.InstrumentInfo, len(a.instruments))
	for k, v := range a.instruments {
		out[k] = v
	}
	return out, nil
}

// Instruments returns the cached reference data.
func (a *Account) Instruments() map[string]uts.InstrumentInfo {
	a.instrumentMu.Lock()
	defer a.instrumentMu.Unlock()
	out := make(map[string]uts.InstrumentInfo, len(a.instruments))
	for k, v := range a.instruments {
		out[k] = v
	}
	return out
}

// QueryCommissionRate fetches the commission schedule for one instrument.
// Venues quote some products at the product level; the product id is used as
// a fallback lookup key.
func (a *Account) QueryCommissionRate(ctx context.Context, instrumentID string, kind uts.InstrumentKind) (uts.CommissionRate, error) {
	a.queryMgr.Run(ctx, func() {
		a.throttler.Wait()
		if err := a.gateway.ReqQryCommissionRate(instrumentID, kind, a.nextRequestID()); err != nil {
			a.log.Error().Err(err).Msg("commission query failed")
			a.queryMgr.Done(false)
		}
	}, commissionTimeout, 1)

	a.commissionMu.Lock()
	defer a.commissionMu.Unlock()
	if rate, ok := a.commissions[instrumentID]; ok {
		return rate, nil
	}
	if rate, ok := a.commissions[productID(instrumentID)]; ok {
		return rate, nil
	}
	return uts.CommissionRate{}, &uts.NetworkError{Subject: a.id}
}

// QueryAllCommissionRates walks the cached instrument set and fetches every
// commission schedule.
func (a *Account) QueryAllCommissionRates(ctx context.Context) (map[string]uts.CommissionRate, error) {
	for _, info := range a.Instruments() {
		if _, err := a.QueryCommissionRate(ctx, info.InstrumentID, info.Kind); err != nil {
			a.log.Warn().Str("instrument", info.InstrumentID).Err(err).Msg("commission rate unavailable")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return a.CommissionRates(), nil
}

// CommissionRates returns the cached commission schedules.
func (a *Account) CommissionRates() map[string]uts.CommissionRate {
	a.commissionMu.Lock()
	defer a.commissionMu.Unlock()
	out := make(map[string]uts.CommissionRate, len(a.commissions))
	for k, v := range a.commissions {
		out[k] = v
	}
	return out
}

// QueryPreHolding seeds yesterday positions from a position query. Called once
// per login session.
func (a *Account) QueryPreHolding(ctx context.Context) error {
	cond := a.queryMgr.Run(ctx, func() {
		a.throttler.Wait()
		if err := a.gateway.ReqQryPosition(a.nextRequestID()); err != nil {
			a.log.Error().Err(err).Msg("position query failed")
			a.queryMgr.Done(false)
		}
	}, positionTimeout, 1)
	if cond == async.Timeout {
		a.log.Error().Msg("position query timed out")
		return &uts.NetworkError{Subject: a.id}
	}
	return nil
}

// QueryCapitalSync refreshes the equity snapshot.
func (a *Account) QueryCapitalSync(ctx context.Context) error {
	cond := a.queryMgr.Run(ctx, func() {
		a.throttler.Wait()
		if err := a.gateway.ReqQryTradingAccount(a.nextRequestID()); err != nil {
			a.log.Error().Err(err).Msg("capital query failed")
			a.queryMgr.Done(false)
		}
	}, capitalTimeout, 1)
	if cond == async.Timeout {
		return &uts.NetworkError{Subject: a.id}
	}
	return nil
}

// Capital returns the last equity snapshot.
func (a *Account) Capital() uts.CapitalInfo {
	a.capitalMu.Lock()
	defer a.capitalMu.Unlock()
	return a.capital
}

// Holdings returns a copy of the position buckets.
func (a *Account) Holdings() map[uts.InstrumentIndex]uts.HoldingRecord { return a.ledger.Holdings() }

// Holding returns one position bucket.
func (a *Account) Holding(idx uts.InstrumentIndex) (uts.HoldingRecord, bool) {
	return a.ledger.Holding(idx)
}

// Trades returns a copy of the fill log.
func (a *Account) Trades() []uts.TradingRecord { return a.ledger.Trades() }

// Orders returns a copy of the order log.
func (a *Account) Orders() map[uts.OrderIndex]uts.OrderRecord { return a.ledger.Orders() }

// UnfinishedOrders lists orders still working at the exchange.
func (a *Account) UnfinishedOrders() []uts.OrderRecord {
	out := make([]uts.OrderRecord, 0)
	for _, rec := range a.ledger.Orders() {
		if rec.Status.Cancelable() {
			out = append(out, rec)
		}
	}
	return out
}

func (a *Account) buildInsert(order uts.Order, ref int64) ctp.OrderInsert {
	return ctp.OrderInsert{
		BrokerID:     a.broker.BrokerID,
		InvestorID:   a.info.AccountNumber,
		InstrumentID: order.InstrumentID,
		Exchange:     order.Exchange,
		OrderRef:     ref,
		Direction:    order.Direction,
		OpenClose:    order.OpenClose,
		HedgeFlag:    order.HedgeFlag,
		PriceType:    order.PriceType,
		LimitPrice:   order.LimitPrice,
		Volume:       order.Volume,
		TimeInForce:  order.TimeInForce,
	}
}

func (a *Account) watch(idx uts.OrderIndex) chan struct{} {
	ch := make(chan struct{}, 1)
	a.watchMu.Lock()
	a.watchers[idx] = ch
	a.watchMu.Unlock()
	return ch
}

func (a *Account) unwatch(idx uts.OrderIndex) {
	a.watchMu.Lock()
	delete(a.watchers, idx)
	a.watchMu.Unlock()
}

// notifyWatch fires the watcher of idx if one is armed. Safe from the callback
// goroutine at any time.
func (a *Account) notifyWatch(idx uts.OrderIndex) {
	a.watchMu.Lock()
	ch := a.watchers[idx]
	a.watchMu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (a *Account) wasRejectedByGateway(idx uts.OrderIndex) bool {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	_, ok := a.rejected[idx]
	return ok
}

// PlaceOrderAsync submits one concrete order and returns its index without
// waiting for the gateway's verdict.
func (a *Account) PlaceOrderAsync(order uts.Order) (uts.OrderIndex, error) {
	if !a.IsLoggedIn() {
		return uts.OrderIndex{}, &uts.NotLoggedInError{Account: a.Key()}
	}
	ref := a.orderRef.Add(1)
	idx := uts.OrderIndex{FrontID: a.frontID, SessionID: a.sessionID, OrderRef: ref}
	if err := a.gateway.ReqOrderInsert(a.buildInsert(order, ref), a.nextRequestID()); err != nil {
		return uts.OrderIndex{}, &uts.OrderError{Account: a.id, Reason: err.Error(), Err: err}
	}
	return idx, nil
}

// PlaceOrderSync submits one concrete order and waits briefly for the first
// verdict. Gateway and exchange rejections surface as typed order errors; a
// silent timeout means accepted with status not yet known and does not raise.
func (a *Account) PlaceOrderSync(ctx context.Context, order uts.Order) (uts.OrderIndex, error) {
	a.orderSyncMu.Lock()
	idx, err := a.placeWatched(ctx, order)
	a.orderSyncMu.Unlock()
	if err != nil {
		return idx, err
	}
	return idx, a.orderVerdict(idx)
}

func (a *Account) placeWatched(ctx context.Context, order uts.Order) (uts.OrderIndex, error) {
	if !a.IsLoggedIn() {
		return uts.OrderIndex{}, &uts.NotLoggedInError{Account: a.Key()}
	}
	ref := a.orderRef.Add(1)
	idx := uts.OrderIndex{FrontID: a.frontID, SessionID: a.sessionID, OrderRef: ref}
	ch := a.watch(idx)
	defer a.unwatch(idx)

	if err := a.gateway.ReqOrderInsert(a.buildInsert(order, ref), a.nextRequestID()); err != nil {
		return uts.OrderIndex{}, &uts.OrderError{Account: a.id, Reason: err.Error(), Err: err}
	}

	timer := time.NewTimer(orderWatchTimeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
	return idx, nil
}

// orderVerdict inspects the ledger after the watch window closed.
func (a *Account) orderVerdict(idx uts.OrderIndex) error {
	if a.wasRejectedByGateway(idx) {
		return &uts.OrderError{Account: a.id, Err: uts.ErrOrderRejectedByGateway}
	}
	rec, ok := a.ledger.Order(idx)
	if ok && rec.Status == uts.RejectedByExchange {
		return &uts.OrderError{Account: a.id, Err: uts.ErrOrderRejectedByExchange}
	}
	return nil
}

// BatchOrderSync submits the orders back to back and waits once for the last
// one's first verdict, bounding the total wait to one watch window.
func (a *Account) BatchOrderSync(ctx context.Context, orders []uts.Order) ([]uts.OrderIndex, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	a.orderSyncMu.Lock()
	defer a.orderSyncMu.Unlock()

	indexes := make([]uts.OrderIndex, 0, len(orders))
	for _, order := range orders[:len(orders)-1] {
		idx, err := a.PlaceOrderAsync(order)
		if err != nil {
			return indexes, err
		}
		indexes = append(indexes, idx)
	}
	idx, err := a.placeWatched(ctx, orders[len(orders)-1])
	if err != nil {
		return indexes, err
	}
	return append(indexes, idx), nil
}

// GetBatchOrderStatus reports the current status of each index.
func (a *Account) GetBatchOrderStatus(indexes []uts.OrderIndex) (map[uts.OrderIndex]uts.OrderStatus, error) {
	out := make(map[uts.OrderIndex]uts.OrderStatus, len(indexes))
	for _, idx := range indexes {
		rec, ok := a.ledger.Order(idx)
		if !ok {
			return nil, &uts.OrderError{Account: a.id, Err: uts.ErrOrderRejectedByGateway}
		}
		out[idx] = rec.Status
	}
	return out, nil
}

// CancelOrder requests cancellation of the order at idx. An index the ledger
// has never seen is a usage error.
func (a *Account) CancelOrder(idx uts.OrderIndex) error {
	rec, ok := a.ledger.Order(idx)
	if !ok {
		return &uts.OrderError{Account: a.id, Err: uts.ErrUnknownOrderRef}
	}
	action := ctp.OrderAction{
		BrokerID:     a.broker.BrokerID,
		InvestorID:   a.info.AccountNumber,
		InstrumentID: rec.InstrumentID,
		Exchange:     rec.Exchange,
		FrontID:      rec.FrontID,
		SessionID:    rec.SessionID,
		OrderRef:     rec.OrderRef,
	}
	if err := a.gateway.ReqOrderAction(action, a.nextRequestID()); err != nil {
		return &uts.OrderError{Account: a.id, Reason: err.Error(), Err: err}
	}
	return nil
}

// CancelAllPendingOrders cancels every order still in the cancelable set.
func (a *Account) CancelAllPendingOrders() error {
	for _, idx := range a.ledger.CancelableOrders() {
		if err := a.CancelOrder(idx); err != nil {
			return err
		}
	}
	return nil
}

// productID strips the numeric month suffix off an instrument id.
func productID(instrumentID string) string {
	end := len(instrumentID)
	for end > 0 && instrumentID[end-1] >= '0' && instrumentID[end-1] <= '9' {
		end--
	}
	return instrumentID[:end]
}
