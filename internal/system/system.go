// Package system runs the trading system orchestrator: the registered
// accounts, the shared market-data feed, parallel login and query fan-out,
// advanced-order planning and batch liquidation.
package system

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/account"
	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/internal/market"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

const defaultLoginStagger = 2 * time.Second

// TradeGatewayFactory builds one trade connection for a broker.
type TradeGatewayFactory func(broker uts.BrokerInfo) ctp.TradeGateway

// MarketGatewayFactory builds one market-data connection.
type MarketGatewayFactory func(addrs []string) ctp.MarketGateway

// System owns a set of trading accounts sharing one market-data feed.
type System struct {
	log zerolog.Logger
	bus *events.Bus

	tradeFactory  TradeGatewayFactory
	marketFactory MarketGatewayFactory
	loginStagger  time.Duration

	mu       sync.RWMutex
	brokers  map[string]uts.BrokerInfo
	accounts map[uts.AccountKey]*account.Account
	feed     *market.Feed

	instrumentMu sync.RWMutex
	instruments  map[string]uts.InstrumentInfo // keyed by upper-cased instrument id

	// noCloseToday lists instruments whose venue does not distinguish
	// close-today from close-yesterday.
	noCloseToday map[string]struct{}
}

// New builds an empty system. Gateways are created through the supplied
// factories when brokers and feeds are added.
func New(tradeFactory TradeGatewayFactory, marketFactory MarketGatewayFactory, bus *events.Bus, log zerolog.Logger) *System {
	return &System{
		log:           log.With().Str("component", "system").Logger(),
		bus:           bus,
		tradeFactory:  tradeFactory,
		marketFactory: marketFactory,
		loginStagger:  defaultLoginStagger,
		brokers:       make(map[string]uts.BrokerInfo),
		accounts:      make(map[uts.AccountKey]*account.Account),
		instruments:   make(map[string]uts.InstrumentInfo),
		noCloseToday:  make(map[string]struct{}),
	}
}

// SetLoginStagger overrides the delay between account login launches.
func (s *System) SetLoginStagger(d time.Duration) { s.loginStagger = d }

// SetNoCloseTodayInstruments installs the denylist of instruments lacking a
// today/yesterday close distinction.
func (s *System) SetNoCloseTodayInstruments(instrumentIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noCloseToday = make(map[string]struct{}, len(instrumentIDs))
	for _, id := range instrumentIDs {
		s.noCloseToday[strings.ToUpper(id)] = struct{}{}
	}
}

func (s *System) lacksCloseToday(instrumentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.noCloseToday[strings.ToUpper(instrumentID)]
	return ok
}

// Empty reports whether any account is registered.
func (s *System) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts) == 0
}

// Size returns the number of registered accounts.
func (s *System) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// AvailableAccounts lists the registered account keys.
func (s *System) AvailableAccounts() []uts.AccountKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uts.AccountKey, 0, len(s.accounts))
	for key := range s.accounts {
		out = append(out, key)
	}
	return out
}

// AccountStatuses reports the connection state of every registered account.
func (s *System) AccountStatuses() map[uts.AccountKey]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uts.AccountKey]string, len(s.accounts))
	for key, a := range s.accounts {
		out[key] = a.Status().String()
	}
	return out
}

// AddBroker registers one broker endpoint.
func (s *System) AddBroker(info uts.BrokerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[info.BrokerName] = info
}

// AddBrokers registers several broker endpoints.
func (s *System) AddBrokers(infos []uts.BrokerInfo) {
	for _, info := range infos {
		s.AddBroker(info)
	}
}

// AddMarketDataSource creates the shared market-data feed.
func (s *System) AddMarketDataSource(addrs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = market.NewFeed(s.marketFactory(addrs), addrs, s.bus, s.log)
}

// Feed returns the shared market-data feed, nil before AddMarketDataSource.
func (s *System) Feed() *market.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feed
}

// AddAccount registers one account. Disabled accounts are skipped; an account
// referencing an unregistered broker fails fast.
func (s *System) AddAccount(info uts.AccountInfo) error {
	if !info.Enable {
		s.log.Debug().Stringer("account", info.Key()).Msg("account disabled, skipping")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	broker, ok := s.brokers[info.BrokerName]
	if !ok {
		return &uts.ConfigError{Subject: info.Key().String(), Err: uts.ErrMissingBrokerInfo}
	}
	acct := account.New(info, broker, s.tradeFactory(broker), s.log)
	acct.SetBus(s.bus)
	s.accounts[info.Key()] = acct
	s.log.Info().Stringer("account", info.Key()).Msg("account added")
	return nil
}

// AddAccounts registers several accounts. The first configuration error stops
// registration.
func (s *System) AddAccounts(infos []uts.AccountInfo) error {
	for _, info := range infos {
		if err := s.AddAccount(info); err != nil {
			return err
		}
	}
	return nil
}

// LogOn launches one login task per account, staggered to avoid a burst, then
// logs in the shared feed. Per-account failures are logged and never abort
// sibling logins.
func (s *System) LogOn(ctx context.Context) {
	s.mu.RLock()
	accounts := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	feed := s.feed
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for i, a := range accounts {
		if i > 0 {
			select {
			case <-time.After(s.loginStagger):
			case <-ctx.Done():
				return
			}
		}
		wg.Add(1)
		go func(a *account.Account) {
			defer wg.Done()
			if a.IsLoggedIn() {
				return
			}
			if err := a.LogOnSync(ctx); err != nil {
				s.log.Error().Stringer("account", a.Key()).Err(err).Msg("login failed")
			}
		}(a)
	}
	wg.Wait()

	if feed != nil {
		if err := feed.LogIn(ctx); err != nil {
			s.log.Error().Err(err).Msg("market data login failed")
		}
	}
}

// LogOnAccount logs one registered account in.
func (s *System) LogOnAccount(ctx context.Context, key uts.AccountKey) error {
	s.mu.RLock()
	a, ok := s.accounts[key]
	s.mu.RUnlock()
	if !ok {
		return &uts.NotRegisteredError{Account: key}
	}
	return a.LogOnSync(ctx)
}

// LogOff logs the feed and every account out.
func (s *System) LogOff(ctx context.Context) {
	s.mu.Lock()
	feed := s.feed
	accounts := s.accounts
	s.accounts = make(map[uts.AccountKey]*account.Account)
	s.mu.Unlock()

	if feed != nil {
		feed.LogOut(ctx)
	}
	for _, a := range accounts {
		a.LogOffSync(ctx)
	}
}

// checkAccount resolves the key to a logged-in account.
func (s *System) checkAccount(key uts.AccountKey) (*account.Account, error) {
	s.mu.RLock()
	a, ok := s.accounts[key]
	s.mu.RUnlock()
	if !ok {
		return nil, &uts.NotRegisteredError{Account: key}
	}
	if !a.IsLoggedIn() {
		return nil, &uts.NotLoggedInError{Account: key}
	}
	return a, nil
}

// QueryInstruments fetches market reference data through the first logged-in
// account and caches it system-wide.
func (s *System) QueryInstruments(ctx context.Context) error {
	s.mu.RLock()
	var chosen *account.Account
	for _, a := range s.accounts {
		if a.IsLoggedIn() {
			chosen = a
			break
		}
	}
	s.mu.RUnlock()
	if chosen == nil {
		return &uts.ConfigError{Subject: "system", Err: uts.ErrMalformedConfig}
	}
	infos, err := chosen.QueryInstruments(ctx)
	if err != nil {
		return err
	}
	s.instrumentMu.Lock()
	s.instruments = infos
	s.instrumentMu.Unlock()
	return nil
}

// Instruments returns the cached reference data.
func (s *System) Instruments() map[string]uts.InstrumentInfo {
	s.instrumentMu.RLock()
	defer s.instrumentMu.RUnlock()
	out := make(map[string]uts.InstrumentInfo, len(s.instruments))
	for k, v := range s.instruments {
		out[k] = v
	}
	return out
}

// QueryCommissionRates fans commission queries out across every logged-in
// account and joins before returning.
func (s *System) QueryCommissionRates(ctx context.Context) {
	s.mu.RLock()
	accounts := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.IsLoggedIn() {
			accounts = append(accounts, a)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, a := range accounts {
		wg.Add(1)
		go func(a *account.Account) {
			defer wg.Done()
			if _, err := a.QueryAllCommissionRates(ctx); err != nil {
				s.log.Warn().Stringer("account", a.Key()).Err(err).Msg("commission query failed")
			}
		}(a)
	}
	wg.Wait()
}

// SubscribeInstruments subscribes the feed to every known instrument, or to
// the given tickers when the list is not empty.
func (s *System) SubscribeInstruments(ctx context.Context, tickers []string) error {
	feed := s.Feed()
	if feed == nil {
		return &uts.ConfigError{Subject: "market data", Err: uts.ErrMalformedConfig}
	}
	if len(tickers) == 0 {
		for _, info := range s.Instruments() {
			tickers = append(tickers, info.InstrumentID)
		}
	}
	return feed.Subscribe(ctx, tickers)
}

// ListProducts expands product ids into the tickers of the known instruments
// belonging to them.
func (s *System) ListProducts(productIDs []string) []string {
	upper := make([]string, len(productIDs))
	for i, id := range productIDs {
		upper[i] = strings.ToUpper(id)
	}
	var tickers []string
	s.instrumentMu.RLock()
	defer s.instrumentMu.RUnlock()
	for key, info := range s.instruments {
		for _, id := range upper {
			if strings.HasPrefix(key, id) {
				tickers = append(tickers, info.InstrumentID)
				break
			}
		}
	}
	return tickers
}

// SubscribeProducts subscribes the feed to every instrument of the products.
func (s *System) SubscribeProducts(ctx context.Context, productIDs []string) error {
	return s.SubscribeInstruments(ctx, s.ListProducts(productIDs))
}

// GetHolding aggregates position buckets across accounts in the Done state.
func (s *System) GetHolding() map[uts.AccountKey]map[uts.InstrumentIndex]uts.HoldingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uts.AccountKey]map[uts.InstrumentIndex]uts.HoldingRecord)
	for key, a := range s.accounts {
		if a.IsLoggedIn() {
			out[key] = a.Holdings()
		}
	}
	return out
}

// GetAccountHolding returns one account's position buckets.
func (s *System) GetAccountHolding(key uts.AccountKey) (map[uts.InstrumentIndex]uts.HoldingRecord, error) {
	a, err := s.checkAccount(key)
	if err != nil {
		return nil, err
	}
	return a.Holdings(), nil
}

// GetTrades aggregates fill logs across accounts in the Done state.
func (s *System) GetTrades() map[uts.AccountKey][]uts.TradingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uts.AccountKey][]uts.TradingRecord)
	for key, a := range s.accounts {
		if a.IsLoggedIn() {
			out[key] = a.Trades()
		}
	}
	return out
}

// GetAccountTrades returns one account's fill log.
func (s *System) GetAccountTrades(key uts.AccountKey) ([]uts.TradingRecord, error) {
	a, err := s.checkAccount(key)
	if err != nil {
		return nil, err
	}
	return a.Trades(), nil
}

// GetOrders aggregates order logs across accounts in the Done state.
func (s *System) GetOrders() map[uts.AccountKey][]uts.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uts.AccountKey][]uts.OrderRecord)
	for key, a := range s.accounts {
		if a.IsLoggedIn() {
			out[key] = orderValues(a.Orders())
		}
	}
	return out
}

// GetAccountOrders returns one account's order log.
func (s *System) GetAccountOrders(key uts.AccountKey) ([]uts.OrderRecord, error) {
	a, err := s.checkAccount(key)
	if err != nil {
		return nil, err
	}
	return orderValues(a.Orders()), nil
}

// GetAccountUnfinishedOrders returns one account's still-working orders.
func (s *System) GetAccountUnfinishedOrders(key uts.AccountKey) ([]uts.OrderRecord, error) {
	a, err := s.checkAccount(key)
	if err != nil {
		return nil, err
	}
	return a.UnfinishedOrders(), nil
}

// GetCapital returns one account's equity snapshot.
func (s *System) GetCapital(key uts.AccountKey) (uts.CapitalInfo, error) {
	a, err := s.checkAccount(key)
	if err != nil {
		return uts.CapitalInfo{}, err
	}
	return a.Capital(), nil
}

func orderValues(m map[uts.OrderIndex]uts.OrderRecord) []uts.OrderRecord {
	out := make([]uts.OrderRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out
}

// PlaceOrderAsync routes one concrete order without waiting for a verdict.
func (s *System) PlaceOrderAsync(order uts.Order) (uts.OrderIndex, error) {
	a, err := s.checkAccount(order.Account())
	if err != nil {
		return uts.OrderIndex{}, err
	}
	return a.PlaceOrderAsync(order)
}

// PlaceOrderSync routes one concrete order and waits for its first verdict.
func (s *System) PlaceOrderSync(ctx context.Context, order uts.Order) (uts.OrderIndex, error) {
	a, err := s.checkAccount(order.Account())
	if err != nil {
		return uts.OrderIndex{}, err
	}
	return a.PlaceOrderSync(ctx, order)
}

// PlaceAdvancedOrderSync plans the order and places each leg synchronously.
func (s *System) PlaceAdvancedOrderSync(ctx context.Context, order uts.Order) ([]uts.OrderIndex, error) {
	legs, err := s.ProcessAdvancedOrder(order)
	if err != nil {
		return nil, err
	}
	indexes := make([]uts.OrderIndex, 0, len(legs))
	for _, leg := range legs {
		idx, err := s.PlaceOrderSync(ctx, leg)
		if err != nil {
			return indexes, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// PlaceAdvancedOrderAsync plans the order and fires each leg without waiting.
func (s *System) PlaceAdvancedOrderAsync(order uts.Order) ([]uts.OrderIndex, error) {
	legs, err := s.ProcessAdvancedOrder(order)
	if err != nil {
		return nil, err
	}
	indexes := make([]uts.OrderIndex, 0, len(legs))
	for _, leg := range legs {
		idx, err := s.PlaceOrderAsync(leg)
		if err != nil {
			return indexes, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// CancelOrder cancels one order on one account.
func (s *System) CancelOrder(key uts.AccountKey, idx uts.OrderIndex) error {
	a, err := s.checkAccount(key)
	if err != nil {
		return err
	}
	return a.CancelOrder(idx)
}

// CancelAccountPendingOrders cancels every cancelable order of one account.
func (s *System) CancelAccountPendingOrders(key uts.AccountKey) error {
	a, err := s.checkAccount(key)
	if err != nil {
		return err
	}
	return a.CancelAllPendingOrders()
}

// CancelAllPendingOrders cancels every cancelable order on every account.
func (s *System) CancelAllPendingOrders() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, a := range s.accounts {
		if !a.IsLoggedIn() {
			continue
		}
		if err := a.CancelAllPendingOrders(); err != nil {
			s.log.Warn().Stringer("account", key).Err(err).Msg("mass cancel failed")
		}
	}
}

// ClearAllHoldings liquidates every position bucket of one account. Batch
// liquidation must use a relative price type; a single fixed limit price is
// rejected up front.
func (s *System) ClearAllHoldings(ctx context.Context, key uts.AccountKey, tif uts.TimeInForce, priceType uts.PriceType) error {
	a, err := s.checkAccount(key)
	if err != nil {
		return err
	}
	if priceType == uts.LimitPrice {
		return uts.NewOrderError(key.String(), "batch liquidation cannot use a single limit price")
	}
	s.log.Info().Stringer("account", key).Msg("clearing all positions")
	for _, rec := range a.Holdings() {
		for _, order := range reversePosition(rec) {
			order.AccountName = key.AccountName
			order.BrokerName = key.BrokerName
			order.TimeInForce = tif
			order.PriceType = priceType
			if _, err := s.PlaceAdvancedOrderSync(ctx, order); err != nil {
				return err
			}
		}
	}
	s.log.Info().Stringer("account", key).Msg("all positions cleared")
	return nil
}

// reversePosition builds the closing orders that flatten one bucket.
func reversePosition(rec uts.HoldingRecord) []uts.Order {
	base := uts.Order{
		InstrumentID: rec.InstrumentID,
		Exchange:     rec.Exchange,
		HedgeFlag:    rec.HedgeFlag,
		Direction:    rec.Direction.Reverse(),
	}
	var out []uts.Order
	if rec.PreQuantity != 0 {
		order := base
		order.OpenClose = uts.CloseYesterday
		order.Volume = rec.PreQuantity
		out = append(out, order)
	}
	if rec.TodayQuantity != 0 {
		order := base
		order.OpenClose = uts.CloseToday
		order.Volume = rec.TodayQuantity
		out = append(out, order)
	}
	return out
}
