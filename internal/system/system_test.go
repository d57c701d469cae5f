package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

var (
	testBroker = uts.BrokerInfo{
		BrokerName:       "simnow",
		BrokerID:         "9999",
		TradeServerAddr:  []string{"tcp://127.0.0.1:10101"},
		MarketServerAddr: []string{"tcp://127.0.0.1:10111"},
	}
	testAccount = uts.AccountInfo{
		AccountName:   "sim",
		BrokerName:    "simnow",
		AccountNumber: "100001",
		Password:      "secret",
		Enable:        true,
	}
)

func testInstruments() map[string]uts.InstrumentInfo {
	return map[string]uts.InstrumentInfo{
		"rb2410": {Kind: uts.Future, IsTrading: true, InstrumentID: "rb2410", Exchange: uts.SHFE, ProductID: "rb", PriceTick: 1, VolumeMultiple: 10},
		"m2501":  {Kind: uts.Future, IsTrading: true, InstrumentID: "m2501", Exchange: uts.DCE, ProductID: "m", PriceTick: 1, VolumeMultiple: 10},
		"SR501":  {Kind: uts.Future, IsTrading: true, InstrumentID: "SR501", Exchange: uts.CZCE, ProductID: "SR", PriceTick: 1, VolumeMultiple: 10},
		"IF2412": {Kind: uts.Future, IsTrading: true, InstrumentID: "IF2412", Exchange: uts.CFFEX, ProductID: "IF", PriceTick: 0.2, VolumeMultiple: 300},
	}
}

func simConfig() ctp.SimConfig {
	return ctp.SimConfig{
		BrokerID:    "9999",
		Credentials: map[string]string{"100001": "secret"},
		Instruments: testInstruments(),
		Commissions: map[string]uts.CommissionRate{
			"rb2410": {InstrumentID: "rb2410", OpenRatioByVolume: 1},
		},
		Capital:    uts.CapitalInfo{Balance: 1_000_000, Available: 980_000},
		FillOrders: true,
	}
}

// newTestSystem wires a system to simulated gateways. The returned market
// gateway is shared by the feed so tests can push depth snapshots.
func newTestSystem(t *testing.T, cfg ctp.SimConfig) (*System, *ctp.SimMarketGateway) {
	t.Helper()
	md := ctp.NewSimMarketGateway()
	t.Cleanup(md.Release)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	sys := New(
		func(uts.BrokerInfo) ctp.TradeGateway {
			gw := ctp.NewSimTradeGateway(cfg)
			t.Cleanup(gw.Release)
			return gw
		},
		func([]string) ctp.MarketGateway { return md },
		bus, zerolog.Nop(),
	)
	sys.SetLoginStagger(10 * time.Millisecond)
	sys.AddBroker(testBroker)
	sys.AddMarketDataSource(testBroker.MarketServerAddr)
	return sys, md
}

// readySystem logs the test account in, caches instruments, subscribes the
// tickers and feeds them one depth snapshot each.
func readySystem(t *testing.T, cfg ctp.SimConfig, tickers ...string) (*System, *ctp.SimMarketGateway) {
	t.Helper()
	sys, md := newTestSystem(t, cfg)
	if err := sys.AddAccount(testAccount); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	ctx := context.Background()
	sys.LogOn(ctx)
	if !sys.Feed().IsLoggedIn() {
		t.Fatal("feed not logged in after LogOn")
	}
	if err := sys.QueryInstruments(ctx); err != nil {
		t.Fatalf("QueryInstruments: %v", err)
	}
	if len(tickers) > 0 {
		if err := sys.SubscribeInstruments(ctx, tickers); err != nil {
			t.Fatalf("SubscribeInstruments: %v", err)
		}
		for _, ticker := range tickers {
			md.Push(depthFor(ticker))
		}
		waitFor(t, func() bool {
			_, ok := sys.Feed().Snapshot(tickers[len(tickers)-1])
			return ok
		})
	}
	return sys, md
}

func depthFor(instrumentID string) ctp.DepthField {
	return ctp.DepthField{
		InstrumentID:    instrumentID,
		ActionDay:       "20260831",
		UpdateTime:      "10:30:00",
		LastPrice:       4000,
		UpperLimitPrice: 4400,
		LowerLimitPrice: 3600,
		Volume:          100,
		Turnover:        4_000_000,
		BidPrice:        [5]float64{3999, 3998, 3997, 3996, 3995},
		BidVolume:       [5]int{10, 10, 10, 10, 10},
		AskPrice:        [5]float64{4001, 4002, 4003, 4004, 4005},
		AskVolume:       [5]int{10, 10, 10, 10, 10},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestAddAccountUnknownBrokerFailsFast(t *testing.T) {
	sys, _ := newTestSystem(t, simConfig())
	info := testAccount
	info.BrokerName = "nobody"

	err := sys.AddAccount(info)
	if !errors.Is(err, uts.ErrMissingBrokerInfo) {
		t.Fatalf("err = %v, want ErrMissingBrokerInfo", err)
	}
	if !sys.Empty() {
		t.Fatal("account registered despite missing broker")
	}
}

func TestAddAccountSkipsDisabled(t *testing.T) {
	sys, _ := newTestSystem(t, simConfig())
	info := testAccount
	info.Enable = false

	if err := sys.AddAccount(info); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if sys.Size() != 0 {
		t.Fatalf("Size = %d, want 0", sys.Size())
	}
}

func TestLogOnBringsAccountsAndFeedUp(t *testing.T) {
	sys, _ := readySystem(t, simConfig())
	if _, err := sys.GetCapital(testAccount.Key()); err != nil {
		t.Fatalf("GetCapital after LogOn: %v", err)
	}
}

func TestLogOnSurvivesOneBadAccount(t *testing.T) {
	cfg := simConfig()
	cfg.Credentials["100002"] = "other"
	sys, _ := newTestSystem(t, cfg)
	bad := testAccount
	bad.AccountName = "bad"
	bad.AccountNumber = "100002"
	bad.Password = "wrong"
	if err := sys.AddAccounts([]uts.AccountInfo{testAccount, bad}); err != nil {
		t.Fatalf("AddAccounts: %v", err)
	}

	sys.LogOn(context.Background())

	if _, err := sys.GetCapital(testAccount.Key()); err != nil {
		t.Fatalf("good account not logged in: %v", err)
	}
	var notLoggedIn *uts.NotLoggedInError
	if _, err := sys.GetCapital(bad.Key()); !errors.As(err, &notLoggedIn) {
		t.Fatalf("err = %v, want NotLoggedInError", err)
	}
}

func TestLogOnAccount(t *testing.T) {
	sys, _ := newTestSystem(t, simConfig())
	if err := sys.AddAccount(testAccount); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if got := sys.AvailableAccounts(); len(got) != 1 || got[0] != testAccount.Key() {
		t.Fatalf("AvailableAccounts = %v, want [%v]", got, testAccount.Key())
	}

	var notRegistered *uts.NotRegisteredError
	err := sys.LogOnAccount(context.Background(), uts.AccountKey{AccountName: "ghost", BrokerName: "simnow"})
	if !errors.As(err, &notRegistered) {
		t.Fatalf("err = %v, want NotRegisteredError", err)
	}

	if err := sys.LogOnAccount(context.Background(), testAccount.Key()); err != nil {
		t.Fatalf("LogOnAccount: %v", err)
	}
	if _, err := sys.GetCapital(testAccount.Key()); err != nil {
		t.Fatalf("GetCapital after LogOnAccount: %v", err)
	}
}

func TestCheckAccountErrors(t *testing.T) {
	sys, _ := newTestSystem(t, simConfig())
	if err := sys.AddAccount(testAccount); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	var notRegistered *uts.NotRegisteredError
	_, err := sys.GetAccountHolding(uts.AccountKey{AccountName: "ghost", BrokerName: "simnow"})
	if !errors.As(err, &notRegistered) {
		t.Fatalf("err = %v, want NotRegisteredError", err)
	}

	var notLoggedIn *uts.NotLoggedInError
	if _, err := sys.GetAccountHolding(testAccount.Key()); !errors.As(err, &notLoggedIn) {
		t.Fatalf("err = %v, want NotLoggedInError", err)
	}
}

func TestListProductsExpandsByPrefix(t *testing.T) {
	sys, _ := readySystem(t, simConfig())

	got := sys.ListProducts([]string{"rb"})
	if len(got) != 1 || got[0] != "rb2410" {
		t.Fatalf("ListProducts(rb) = %v, want [rb2410]", got)
	}
	if got := sys.ListProducts([]string{"au"}); len(got) != 0 {
		t.Fatalf("ListProducts(au) = %v, want empty", got)
	}
}

func TestSubscribeProducts(t *testing.T) {
	sys, _ := readySystem(t, simConfig())

	if err := sys.SubscribeProducts(context.Background(), []string{"rb", "IF"}); err != nil {
		t.Fatalf("SubscribeProducts: %v", err)
	}
	if got := len(sys.Feed().SubscribedTickers()); got != 2 {
		t.Fatalf("subscribed %d tickers, want 2", got)
	}
}

func TestPlaceAdvancedOrderSyncOpensPosition(t *testing.T) {
	sys, _ := readySystem(t, simConfig(), "rb2410")

	order := uts.Order{
		AccountName: testAccount.AccountName, BrokerName: testAccount.BrokerName,
		InstrumentID: "rb2410", Direction: uts.Long, Volume: 2,
		OpenClose: uts.Auto, PriceType: uts.BestPrice,
	}
	indexes, err := sys.PlaceAdvancedOrderSync(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceAdvancedOrderSync: %v", err)
	}
	if len(indexes) != 1 {
		t.Fatalf("placed %d legs, want 1", len(indexes))
	}

	key := testAccount.Key()
	waitFor(t, func() bool {
		holdings, err := sys.GetAccountHolding(key)
		if err != nil {
			return false
		}
		rec := holdings[uts.InstrumentIndex{InstrumentID: "rb2410", Direction: uts.Long}]
		return rec.TodayQuantity == 2 && rec.TotalQuantity == 2
	})
}

func TestPlaceAdvancedOrderAsyncFiresAllLegs(t *testing.T) {
	sys, _ := readySystem(t, simConfig(), "rb2410")

	order := uts.Order{
		AccountName: testAccount.AccountName, BrokerName: testAccount.BrokerName,
		InstrumentID: "rb2410", Direction: uts.Long, Volume: 3,
		OpenClose: uts.Auto, PriceType: uts.LastPrice,
	}
	indexes, err := sys.PlaceAdvancedOrderAsync(order)
	if err != nil {
		t.Fatalf("PlaceAdvancedOrderAsync: %v", err)
	}
	if len(indexes) != 1 {
		t.Fatalf("placed %d legs, want 1", len(indexes))
	}

	key := testAccount.Key()
	waitFor(t, func() bool {
		holdings, err := sys.GetAccountHolding(key)
		if err != nil {
			return false
		}
		rec := holdings[uts.InstrumentIndex{InstrumentID: "rb2410", Direction: uts.Long}]
		return rec.TotalQuantity == 3
	})
}

func TestClearAllHoldingsRejectsLimitPrice(t *testing.T) {
	sys, _ := readySystem(t, simConfig(), "rb2410")

	err := sys.ClearAllHoldings(context.Background(), testAccount.Key(), uts.GFD, uts.LimitPrice)
	var orderErr *uts.OrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("err = %v, want OrderError", err)
	}
}

func TestClearAllHoldingsFlattensEveryBucket(t *testing.T) {
	cfg := simConfig()
	cfg.Positions = []ctp.PositionField{
		{Exchange: uts.SHFE, InstrumentID: "rb2410", Direction: uts.Long, Position: 3, YdPosition: 3},
	}
	sys, _ := readySystem(t, cfg, "rb2410")
	key := testAccount.Key()

	// Add a today leg on top of the carried-over one.
	open := uts.Order{
		AccountName: key.AccountName, BrokerName: key.BrokerName,
		InstrumentID: "rb2410", Direction: uts.Long, Volume: 2,
		OpenClose: uts.Open, PriceType: uts.BestPrice,
	}
	if _, err := sys.PlaceOrderSync(context.Background(), mustPlan(t, sys, open)[0]); err != nil {
		t.Fatalf("open leg: %v", err)
	}
	waitFor(t, func() bool {
		holdings, _ := sys.GetAccountHolding(key)
		rec := holdings[uts.InstrumentIndex{InstrumentID: "rb2410", Direction: uts.Long}]
		return rec.TotalQuantity == 5
	})

	if err := sys.ClearAllHoldings(context.Background(), key, uts.GFD, uts.BestPrice); err != nil {
		t.Fatalf("ClearAllHoldings: %v", err)
	}
	waitFor(t, func() bool {
		holdings, _ := sys.GetAccountHolding(key)
		rec := holdings[uts.InstrumentIndex{InstrumentID: "rb2410", Direction: uts.Long}]
		return rec.TotalQuantity == 0 && rec.TodayQuantity == 0 && rec.PreQuantity == 0
	})
}

func TestCancelAccountPendingOrders(t *testing.T) {
	cfg := simConfig()
	cfg.FillOrders = false
	sys, _ := readySystem(t, cfg, "rb2410")
	key := testAccount.Key()

	order := uts.Order{
		AccountName: key.AccountName, BrokerName: key.BrokerName,
		InstrumentID: "rb2410", Exchange: uts.SHFE, Direction: uts.Long, Volume: 1,
		OpenClose: uts.Open, PriceType: uts.LimitPrice, LimitPrice: 3999,
	}
	idx, err := sys.PlaceOrderSync(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrderSync: %v", err)
	}
	unfinished, err := sys.GetAccountUnfinishedOrders(key)
	if err != nil {
		t.Fatalf("GetAccountUnfinishedOrders: %v", err)
	}
	if len(unfinished) != 1 || unfinished[0].Index() != idx {
		t.Fatalf("unfinished = %v, want the resting order", unfinished)
	}
	if err := sys.CancelAccountPendingOrders(key); err != nil {
		t.Fatalf("CancelAccountPendingOrders: %v", err)
	}
	waitFor(t, func() bool {
		orders, err := sys.GetAccountOrders(key)
		if err != nil {
			return false
		}
		for _, rec := range orders {
			if rec.Index() == idx {
				return rec.Status == uts.Canceled
			}
		}
		return false
	})
}

func TestQueryCommissionRatesFansOut(t *testing.T) {
	sys, _ := readySystem(t, simConfig())
	sys.QueryCommissionRates(context.Background())

	snap := sys.Snapshot()
	if len(snap.AccountInfo) != 1 {
		t.Fatalf("snapshot has %d accounts, want 1", len(snap.AccountInfo))
	}
	if _, ok := snap.AccountInfo[0].CommissionRates["rb2410"]; !ok {
		t.Fatalf("commission for rb2410 missing: %v", snap.AccountInfo[0].CommissionRates)
	}
}

func mustPlan(t *testing.T, sys *System, order uts.Order) []uts.Order {
	t.Helper()
	legs, err := sys.ProcessAdvancedOrder(order)
	if err != nil {
		t.Fatalf("ProcessAdvancedOrder: %v", err)
	}
	return legs
}
