package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/internal/system"
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

// newTestServer boots a sim-backed system with one logged-in account and a
// subscribed instrument, wrapped by the HTTP server.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := ctp.SimConfig{
		BrokerID:    "9999",
		Credentials: map[string]string{"100001": "secret"},
		Instruments: map[string]uts.InstrumentInfo{
			"rb2410": {
				Kind: uts.Future, IsTrading: true, InstrumentID: "rb2410",
				Exchange: uts.SHFE, ProductID: "rb", PriceTick: 1, VolumeMultiple: 10,
			},
		},
		Capital:    uts.CapitalInfo{Balance: 1_000_000, Available: 980_000},
		FillOrders: true,
	}
	md := ctp.NewSimMarketGateway()
	t.Cleanup(md.Release)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	sys := system.New(
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
	if err := sys.AddAccount(testAccount); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	ctx := context.Background()
	sys.LogOn(ctx)
	if err := sys.QueryInstruments(ctx); err != nil {
		t.Fatalf("QueryInstruments: %v", err)
	}
	if err := sys.SubscribeInstruments(ctx, []string{"rb2410"}); err != nil {
		t.Fatalf("SubscribeInstruments: %v", err)
	}
	md.Push(ctp.DepthField{
		InstrumentID:    "rb2410",
		ActionDay:       "20260831",
		UpdateTime:      "10:30:00",
		LastPrice:       4000,
		UpperLimitPrice: 4400,
		LowerLimitPrice: 3600,
		BidPrice:        [5]float64{3999},
		BidVolume:       [5]int{10},
		AskPrice:        [5]float64{4001},
		AskVolume:       [5]int{10},
	})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sys.Feed().Snapshot("rb2410"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return NewServer(bus, sys, Credentials{User: "admin", Password: "hunter2"},
		SystemMeta{DryRun: true, Version: "test"}, "test-secret", zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", payload{"user": "admin", "password": "hunter2"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

type payload = map[string]any

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", payload{"user": "admin", "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/holdings", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/holdings", "garbage-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad token", w.Code)
	}
}

func TestSystemStatusIsPublic(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/system/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		DryRun   bool `json:"dry_run"`
		Accounts int  `json:"accounts"`
		FeedUp   bool `json:"feed_up"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.DryRun || resp.Accounts != 1 || !resp.FeedUp {
		t.Fatalf("unexpected status payload: %s", w.Body.String())
	}
}

func TestGetCapitalRequiresAccountParam(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)
	w := doJSON(t, s, http.MethodGet, "/api/capital", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetCapital(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)
	w := doJSON(t, s, http.MethodGet, "/api/capital?account=sim&broker=simnow", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestGetCapitalUnknownAccount(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)
	w := doJSON(t, s, http.MethodGet, "/api/capital?account=ghost&broker=simnow", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestMarketSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/market/rb2410", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var depth uts.MarketDepth
	if err := json.Unmarshal(w.Body.Bytes(), &depth); err != nil {
		t.Fatal(err)
	}
	if depth.OHLC.Last != 4000 {
		t.Fatalf("last = %v, want 4000", depth.OHLC.Last)
	}

	w = doJSON(t, s, http.MethodGet, "/api/market/unknown", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestPlaceOrderEndToEnd(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	order := payload{
		"account_name":     "sim",
		"broker_name":      "simnow",
		"instrument_id":    "rb2410",
		"direction":        int(uts.Long),
		"volume":           2,
		"order_price_type": int(uts.BestPrice),
	}
	w := doJSON(t, s, http.MethodPost, "/api/orders", token, order)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		OrderIndexes []uts.OrderIndex `json:"order_indexes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.OrderIndexes) != 1 {
		t.Fatalf("placed %d legs, want 1", len(resp.OrderIndexes))
	}

	// The fill lands asynchronously; poll the holdings endpoint.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(t, s, http.MethodGet, "/api/holdings?account=sim&broker=simnow", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("holdings status = %d", w.Code)
		}
		var resp accountHoldings
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Holdings) == 1 && resp.Holdings[0].TodayQuantity == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("position never reflected the fill")
}

func TestPlaceOrderValidationError(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	order := payload{
		"account_name":     "sim",
		"broker_name":      "simnow",
		"instrument_id":    "xx9999",
		"direction":        int(uts.Long),
		"volume":           1,
		"order_price_type": int(uts.BestPrice),
	}
	w := doJSON(t, s, http.MethodPost, "/api/orders", token, order)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestDumpSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	path := t.TempDir() + "/dump.json"
	w := doJSON(t, s, http.MethodPost, "/api/snapshot/dump", token, payload{"path": path})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var snap system.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("dump is not valid JSON: %v", err)
	}
	if len(snap.AccountInfo) != 1 {
		t.Fatalf("dumped %d accounts, want 1", len(snap.AccountInfo))
	}
	if _, ok := snap.MarketData["rb2410"]; !ok {
		t.Fatal("dump missing market data")
	}
}
