// Package ctp defines the boundary to the CTP-style exchange gateway: request
// field structs, the asynchronous request interfaces, the push-callback sink
// interfaces, and wire-code lookup tables. The core never polls this boundary;
// it issues a request and waits for the paired callback.
package ctp

import "github.com/jicewarwick/OpenUTS/pkg/uts"

// Result carries the gateway's response code for one request. Code 0 is success.
type Result struct {
	Code    int
	Message string
}

// OK reports whether the response signals success.
func (r Result) OK() bool { return r.Code == 0 }

// TradeSink receives push callbacks from a trade gateway connection. One sink
// is registered per connection; callbacks for a given request line arrive in
// request order.
type TradeSink interface {
	// OnFrontConnected fires when the transport to a trade front is up.
	OnFrontConnected()
	OnRspAuthenticate(result Result)
	OnRspUserLogin(rsp LoginResponse, result Result)
	OnRspSettlementConfirm(result Result)
	OnRspUserLogout(result Result)
	OnRspPasswordUpdate(result Result)

	// Multi-record query responses deliver one record per call; last marks the
	// final record of the response. A nil record with last set closes an empty
	// response.
	OnRspQryInstrument(info *uts.InstrumentInfo, result Result, last bool)
	OnRspQryCommissionRate(rate *uts.CommissionRate, result Result, last bool)
	OnRspQryPosition(pos *PositionField, result Result, last bool)
	OnRspQryTradingAccount(capital uts.CapitalInfo, result Result)

	// OnRspOrderInsert fires only on gateway-level rejection; accepted orders
	// are reported through OnRtnOrder pushes.
	OnRspOrderInsert(order OrderInsert, result Result)
	OnRtnOrder(field OrderField)
	OnRtnTrade(field TradeField)
}

// TradeGateway is the opaque async request surface of one trade connection.
// Every Req* call either returns a transport error immediately or eventually
// triggers the paired TradeSink callback.
type TradeGateway interface {
	// Register must be called before Connect.
	Register(sink TradeSink)
	// Connect dials the given fronts and fires OnFrontConnected when up.
	Connect(addrs []string) error

	ReqAuthenticate(req AuthenticateRequest, requestID int) error
	ReqUserLogin(req LoginRequest, requestID int) error
	ReqSettlementConfirm(req SettlementConfirmRequest, requestID int) error
	ReqUserLogout(req LogoutRequest, requestID int) error
	ReqPasswordUpdate(req PasswordUpdateRequest, requestID int) error

	ReqQryInstrument(requestID int) error
	ReqQryCommissionRate(instrumentID string, kind uts.InstrumentKind, requestID int) error
	ReqQryPosition(requestID int) error
	ReqQryTradingAccount(requestID int) error

	ReqOrderInsert(order OrderInsert, requestID int) error
	ReqOrderAction(action OrderAction, requestID int) error

	// Release tears the connection down; safe to call twice.
	Release()
}

// MarketSink receives push callbacks from a market-data connection.
type MarketSink interface {
	OnFrontConnected()
	OnRspUserLogin(result Result)
	OnRspUserLogout(result Result)
	OnRspSubMarketData(instrumentID string, result Result, last bool)
	OnRspUnSubMarketData(instrumentID string, result Result, last bool)
	// OnRtnDepthMarketData delivers unsolicited per-instrument snapshots.
	OnRtnDepthMarketData(field DepthField)
}

// MarketGateway is the opaque async request surface of one market-data
// connection.
type MarketGateway interface {
	Register(sink MarketSink)
	Connect(addrs []string) error

	ReqUserLogin(requestID int) error
	ReqUserLogout(requestID int) error

	Subscribe(instrumentIDs []string) error
	Unsubscribe(instrumentIDs []string) error

	Release()
}
