// Package uts defines the shared domain model of the unified trading system:
// account and order identifiers, enumerations, order/holding/trade records and
// normalized market depth. Gateway-wire representations live in pkg/ctp.
package uts

import "fmt"

// AccountKey uniquely identifies a registered account inside one system.
type AccountKey struct {
	AccountName string `json:"account_name"`
	BrokerName  string `json:"broker_name"`
}

func (k AccountKey) String() string {
	return k.AccountName + " - " + k.BrokerName
}

// OrderIndex is globally unique for the lifetime of a login session: the
// front/session pair is granted at login, the order ref is a session-scoped
// monotonically increasing sequence number assigned at submission.
type OrderIndex struct {
	FrontID   int   `json:"front_id"`
	SessionID int   `json:"session_id"`
	OrderRef  int64 `json:"order_ref"`
}

func (i OrderIndex) String() string {
	return fmt.Sprintf("%d:%d:%d", i.FrontID, i.SessionID, i.OrderRef)
}

// Direction is the side of a position or order.
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// Reverse returns the opposite side.
func (d Direction) Reverse() Direction { return -d }

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Sign returns +1 for Long and -1 for Short.
func (d Direction) Sign() int { return int(d) }

// OpenClose describes how an order affects a position. Negative values close.
type OpenClose int

const (
	Auto           OpenClose = 0
	Open           OpenClose = 1
	Close          OpenClose = -1
	CloseToday     OpenClose = -2
	CloseYesterday OpenClose = -3
)

// IsClosing reports whether the tag reduces a position.
func (oc OpenClose) IsClosing() bool { return oc < 0 }

// Sign returns +1 for opens, -1 for closes and 0 for Auto.
func (oc OpenClose) Sign() int {
	switch {
	case oc > 0:
		return 1
	case oc < 0:
		return -1
	default:
		return 0
	}
}

func (oc OpenClose) String() string {
	switch oc {
	case Auto:
		return "auto"
	case Open:
		return "open"
	case Close:
		return "close"
	case CloseToday:
		return "close_today"
	case CloseYesterday:
		return "close_yesterday"
	default:
		return fmt.Sprintf("open_close(%d)", int(oc))
	}
}

// HedgeFlag classifies the intent of a position; part of the position bucket key.
type HedgeFlag int

const (
	Speculation HedgeFlag = iota
	Arbitrage
	Hedge
)

func (h HedgeFlag) String() string {
	switch h {
	case Speculation:
		return "speculation"
	case Arbitrage:
		return "arbitrage"
	case Hedge:
		return "hedge"
	default:
		return fmt.Sprintf("hedge_flag(%d)", int(h))
	}
}

// Exchange identifies a trading venue, Wind-style abbreviations.
type Exchange string

const (
	SHFE  Exchange = "SHFE"  // Shanghai Futures Exchange
	DCE   Exchange = "DCE"   // Dalian Commodity Exchange
	CZCE  Exchange = "CZCE"  // Zhengzhou Commodity Exchange
	CFFEX Exchange = "CFFEX" // China Financial Futures Exchange
	INE   Exchange = "INE"   // Shanghai International Energy Exchange
)

// ClosesYesterdayFirst reports whether a generic close on this venue consumes
// carried-over (yesterday) volume before volume opened today. Dalian consumes
// today first; Zhengzhou and the financial futures exchange settle
// first-opened-first-closed. Unknown venues follow Dalian.
func (e Exchange) ClosesYesterdayFirst() bool {
	return e == CZCE || e == CFFEX
}

// TimeInForce is the caller-facing validity of an order.
type TimeInForce int

const (
	GFD TimeInForce = iota // good for day
	FAK                    // fill and kill
	FOK                    // fill all or kill
)

func (t TimeInForce) String() string {
	switch t {
	case GFD:
		return "GFD"
	case FAK:
		return "FAK"
	case FOK:
		return "FOK"
	default:
		return fmt.Sprintf("time_in_force(%d)", int(t))
	}
}

// PriceType describes how an order's price is determined. Relative types are
// resolved against the latest depth snapshot before submission.
type PriceType int

const (
	AnyPrice PriceType = iota
	LimitPrice
	BestPrice
	LastPrice
	BidPrice
	AskPrice
	FiveLevelPrice
)

func (p PriceType) String() string {
	switch p {
	case AnyPrice:
		return "any"
	case LimitPrice:
		return "limit"
	case BestPrice:
		return "best"
	case LastPrice:
		return "last"
	case BidPrice:
		return "bid"
	case AskPrice:
		return "ask"
	case FiveLevelPrice:
		return "five_level"
	default:
		return fmt.Sprintf("price_type(%d)", int(p))
	}
}

// Relative reports whether the price must be resolved from market depth.
func (p PriceType) Relative() bool {
	switch p {
	case BestPrice, LastPrice, BidPrice, AskPrice:
		return true
	default:
		return false
	}
}

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	NoTradeQueueing
	NoTradeNotQueueing
	PartTradedQueueing
	PartTradedNotQueueing
	AllTraded
	Canceled
	RejectedByServer
	RejectedByExchange
	NotTouched
	Touched
)

func (s OrderStatus) String() string {
	switch s {
	case NoTradeQueueing:
		return "no_trade_queueing"
	case NoTradeNotQueueing:
		return "no_trade_not_queueing"
	case PartTradedQueueing:
		return "part_traded_queueing"
	case PartTradedNotQueueing:
		return "part_traded_not_queueing"
	case AllTraded:
		return "all_traded"
	case Canceled:
		return "canceled"
	case RejectedByServer:
		return "rejected_by_server"
	case RejectedByExchange:
		return "rejected_by_exchange"
	case NotTouched:
		return "not_touched"
	case Touched:
		return "touched"
	default:
		return "unknown"
	}
}

// Cancelable reports whether an order in this status can still be canceled.
func (s OrderStatus) Cancelable() bool {
	switch s {
	case NoTradeQueueing, NoTradeNotQueueing, PartTradedQueueing, PartTradedNotQueueing:
		return true
	default:
		return false
	}
}

// InstrumentKind is the coarse product class of an instrument.
type InstrumentKind int

const (
	Future InstrumentKind = iota
	Option
)

// InstrumentIndex keys a position bucket. Long and short buckets of the same
// instrument are independent.
type InstrumentIndex struct {
	InstrumentID string    `json:"instrument_id"`
	Direction    Direction `json:"direction"`
	HedgeFlag    HedgeFlag `json:"hedge_flag"`
}

// HoldingRecord is one position bucket. TotalQuantity == TodayQuantity +
// PreQuantity holds after every mutation and neither subfield goes negative.
type HoldingRecord struct {
	Exchange      Exchange  `json:"exchange_id"`
	InstrumentID  string    `json:"instrument_id"`
	Direction     Direction `json:"direction"`
	HedgeFlag     HedgeFlag `json:"hedge_flag"`
	TotalQuantity int       `json:"total_quantity"`
	TodayQuantity int       `json:"today_quantity"`
	PreQuantity   int       `json:"pre_quantity"`
}

// Index returns the bucket key of the record.
func (h HoldingRecord) Index() InstrumentIndex {
	return InstrumentIndex{InstrumentID: h.InstrumentID, Direction: h.Direction, HedgeFlag: h.HedgeFlag}
}

// TradingRecord is one immutable fill.
type TradingRecord struct {
	OrderRef     int64     `json:"order_ref"`
	Exchange     Exchange  `json:"exchange_id"`
	InstrumentID string    `json:"instrument_id"`
	OpenClose    OpenClose `json:"open_close"`
	Direction    Direction `json:"direction"`
	HedgeFlag    HedgeFlag `json:"hedge_flag"`
	Price        float64   `json:"price"`
	Volume       int       `json:"volume"`
	Time         string    `json:"time"`
}

// OrderRecord tracks one submitted order; mutated in place by status pushes.
type OrderRecord struct {
	FrontID        int         `json:"front_id"`
	SessionID      int         `json:"session_id"`
	OrderRef       int64       `json:"order_ref"`
	Exchange       Exchange    `json:"exchange_id"`
	InstrumentID   string      `json:"instrument_id"`
	OpenClose      OpenClose   `json:"open_close"`
	Direction      Direction   `json:"direction"`
	HedgeFlag      HedgeFlag   `json:"hedge_flag"`
	TotalVolume    int         `json:"total_volume"`
	TradedVolume   int         `json:"traded_volume"`
	RemainedVolume int         `json:"remained_volume"`
	PriceType      PriceType   `json:"order_price_type"`
	LimitPrice     float64     `json:"limit_price"`
	TimeCondition  TimeInForce `json:"time_condition"`
	Status         OrderStatus `json:"order_status"`
	Time           string      `json:"time"`
}

// Index returns the order's session-unique key.
func (o OrderRecord) Index() OrderIndex {
	return OrderIndex{FrontID: o.FrontID, SessionID: o.SessionID, OrderRef: o.OrderRef}
}

// CapitalInfo is the account equity snapshot, wholesale-replaced per query.
type CapitalInfo struct {
	Balance           float64 `json:"balance"`
	MarginUsed        float64 `json:"margin_used"`
	Available         float64 `json:"available"`
	Commission        float64 `json:"commission"`
	WithdrawAllowance float64 `json:"withdraw_allowance"`
}

// AccountInfo is one configured trading account.
type AccountInfo struct {
	AccountName   string `json:"account_name" yaml:"account_name"`
	BrokerName    string `json:"broker_name" yaml:"broker_name"`
	AccountNumber string `json:"account_number" yaml:"account_number"`
	Password      string `json:"password" yaml:"password"`
	Enable        bool   `json:"enable" yaml:"enable"`
}

// Key returns the account's registration key.
func (a AccountInfo) Key() AccountKey {
	return AccountKey{AccountName: a.AccountName, BrokerName: a.BrokerName}
}

// BrokerInfo is one configured broker endpoint.
type BrokerInfo struct {
	BrokerName         string   `json:"broker_name" yaml:"broker_name"`
	BrokerID           string   `json:"broker_id" yaml:"broker_id"`
	TradeServerAddr    []string `json:"trade_server_addr" yaml:"trade_server_addr"`
	MarketServerAddr   []string `json:"md_server_addr" yaml:"md_server_addr"`
	UserProductInfo    string   `json:"user_product_info" yaml:"user_product_info"`
	AppID              string   `json:"app_id" yaml:"app_id"`
	AuthCode           string   `json:"auth_code" yaml:"auth_code"`
	QueryRatePerSecond int      `json:"query_rate_per_second" yaml:"query_rate_per_second"`
}

// Order is a user-level order request. The open/close intent and the price
// spec may be relative and are resolved by the advanced-order planner.
type Order struct {
	AccountName  string      `json:"account_name"`
	BrokerName   string      `json:"broker_name"`
	InstrumentID string      `json:"instrument_id"`
	Exchange     Exchange    `json:"exchange_id"`
	TimeInForce  TimeInForce `json:"time_in_force"`
	OpenClose    OpenClose   `json:"open_close"`
	HedgeFlag    HedgeFlag   `json:"hedge_flag"`
	Direction    Direction   `json:"direction"`
	Volume       int         `json:"volume"`
	PriceType    PriceType   `json:"order_price_type"`
	LimitPrice   float64     `json:"limit_price"`
	TickOffset   int         `json:"tick_offset"`
	LevelOffset  int         `json:"level_offset"`
}

// Account returns the key of the account the order targets.
func (o Order) Account() AccountKey {
	return AccountKey{AccountName: o.AccountName, BrokerName: o.BrokerName}
}

// InstrumentInfo is static reference data for one instrument.
type InstrumentInfo struct {
	Kind           InstrumentKind `json:"instrument_type"`
	IsTrading      bool           `json:"is_trading"`
	InstrumentID   string         `json:"instrument_id"`
	InstrumentName string         `json:"instrument_name"`
	Exchange       Exchange       `json:"exchange_id"`
	ProductID      string         `json:"product_id"`
	DeliverMonth   string         `json:"deliver_month"`
	VolumeMultiple float64        `json:"volume_multiplier"`
	PriceTick      float64        `json:"price_tick"`
	ExpireDate     string         `json:"expire_date"`

	LongMarginRatio  float64 `json:"long_margin_ratio"`
	ShortMarginRatio float64 `json:"short_margin_ratio"`
}

// CommissionRate is the per-instrument commission schedule.
type CommissionRate struct {
	InstrumentID            string  `json:"instrument_id"`
	OpenRatioByMoney        float64 `json:"open_ratio_by_money"`
	OpenRatioByVolume       float64 `json:"open_ratio_by_volume"`
	CloseRatioByMoney       float64 `json:"close_ratio_by_money"`
	CloseRatioByVolume      float64 `json:"close_ratio_by_volume"`
	CloseTodayRatioByMoney  float64 `json:"close_today_ratio_by_money"`
	CloseTodayRatioByVolume float64 `json:"close_today_ratio_by_volume"`
}

// PriceVolume is one depth level.
type PriceVolume struct {
	Price  float64 `json:"price"`
	Volume int     `json:"volume"`
}

// OHLC carries session price aggregates plus the last tick's volume/turnover deltas.
type OHLC struct {
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Last     float64 `json:"last"`
	Volume   int     `json:"volume"`
	Turnover float64 `json:"turnover"`
}

// MarketDepth is the normalized five-level snapshot for one instrument,
// replaced wholesale on every push.
type MarketDepth struct {
	InstrumentID string         `json:"instrument_id"`
	UpdateTime   string         `json:"update_time"`
	OHLC         OHLC           `json:"ohlclvt"`
	Settle       float64        `json:"settle"`
	OpenInterest int            `json:"open_interest"`
	AveragePrice float64        `json:"average_price"`
	UpperLimit   float64        `json:"upper_limit"`
	LowerLimit   float64        `json:"lower_limit"`
	Bid          [5]PriceVolume `json:"bid"`
	Ask          [5]PriceVolume `json:"ask"`
}
