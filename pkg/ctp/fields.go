package ctp

import "github.com/jicewarwick/OpenUTS/pkg/uts"

// AuthenticateRequest asks the gateway to authenticate the client application.
type AuthenticateRequest struct {
	BrokerID        string
	UserID          string
	UserProductInfo string
	AppID           string
	AuthCode        string
}

// LoginRequest carries account credentials for one trade or market session.
type LoginRequest struct {
	BrokerID        string
	UserID          string
	Password        string
	UserProductInfo string
}

// LoginResponse is granted on successful login; FrontID and SessionID combine
// with a local order ref to form session-unique order indices.
type LoginResponse struct {
	FrontID     int
	SessionID   int
	MaxOrderRef int64
	TradingDay  string
}

// LogoutRequest ends one session.
type LogoutRequest struct {
	BrokerID string
	UserID   string
}

// SettlementConfirmRequest confirms the previous settlement statement, the
// final leg of the login chain.
type SettlementConfirmRequest struct {
	BrokerID   string
	InvestorID string
}

// PasswordUpdateRequest changes the account password.
type PasswordUpdateRequest struct {
	BrokerID    string
	UserID      string
	OldPassword string
	NewPassword string
}

// OrderInsert is one concrete order submission.
type OrderInsert struct {
	BrokerID     string
	InvestorID   string
	InstrumentID string
	Exchange     uts.Exchange
	OrderRef     int64
	Direction    uts.Direction
	OpenClose    uts.OpenClose
	HedgeFlag    uts.HedgeFlag
	PriceType    uts.PriceType
	LimitPrice   float64
	Volume       int
	TimeInForce  uts.TimeInForce
}

// OrderAction cancels the order identified by the embedded index.
type OrderAction struct {
	BrokerID     string
	InvestorID   string
	InstrumentID string
	Exchange     uts.Exchange
	FrontID      int
	SessionID    int
	OrderRef     int64
}

// OrderField is one order status push.
type OrderField struct {
	FrontID        int
	SessionID      int
	OrderRef       int64
	Exchange       uts.Exchange
	InstrumentID   string
	OpenClose      uts.OpenClose
	Direction      uts.Direction
	HedgeFlag      uts.HedgeFlag
	TotalVolume    int
	TradedVolume   int
	RemainedVolume int
	PriceType      uts.PriceType
	LimitPrice     float64
	TimeInForce    uts.TimeInForce
	Status         uts.OrderStatus
	// InsertRejected marks an exchange-level rejection of the submission.
	InsertRejected bool
	StatusMessage  string
	Time           string
}

// Record converts the push into a domain order record.
func (f OrderField) Record() uts.OrderRecord {
	status := f.Status
	if f.InsertRejected {
		status = uts.RejectedByExchange
	}
	return uts.OrderRecord{
		FrontID:        f.FrontID,
		SessionID:      f.SessionID,
		OrderRef:       f.OrderRef,
		Exchange:       f.Exchange,
		InstrumentID:   f.InstrumentID,
		OpenClose:      f.OpenClose,
		Direction:      f.Direction,
		HedgeFlag:      f.HedgeFlag,
		TotalVolume:    f.TotalVolume,
		TradedVolume:   f.TradedVolume,
		RemainedVolume: f.RemainedVolume,
		PriceType:      f.PriceType,
		LimitPrice:     f.LimitPrice,
		TimeCondition:  f.TimeInForce,
		Status:         status,
		Time:           f.Time,
	}
}

// TradeField is one fill push.
type TradeField struct {
	OrderRef     int64
	Exchange     uts.Exchange
	InstrumentID string
	OpenClose    uts.OpenClose
	Direction    uts.Direction
	HedgeFlag    uts.HedgeFlag
	Price        float64
	Volume       int
	Time         string
}

// Record converts the push into a domain trading record.
func (f TradeField) Record() uts.TradingRecord {
	return uts.TradingRecord{
		OrderRef:     f.OrderRef,
		Exchange:     f.Exchange,
		InstrumentID: f.InstrumentID,
		OpenClose:    f.OpenClose,
		Direction:    f.Direction,
		HedgeFlag:    f.HedgeFlag,
		Price:        f.Price,
		Volume:       f.Volume,
		Time:         f.Time,
	}
}

// PositionField is one row of a position query response. YdPosition is the
// volume carried over from before the current session.
type PositionField struct {
	Exchange     uts.Exchange
	InstrumentID string
	Direction    uts.Direction
	HedgeFlag    uts.HedgeFlag
	Position     int
	YdPosition   int
}

// DepthField is one raw market snapshot push. Prices the venue did not set
// carry the sentinel NoPrice value.
type DepthField struct {
	InstrumentID string
	ActionDay    string // YYYYMMDD
	UpdateTime   string // hh:mm:ss
	UpdateMillis int

	LastPrice       float64
	HighestPrice    float64
	LowestPrice     float64
	ClosePrice      float64
	SettlementPrice float64
	AveragePrice    float64
	UpperLimitPrice float64
	LowerLimitPrice float64
	Volume          int
	Turnover        float64
	OpenInterest    float64

	BidPrice  [5]float64
	BidVolume [5]int
	AskPrice  [5]float64
	AskVolume [5]int
}
