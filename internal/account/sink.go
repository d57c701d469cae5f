package account

import (
	"strings"

	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// tradeEvents adapts gateway push callbacks onto the account's state machine
// and ledger. It runs on the gateway's dispatch goroutine; everything it
// touches is either atomic or guarded by the account's category locks.
type tradeEvents struct {
	a *Account
}

var _ ctp.TradeSink = (*tradeEvents)(nil)

func (e *tradeEvents) OnFrontConnected() {
	a := e.a
	if s := a.Status(); s == LoggingOut || s == LoggedOut {
		a.log.Debug().Msg("front connected after logout, ignoring")
		return
	}
	a.setStatus(Connected)
	req := ctp.AuthenticateRequest{
		BrokerID:        a.broker.BrokerID,
		UserID:          a.info.AccountNumber,
		UserProductInfo: a.broker.UserProductInfo,
		AppID:           a.broker.AppID,
		AuthCode:        a.broker.AuthCode,
	}
	if err := a.gateway.ReqAuthenticate(req, a.nextRequestID()); err != nil {
		a.log.Error().Err(err).Msg("authenticate request failed")
		a.connMgr.Done(false)
		return
	}
	a.setStatus(Authorizing)
}

func (e *tradeEvents) OnRspAuthenticate(result ctp.Result) {
	a := e.a
	if !result.OK() {
		a.failure.Store(int32(uts.LoginAuthorizationFailed))
		a.log.Error().Int("code", result.Code).Str("message", result.Message).Msg("authentication rejected")
		a.connMgr.Done(false)
		return
	}
	a.setStatus(Authorized)
	a.postLoginRequest()
}

func (e *tradeEvents) OnRspUserLogin(rsp ctp.LoginResponse, result ctp.Result) {
	a := e.a
	if !result.OK() {
		a.failure.Store(int32(ctp.ClassifyLoginCode(result.Code)))
		a.log.Error().Int("code", result.Code).Str("message", result.Message).Msg("login rejected")
		a.connMgr.Done(false)
		return
	}
	a.frontID = rsp.FrontID
	a.sessionID = rsp.SessionID
	a.orderRef.Store(rsp.MaxOrderRef)
	a.setStatus(LoggedIn)

	req := ctp.SettlementConfirmRequest{BrokerID: a.broker.BrokerID, InvestorID: a.info.AccountNumber}
	if err := a.gateway.ReqSettlementConfirm(req, a.nextRequestID()); err != nil {
		a.log.Error().Err(err).Msg("settlement confirm request failed")
		a.connMgr.Done(false)
		return
	}
	a.setStatus(Confirming)
}

func (e *tradeEvents) OnRspSettlementConfirm(result ctp.Result) {
	a := e.a
	if !result.OK() {
		a.log.Error().Int("code", result.Code).Str("message", result.Message).Msg("settlement confirmation rejected")
		a.connMgr.Done(false)
		return
	}
	a.setStatus(Done)
	a.connMgr.Done(true)
}

func (e *tradeEvents) OnRspUserLogout(result ctp.Result) {
	a := e.a
	if !result.OK() {
		a.log.Warn().Int("code", result.Code).Str("message", result.Message).Msg("logout rejected")
		a.connMgr.Done(false)
		return
	}
	a.setStatus(LoggedOut)
	a.connMgr.Done(true)
}

func (e *tradeEvents) OnRspPasswordUpdate(result ctp.Result) {
	a := e.a
	a.pwdMu.Lock()
	a.pwdOK = result.OK()
	a.pwdMu.Unlock()
	if !result.OK() {
		a.log.Error().Int("code", result.Code).Str("message", result.Message).Msg("password update rejected")
	}
	a.connMgr.Done(result.OK())
}

func (e *tradeEvents) OnRspQryInstrument(info *uts.InstrumentInfo, result ctp.Result, last bool) {
	a := e.a
	if info == nil && !last {
		// A null record mid-response means the endpoint is misconfigured.
		a.instrumentMu.Lock()
		a.badRecord = true
		a.instrumentMu.Unlock()
		a.log.Error().Msg("instrument query returned a null record")
		return
	}
	if info != nil {
		a.instrumentMu.Lock()
		a.instruments[strings.ToUpper(info.InstrumentID)] = *info
		a.instrumentMu.Unlock()
	}
	if last {
		a.queryMgr.Done(true)
	}
}

func (e *tradeEvents) OnRspQryCommissionRate(rate *uts.CommissionRate, result ctp.Result, last bool) {
	a := e.a
	if rate != nil {
		a.commissionMu.Lock()
		a.commissions[rate.InstrumentID] = *rate
		a.commissionMu.Unlock()
	}
	if last {
		a.queryMgr.Done(true)
	}
}

func (e *tradeEvents) OnRspQryPosition(pos *ctp.PositionField, result ctp.Result, last bool) {
	a := e.a
	// Combination/calendar-spread synthetic rows carry no real position.
	if pos != nil && pos.YdPosition != 0 && !strings.HasPrefix(pos.InstrumentID, "SP") {
		a.ledger.SeedPreHolding(uts.HoldingRecord{
			Exchange:     pos.Exchange,
			InstrumentID: pos.InstrumentID,
			Direction:    pos.Direction,
			HedgeFlag:    pos.HedgeFlag,
			PreQuantity:  pos.YdPosition,
		})
	}
	if last {
		a.queryMgr.Done(true)
	}
}

func (e *tradeEvents) OnRspQryTradingAccount(capital uts.CapitalInfo, result ctp.Result) {
	a := e.a
	a.capitalMu.Lock()
	a.capital = capital
	a.capitalMu.Unlock()
	a.publish(events.EventCapitalUpdate, events.CapitalUpdate{Account: a.Key(), Capital: capital})
	a.log.Debug().
		Float64("balance", capital.Balance).
		Float64("margin", capital.MarginUsed).
		Float64("commission", capital.Commission).
		Msg("capital updated")
	a.queryMgr.Done(true)
}

func (e *tradeEvents) OnRspOrderInsert(order ctp.OrderInsert, result ctp.Result) {
	a := e.a
	if result.OK() {
		return
	}
	idx := uts.OrderIndex{FrontID: a.frontID, SessionID: a.sessionID, OrderRef: order.OrderRef}
	a.watchMu.Lock()
	a.rejected[idx] = struct{}{}
	a.watchMu.Unlock()
	a.log.Error().
		Int64("order_ref", order.OrderRef).
		Int("code", result.Code).
		Str("message", result.Message).
		Msg("order rejected by gateway")
	a.notifyWatch(idx)
}

func (e *tradeEvents) OnRtnOrder(field ctp.OrderField) {
	a := e.a
	rec := field.Record()
	idx := rec.Index()
	first := a.ledger.ApplyOrder(rec)
	a.publish(events.EventOrderUpdate, events.OrderUpdate{Account: a.Key(), Order: rec})
	if first || rec.Status == uts.RejectedByExchange {
		if rec.Status == uts.RejectedByExchange {
			a.log.Error().
				Int64("order_ref", rec.OrderRef).
				Str("message", field.StatusMessage).
				Msg("order rejected by exchange")
		}
		a.notifyWatch(idx)
	}
}

func (e *tradeEvents) OnRtnTrade(field ctp.TradeField) {
	a := e.a
	rec := field.Record()
	a.ledger.ApplyTrade(rec)
	a.publish(events.EventTrade, events.Trade{Account: a.Key(), Fill: rec})
	a.log.Debug().
		Str("instrument", field.InstrumentID).
		Int("volume", field.Volume).
		Float64("price", field.Price).
		Msg("fill received")
}
