package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		notRegistered *uts.NotRegisteredError
		notLoggedIn   *uts.NotLoggedInError
		orderErr      *uts.OrderError
		netErr        *uts.NetworkError
		cfgErr        *uts.ConfigError
	)
	switch {
	case errors.As(err, &notRegistered):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_REGISTERED", "error": err.Error()})
	case errors.As(err, &notLoggedIn):
		c.JSON(http.StatusConflict, gin.H{"code": "NOT_LOGGED_IN", "error": err.Error()})
	case errors.As(err, &orderErr):
		c.JSON(http.StatusBadRequest, gin.H{"code": "ORDER_REJECTED", "error": err.Error()})
	case errors.As(err, &netErr):
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": "GATEWAY_TIMEOUT", "error": err.Error()})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_CONFIG", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
	}
}

func accountKey(c *gin.Context) (uts.AccountKey, bool) {
	key := uts.AccountKey{
		AccountName: c.Query("account"),
		BrokerName:  c.Query("broker"),
	}
	return key, key.AccountName != ""
}

func (s *Server) getSystemStatus(c *gin.Context) {
	feedUp := false
	subscribed := 0
	if feed := s.Sys.Feed(); feed != nil {
		feedUp = feed.IsLoggedIn()
		subscribed = len(feed.SubscribedTickers())
	}
	c.JSON(http.StatusOK, gin.H{
		"dry_run":    s.Meta.DryRun,
		"version":    s.Meta.Version,
		"accounts":   s.Sys.Size(),
		"feed_up":    feedUp,
		"subscribed": subscribed,
	})
}

func (s *Server) getAccounts(c *gin.Context) {
	type accountStatus struct {
		AccountName string `json:"account_name"`
		BrokerName  string `json:"broker_name"`
		Status      string `json:"status"`
	}
	statuses := s.Sys.AccountStatuses()
	out := make([]accountStatus, 0, len(statuses))
	for key, status := range statuses {
		out = append(out, accountStatus{
			AccountName: key.AccountName,
			BrokerName:  key.BrokerName,
			Status:      status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) getCapital(c *gin.Context) {
	key, ok := accountKey(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_ACCOUNT", "error": "account query parameter required"})
		return
	}
	capital, err := s.Sys.GetCapital(key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, capital)
}

type accountHoldings struct {
	AccountName string              `json:"account_name"`
	BrokerName  string              `json:"broker_name"`
	Holdings    []uts.HoldingRecord `json:"holdings"`
}

func holdingRows(m map[uts.InstrumentIndex]uts.HoldingRecord) []uts.HoldingRecord {
	out := make([]uts.HoldingRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out
}

func (s *Server) getHoldings(c *gin.Context) {
	if key, ok := accountKey(c); ok {
		holdings, err := s.Sys.GetAccountHolding(key)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, accountHoldings{
			AccountName: key.AccountName,
			BrokerName:  key.BrokerName,
			Holdings:    holdingRows(holdings),
		})
		return
	}
	all := s.Sys.GetHolding()
	out := make([]accountHoldings, 0, len(all))
	for key, holdings := range all {
		out = append(out, accountHoldings{
			AccountName: key.AccountName,
			BrokerName:  key.BrokerName,
			Holdings:    holdingRows(holdings),
		})
	}
	c.JSON(http.StatusOK, gin.H{"holdings": out})
}

func (s *Server) getOrders(c *gin.Context) {
	if key, ok := accountKey(c); ok {
		var (
			orders []uts.OrderRecord
			err    error
		)
		if c.Query("pending") == "true" {
			orders, err = s.Sys.GetAccountUnfinishedOrders(key)
		} else {
			orders, err = s.Sys.GetAccountOrders(key)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
		return
	}
	type accountOrders struct {
		AccountName string            `json:"account_name"`
		BrokerName  string            `json:"broker_name"`
		Orders      []uts.OrderRecord `json:"orders"`
	}
	all := s.Sys.GetOrders()
	out := make([]accountOrders, 0, len(all))
	for key, orders := range all {
		out = append(out, accountOrders{AccountName: key.AccountName, BrokerName: key.BrokerName, Orders: orders})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getTrades(c *gin.Context) {
	if key, ok := accountKey(c); ok {
		trades, err := s.Sys.GetAccountTrades(key)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
		return
	}
	type accountTrades struct {
		AccountName string              `json:"account_name"`
		BrokerName  string              `json:"broker_name"`
		Trades      []uts.TradingRecord `json:"trades"`
	}
	all := s.Sys.GetTrades()
	out := make([]accountTrades, 0, len(all))
	for key, trades := range all {
		out = append(out, accountTrades{AccountName: key.AccountName, BrokerName: key.BrokerName, Trades: trades})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) getInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": s.Sys.Instruments()})
}

func (s *Server) getMarketSnapshot(c *gin.Context) {
	feed := s.Sys.Feed()
	if feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "NO_FEED", "error": "no market data source configured"})
		return
	}
	depth, ok := feed.Snapshot(c.Param("instrument"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_SUBSCRIBED", "error": "no snapshot for instrument"})
		return
	}
	c.JSON(http.StatusOK, depth)
}

func (s *Server) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.Sys.Snapshot())
}

func (s *Server) subscribe(c *gin.Context) {
	var req struct {
		Instruments []string `json:"instruments"`
		Products    []string `json:"products"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	ctx := c.Request.Context()
	if len(req.Products) > 0 {
		if err := s.Sys.SubscribeProducts(ctx, req.Products); err != nil {
			writeError(c, err)
			return
		}
	}
	if len(req.Instruments) > 0 {
		if err := s.Sys.SubscribeInstruments(ctx, req.Instruments); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": s.Sys.Feed().SubscribedTickers()})
}

func (s *Server) placeOrder(c *gin.Context) {
	var order uts.Order
	if err := c.BindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid order payload"})
		return
	}
	indexes, err := s.Sys.PlaceAdvancedOrderSync(c.Request.Context(), order)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_indexes": indexes})
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req struct {
		AccountName string `json:"account_name"`
		BrokerName  string `json:"broker_name"`
		FrontID     int    `json:"front_id"`
		SessionID   int    `json:"session_id"`
		OrderRef    int64  `json:"order_ref"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	key := uts.AccountKey{AccountName: req.AccountName, BrokerName: req.BrokerName}
	idx := uts.OrderIndex{FrontID: req.FrontID, SessionID: req.SessionID, OrderRef: req.OrderRef}
	if err := s.Sys.CancelOrder(key, idx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": idx})
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	var req struct {
		AccountName string `json:"account_name"`
		BrokerName  string `json:"broker_name"`
	}
	// Empty body cancels across every account.
	_ = c.BindJSON(&req)
	if req.AccountName != "" {
		key := uts.AccountKey{AccountName: req.AccountName, BrokerName: req.BrokerName}
		if err := s.Sys.CancelAccountPendingOrders(key); err != nil {
			writeError(c, err)
			return
		}
	} else {
		s.Sys.CancelAllPendingOrders()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) liquidate(c *gin.Context) {
	var req struct {
		AccountName string `json:"account_name"`
		BrokerName  string `json:"broker_name"`
		PriceType   *int   `json:"order_price_type"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	priceType := uts.BestPrice
	if req.PriceType != nil {
		priceType = uts.PriceType(*req.PriceType)
	}
	key := uts.AccountKey{AccountName: req.AccountName, BrokerName: req.BrokerName}
	if err := s.Sys.ClearAllHoldings(c.Request.Context(), key, uts.GFD, priceType); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) dumpSnapshot(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "path is required"})
		return
	}
	if err := s.Sys.DumpInfo(req.Path); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path})
}
