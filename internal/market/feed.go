// Package market runs the shared market-data feed: one gateway connection
// whose depth snapshots are normalized and served to every account and to the
// registered tick sinks.
package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jicewarwick/OpenUTS/internal/async"
	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

const (
	loginTimeout     = 5 * time.Second
	logoutTimeout    = 2 * time.Second
	subscribeTimeout = 2 * time.Second
	subscribeChunk   = 100
)

// TickSink consumes every normalized depth snapshot, typically to persist it.
// Write failures are logged and never stall the feed.
type TickSink interface {
	Write(depth uts.MarketDepth) error
}

// Feed owns one market-data connection. The depth map has a single writer,
// the gateway dispatch goroutine, and many readers.
type Feed struct {
	gateway ctp.MarketGateway
	addrs   []string
	bus     *events.Bus
	log     zerolog.Logger

	mgr       *async.QueryManager
	requestID atomic.Int64
	loggedIn  atomic.Bool
	// pacer spaces subscribe/unsubscribe chunks so a large watch list does
	// not burst the gateway.
	pacer *rate.Limiter

	mu         sync.RWMutex
	depth      map[string]uts.MarketDepth
	subscribed map[string]struct{}

	// previous-tick aggregates for the derived session OHLC
	aggMu       sync.Mutex
	preLatest   map[string]float64
	preHigh     map[string]float64
	preLow      map[string]float64
	preTurnover map[string]float64
	preVolume   map[string]int

	sinkMu sync.Mutex
	sinks  []TickSink
}

// NewFeed builds a feed over one market gateway. Ticks are published on bus
// under events.EventTick.
func NewFeed(gateway ctp.MarketGateway, addrs []string, bus *events.Bus, log zerolog.Logger) *Feed {
	f := &Feed{
		gateway:     gateway,
		addrs:       addrs,
		bus:         bus,
		log:         log.With().Str("component", "market_feed").Logger(),
		mgr:         async.NewQueryManager(nil, loginTimeout),
		pacer:       rate.NewLimiter(rate.Limit(5), 1),
		depth:       make(map[string]uts.MarketDepth),
		subscribed:  make(map[string]struct{}),
		preLatest:   make(map[string]float64),
		preHigh:     make(map[string]float64),
		preLow:      make(map[string]float64),
		preTurnover: make(map[string]float64),
		preVolume:   make(map[string]int),
	}
	gateway.Register(&marketEvents{f: f})
	return f
}

// IsLoggedIn reports whether the feed connection is up.
func (f *Feed) IsLoggedIn() bool { return f.loggedIn.Load() }

func (f *Feed) nextRequestID() int { return int(f.requestID.Add(1)) }

// LogIn connects and logs in to the market front.
func (f *Feed) LogIn(ctx context.Context) error {
	if f.IsLoggedIn() {
		return nil
	}
	cond := f.mgr.Run(ctx, func() {
		if err := f.gateway.Connect(f.addrs); err != nil {
			f.log.Error().Err(err).Msg("connect failed")
			f.mgr.Done(false)
		}
	}, loginTimeout, 1)
	switch {
	case cond == async.Timeout:
		return &uts.NetworkError{Subject: "market data"}
	case cond != async.Succeeded:
		return &uts.LoginError{Account: "market data", Reason: uts.LoginUnknown}
	}
	f.log.Info().Msg("market data server login successful")
	return nil
}

// LogOut unwinds subscriptions best effort and releases the connection.
// Unwind failures are logged only.
func (f *Feed) LogOut(ctx context.Context) {
	if !f.IsLoggedIn() {
		return
	}
	if tickers := f.SubscribedTickers(); len(tickers) > 0 {
		if err := f.Unsubscribe(ctx, tickers); err != nil {
			f.log.Warn().Err(err).Msg("unsubscribe before logout failed")
		}
	}
	cond := f.mgr.Run(ctx, func() {
		if err := f.gateway.ReqUserLogout(f.nextRequestID()); err != nil {
			f.log.Warn().Err(err).Msg("logout request failed")
			f.mgr.Done(false)
		}
	}, logoutTimeout, 1)
	if cond != async.Succeeded {
		f.log.Warn().Stringer("condition", cond).Msg("logout did not confirm")
	}
	f.loggedIn.Store(false)
	f.gateway.Release()
	f.log.Debug().Msg("market data connection released")
}

// Subscribe adds the tickers to the watch list, chunked to respect gateway
// message-size limits, each chunk awaited before the next is sent.
func (f *Feed) Subscribe(ctx context.Context, tickers []string) error {
	fresh := f.filter(tickers, false)
	f.log.Debug().Int("asked", len(tickers)).Int("new", len(fresh)).Msg("subscribe request")
	return f.eachChunk(ctx, fresh, f.gateway.Subscribe)
}

// Unsubscribe removes the tickers from the watch list.
func (f *Feed) Unsubscribe(ctx context.Context, tickers []string) error {
	known := f.filter(tickers, true)
	f.log.Debug().Int("asked", len(tickers)).Int("known", len(known)).Msg("unsubscribe request")
	return f.eachChunk(ctx, known, f.gateway.Unsubscribe)
}

// filter keeps tickers whose current subscription state matches want.
func (f *Feed) filter(tickers []string, want bool) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if _, ok := f.subscribed[ticker]; ok == want {
			out = append(out, ticker)
		}
	}
	return out
}

func (f *Feed) eachChunk(ctx context.Context, tickers []string, call func([]string) error) error {
	for start := 0; start < len(tickers); start += subscribeChunk {
		chunk := tickers[start:min(start+subscribeChunk, len(tickers))]
		if err := f.pacer.Wait(ctx); err != nil {
			return err
		}
		cond := f.mgr.Run(ctx, func() {
			if err := call(chunk); err != nil {
				f.log.Error().Err(err).Msg("subscription request failed")
				f.mgr.Done(false)
			}
		}, subscribeTimeout, 1)
		if cond != async.Succeeded {
			return &uts.NetworkError{Subject: "market data"}
		}
	}
	return nil
}

// SubscribedTickers returns the current watch list.
func (f *Feed) SubscribedTickers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.subscribed))
	for ticker := range f.subscribed {
		out = append(out, ticker)
	}
	return out
}

// Snapshot returns the latest depth for one instrument.
func (f *Feed) Snapshot(instrumentID string) (uts.MarketDepth, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	md, ok := f.depth[instrumentID]
	return md, ok
}

// Snapshots returns a copy of the whole depth map.
func (f *Feed) Snapshots() map[string]uts.MarketDepth {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uts.MarketDepth, len(f.depth))
	for k, v := range f.depth {
		out[k] = v
	}
	return out
}

// RegisterSink adds a tick sink. Every later snapshot is written to it.
func (f *Feed) RegisterSink(sink TickSink) {
	f.sinkMu.Lock()
	f.sinks = append(f.sinks, sink)
	f.sinkMu.Unlock()
}

// normalize converts a raw push into the shared MarketDepth shape, deriving
// session OHLC and per-tick volume/turnover deltas from the previous push.
func (f *Feed) normalize(field ctp.DepthField) uts.MarketDepth {
	id := field.InstrumentID

	f.aggMu.Lock()
	open := f.preLatest[id]
	last := field.LastPrice
	high := max(open, last)
	if field.HighestPrice > f.preHigh[id] {
		high = field.HighestPrice
	}
	low := min(open, last)
	if field.LowestPrice < f.preLow[id] {
		low = field.LowestPrice
	}
	turnover := field.Turnover - f.preTurnover[id]
	volume := field.Volume - f.preVolume[id]

	f.preLatest[id] = last
	f.preHigh[id] = field.HighestPrice
	f.preLow[id] = field.LowestPrice
	f.preTurnover[id] = field.Turnover
	f.preVolume[id] = field.Volume
	f.aggMu.Unlock()

	md := uts.MarketDepth{
		InstrumentID: id,
		UpdateTime:   formatUpdateTime(field.ActionDay, field.UpdateTime, field.UpdateMillis),
		OHLC: uts.OHLC{
			Open:     ctp.SanitizePrice(open),
			High:     ctp.SanitizePrice(high),
			Low:      ctp.SanitizePrice(low),
			Close:    ctp.SanitizePrice(field.ClosePrice),
			Last:     last,
			Volume:   volume,
			Turnover: turnover,
		},
		Settle:       ctp.SanitizePrice(field.SettlementPrice),
		OpenInterest: int(field.OpenInterest),
		AveragePrice: field.AveragePrice,
		UpperLimit:   field.UpperLimitPrice,
		LowerLimit:   field.LowerLimitPrice,
	}
	for i := 0; i < 5; i++ {
		md.Bid[i] = uts.PriceVolume{Price: ctp.SanitizePrice(field.BidPrice[i]), Volume: field.BidVolume[i]}
		md.Ask[i] = uts.PriceVolume{Price: ctp.SanitizePrice(field.AskPrice[i]), Volume: field.AskVolume[i]}
	}
	return md
}

// formatUpdateTime joins the venue's action day, wall time and milliseconds
// into "YYYY-MM-DD hh:mm:ss.mmm".
func formatUpdateTime(actionDay, updateTime string, millis int) string {
	if len(actionDay) != 8 {
		return updateTime
	}
	day := actionDay[0:4] + "-" + actionDay[4:6] + "-" + actionDay[6:8]
	return day + " " + updateTime + "." + itoa3(millis)
}

func itoa3(n int) string {
	if n < 0 {
		n = 0
	}
	digits := [3]byte{'0' + byte(n/100%10), '0' + byte(n/10%10), '0' + byte(n%10)}
	return string(digits[:])
}

// marketEvents adapts gateway push callbacks onto the feed.
type marketEvents struct {
	f *Feed
}

var _ ctp.MarketSink = (*marketEvents)(nil)

func (e *marketEvents) OnFrontConnected() {
	f := e.f
	if err := f.gateway.ReqUserLogin(f.nextRequestID()); err != nil {
		f.log.Error().Err(err).Msg("login request failed")
		f.mgr.Done(false)
	}
}

func (e *marketEvents) OnRspUserLogin(result ctp.Result) {
	f := e.f
	if !result.OK() {
		f.log.Error().Int("code", result.Code).Str("message", result.Message).Msg("market login rejected")
		f.mgr.Done(false)
		return
	}
	f.loggedIn.Store(true)
	f.mgr.Done(true)
}

func (e *marketEvents) OnRspUserLogout(result ctp.Result) {
	f := e.f
	if !result.OK() {
		f.log.Warn().Int("code", result.Code).Str("message", result.Message).Msg("market logout rejected")
	}
	f.mgr.Done(result.OK())
}

func (e *marketEvents) OnRspSubMarketData(instrumentID string, result ctp.Result, last bool) {
	f := e.f
	f.mu.Lock()
	f.subscribed[instrumentID] = struct{}{}
	f.mu.Unlock()
	if last {
		f.mgr.Done(true)
	}
}

func (e *marketEvents) OnRspUnSubMarketData(instrumentID string, result ctp.Result, last bool) {
	f := e.f
	f.mu.Lock()
	delete(f.subscribed, instrumentID)
	delete(f.depth, instrumentID)
	f.mu.Unlock()
	if last {
		f.mgr.Done(true)
	}
}

func (e *marketEvents) OnRtnDepthMarketData(field ctp.DepthField) {
	f := e.f
	md := f.normalize(field)

	f.mu.Lock()
	f.depth[md.InstrumentID] = md
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.Publish(events.EventTick, md)
	}

	f.sinkMu.Lock()
	sinks := f.sinks
	f.sinkMu.Unlock()
	for _, sink := range sinks {
		if err := sink.Write(md); err != nil {
			f.log.Warn().Err(err).Str("instrument", md.InstrumentID).Msg("tick sink write failed")
		}
	}
}
