package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/api"
	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/internal/recorder"
	"github.com/jicewarwick/OpenUTS/internal/system"
	"github.com/jicewarwick/OpenUTS/pkg/config"
	"github.com/jicewarwick/OpenUTS/pkg/ctp"
	"github.com/jicewarwick/OpenUTS/pkg/logger"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

const version = "0.9.0"

func main() {
	configPath := flag.String("config", "uts.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("info")
		bootLog.Fatal().Err(err).Msg("configuration load failed")
	}
	log := logger.New(cfg.LogLevel)
	log.Info().Str("version", version).Bool("dry_run", cfg.DryRun).Msg("starting")

	if !cfg.DryRun {
		// The vendor trade bridge is linked in a separate build; this binary
		// only ships the simulated gateways.
		log.Fatal().Msg("live gateways are not available in this build, set dry_run: true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	sys := system.New(simTradeFactory(cfg), simMarketFactory(), bus, log)
	sys.SetNoCloseTodayInstruments(cfg.NoCloseToday)
	sys.AddBrokers(cfg.Brokers)
	sys.AddMarketDataSource(cfg.MarketServerAddr)
	if err := sys.AddAccounts(cfg.Accounts); err != nil {
		log.Fatal().Err(err).Msg("account registration failed")
	}
	if sys.Empty() {
		log.Fatal().Msg("no enabled accounts configured")
	}

	sys.LogOn(ctx)
	if err := sys.QueryInstruments(ctx); err != nil {
		log.Fatal().Err(err).Msg("instrument query failed")
	}
	sys.QueryCommissionRates(ctx)

	subscribeConfigured(ctx, sys, cfg, log)

	recorders := startRecorders(sys, cfg, log)
	defer func() {
		for _, r := range recorders {
			if err := r.Close(); err != nil {
				log.Error().Err(err).Msg("recorder shutdown failed")
			}
		}
	}()

	server := api.NewServer(bus, sys,
		api.Credentials{User: cfg.APIUser, Password: cfg.APIPassword},
		api.SystemMeta{DryRun: cfg.DryRun, Version: version},
		cfg.JWTSecret, log)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http api listening")
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sys.LogOff(context.Background())
}

func subscribeConfigured(ctx context.Context, sys *system.System, cfg *config.Config, log zerolog.Logger) {
	sub := cfg.Subscription
	if len(sub.Products) > 0 {
		if err := sys.SubscribeProducts(ctx, sub.Products); err != nil {
			log.Error().Err(err).Msg("product subscription failed")
		}
	}
	if len(sub.Instruments) > 0 {
		if err := sys.SubscribeInstruments(ctx, sub.Instruments); err != nil {
			log.Error().Err(err).Msg("instrument subscription failed")
		}
	}
	if len(sub.Products) == 0 && len(sub.Instruments) == 0 {
		if err := sys.SubscribeInstruments(ctx, nil); err != nil {
			log.Error().Err(err).Msg("full-universe subscription failed")
		}
	}
}

// startRecorders attaches the configured tick archives to the feed.
func startRecorders(sys *system.System, cfg *config.Config, log zerolog.Logger) []*recorder.Queued {
	feed := sys.Feed()
	if feed == nil {
		return nil
	}
	var out []*recorder.Queued
	if cfg.DBPath != "" {
		w, err := recorder.NewSQLiteWriter(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("sqlite recorder init failed")
		}
		q := recorder.NewQueued(w, 0, 0, log)
		feed.RegisterSink(q)
		out = append(out, q)
	}
	if cfg.CSVDir != "" {
		w, err := recorder.NewCSVWriter(filepath.Join(cfg.CSVDir, "ticks.csv"))
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.CSVDir).Msg("csv recorder init failed")
		}
		q := recorder.NewQueued(w, 0, 0, log)
		feed.RegisterSink(q)
		out = append(out, q)
	}
	return out
}

// simTradeFactory scripts a fill-at-limit simulation seeded with the
// configured account credentials and demo reference data.
func simTradeFactory(cfg *config.Config) system.TradeGatewayFactory {
	credentials := make(map[string]string, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		credentials[a.AccountNumber] = a.Password
	}
	return func(broker uts.BrokerInfo) ctp.TradeGateway {
		return ctp.NewSimTradeGateway(ctp.SimConfig{
			BrokerID:    broker.BrokerID,
			Credentials: credentials,
			Instruments: demoInstruments(),
			Capital:     uts.CapitalInfo{Balance: 1_000_000, Available: 1_000_000},
			FillOrders:  true,
		})
	}
}

func simMarketFactory() system.MarketGatewayFactory {
	return func([]string) ctp.MarketGateway {
		return ctp.NewSimMarketGateway()
	}
}

func demoInstruments() map[string]uts.InstrumentInfo {
	return map[string]uts.InstrumentInfo{
		"rb2410": {Kind: uts.Future, IsTrading: true, InstrumentID: "rb2410", InstrumentName: "rebar 2410", Exchange: uts.SHFE, ProductID: "rb", PriceTick: 1, VolumeMultiple: 10},
		"m2501":  {Kind: uts.Future, IsTrading: true, InstrumentID: "m2501", InstrumentName: "soybean meal 2501", Exchange: uts.DCE, ProductID: "m", PriceTick: 1, VolumeMultiple: 10},
		"SR501":  {Kind: uts.Future, IsTrading: true, InstrumentID: "SR501", InstrumentName: "white sugar 501", Exchange: uts.CZCE, ProductID: "SR", PriceTick: 1, VolumeMultiple: 10},
		"IF2412": {Kind: uts.Future, IsTrading: true, InstrumentID: "IF2412", InstrumentName: "CSI 300 index 2412", Exchange: uts.CFFEX, ProductID: "IF", PriceTick: 0.2, VolumeMultiple: 300},
	}
}
