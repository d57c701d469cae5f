package system

import (
	"encoding/json"
	"os"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// AccountSnapshot is the dumped state of one logged-in account.
type AccountSnapshot struct {
	AccountName     string                        `json:"account_name"`
	BrokerName      string                        `json:"broker_name"`
	Capital         uts.CapitalInfo               `json:"capital"`
	Holding         []uts.HoldingRecord           `json:"holding"`
	Trades          []uts.TradingRecord           `json:"trades"`
	Orders          []uts.OrderRecord             `json:"orders"`
	CommissionRates map[string]uts.CommissionRate `json:"commission_rate"`
}

// Snapshot is the full dumped state of the system.
type Snapshot struct {
	AccountInfo    []AccountSnapshot             `json:"account_info"`
	InstrumentInfo map[string]uts.InstrumentInfo `json:"instrument_info"`
	MarketData     map[string]uts.MarketDepth    `json:"market_data"`
}

// Snapshot collects the state of every logged-in account, the cached
// reference data and the latest depth snapshots.
func (s *System) Snapshot() Snapshot {
	s.mu.RLock()
	accounts := make([]AccountSnapshot, 0, len(s.accounts))
	for key, a := range s.accounts {
		if !a.IsLoggedIn() {
			continue
		}
		holdings := a.Holdings()
		rows := make([]uts.HoldingRecord, 0, len(holdings))
		for _, rec := range holdings {
			rows = append(rows, rec)
		}
		accounts = append(accounts, AccountSnapshot{
			AccountName:     key.AccountName,
			BrokerName:      key.BrokerName,
			Capital:         a.Capital(),
			Holding:         rows,
			Trades:          a.Trades(),
			Orders:          orderValues(a.Orders()),
			CommissionRates: a.CommissionRates(),
		})
	}
	feed := s.feed
	s.mu.RUnlock()

	snap := Snapshot{
		AccountInfo:    accounts,
		InstrumentInfo: s.Instruments(),
		MarketData:     map[string]uts.MarketDepth{},
	}
	if feed != nil {
		snap.MarketData = feed.Snapshots()
	}
	return snap
}

// DumpInfo writes the system snapshot to path as indented JSON.
func (s *System) DumpInfo(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
