package events

import "github.com/jicewarwick/OpenUTS/pkg/uts"

// Event enumerates the topics published inside the trading core.
type Event string

const (
	EventTick          Event = "market.tick"
	EventOrderUpdate   Event = "order.update"
	EventTrade         Event = "order.trade"
	EventAccountStatus Event = "account.status"
	EventCapitalUpdate Event = "account.capital"
)

// OrderUpdate is the payload of EventOrderUpdate.
type OrderUpdate struct {
	Account uts.AccountKey  `json:"account"`
	Order   uts.OrderRecord `json:"order"`
}

// Trade is the payload of EventTrade.
type Trade struct {
	Account uts.AccountKey    `json:"account"`
	Fill    uts.TradingRecord `json:"fill"`
}

// AccountStatus is the payload of EventAccountStatus.
type AccountStatus struct {
	Account uts.AccountKey `json:"account"`
	Status  string         `json:"status"`
}

// CapitalUpdate is the payload of EventCapitalUpdate.
type CapitalUpdate struct {
	Account uts.AccountKey  `json:"account"`
	Capital uts.CapitalInfo `json:"capital"`
}
