package db

// TickRow is one archived depth snapshot, flattened to the first book level.
type TickRow struct {
	DateTime     string
	InstrumentID string
	Open         float64
	High         float64
	Low          float64
	Latest       float64
	Turnover     float64
	Volume       int
	OpenInterest int
	BidPrice1    float64
	BidVolume1   int
	AskPrice1    float64
	AskVolume1   int
}
