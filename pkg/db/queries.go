package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

const insertTick = `
INSERT INTO tickdata (datetime, id, open, high, low, latest, turnover, volume,
    open_interest, bid_price1, bid_volume1, ask_price1, ask_volume1)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Queries reads and writes the tick archive.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// RowOf flattens a depth snapshot to its archived form.
func RowOf(tick uts.MarketDepth) TickRow {
	return TickRow{
		DateTime:     tick.UpdateTime,
		InstrumentID: tick.InstrumentID,
		Open:         tick.OHLC.Open,
		High:         tick.OHLC.High,
		Low:          tick.OHLC.Low,
		Latest:       tick.OHLC.Last,
		Turnover:     tick.OHLC.Turnover,
		Volume:       tick.OHLC.Volume,
		OpenInterest: tick.OpenInterest,
		BidPrice1:    tick.Bid[0].Price,
		BidVolume1:   tick.Bid[0].Volume,
		AskPrice1:    tick.Ask[0].Price,
		AskVolume1:   tick.Ask[0].Volume,
	}
}

// InsertTicks writes a batch of rows in one transaction.
func (q *Queries) InsertTicks(ctx context.Context, rows []TickRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertTick)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare tick insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.DateTime, row.InstrumentID, row.Open, row.High, row.Low,
			row.Latest, row.Turnover, row.Volume, row.OpenInterest,
			row.BidPrice1, row.BidVolume1, row.AskPrice1, row.AskVolume1)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert tick: %w", err)
		}
	}
	return tx.Commit()
}

// RecentTicks returns the latest rows for one instrument, newest first.
func (q *Queries) RecentTicks(ctx context.Context, instrumentID string, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT datetime, id, open, high, low, latest, turnover, volume,
		       open_interest, bid_price1, bid_volume1, ask_price1, ask_volume1
		FROM tickdata
		WHERE id = ?
		ORDER BY datetime DESC
		LIMIT ?
	`, instrumentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var r TickRow
		err := rows.Scan(&r.DateTime, &r.InstrumentID, &r.Open, &r.High, &r.Low,
			&r.Latest, &r.Turnover, &r.Volume, &r.OpenInterest,
			&r.BidPrice1, &r.BidVolume1, &r.AskPrice1, &r.AskVolume1)
		if err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountTicks returns the number of archived rows for one instrument.
func (q *Queries) CountTicks(ctx context.Context, instrumentID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickdata WHERE id = ?`, instrumentID).Scan(&n)
	return n, err
}
