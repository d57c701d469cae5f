package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS tickdata (
    datetime TEXT NOT NULL,
    id TEXT NOT NULL,
    open REAL,
    high REAL,
    low REAL,
    latest REAL,
    turnover REAL,
    volume INTEGER,
    open_interest INTEGER,
    bid_price1 REAL,
    bid_volume1 INTEGER,
    ask_price1 REAL,
    ask_volume1 INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tickdata_id_datetime ON tickdata(id, datetime);
`

// Init applies the schema. Statements are idempotent so it runs on every open.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
