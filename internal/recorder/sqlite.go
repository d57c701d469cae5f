package recorder

import (
	"context"

	"github.com/jicewarwick/OpenUTS/pkg/db"
	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// SQLiteWriter archives tick batches into the sqlite tick store.
type SQLiteWriter struct {
	database *db.Database
	queries  *db.Queries
}

// NewSQLiteWriter opens the archive at path.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	database, err := db.New(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteWriter{database: database, queries: db.NewQueries(database.DB)}, nil
}

// WriteBatch inserts the ticks in one transaction.
func (s *SQLiteWriter) WriteBatch(ctx context.Context, ticks []uts.MarketDepth) error {
	rows := make([]db.TickRow, len(ticks))
	for i, tick := range ticks {
		rows[i] = db.RowOf(tick)
	}
	return s.queries.InsertTicks(ctx, rows)
}

// Close closes the underlying database.
func (s *SQLiteWriter) Close() error { return s.database.Close() }
