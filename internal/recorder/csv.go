package recorder

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

var csvHeader = []string{
	"DateTime", "ID", "Open", "High", "Low", "Latest", "TurnOver", "Volume",
	"OpenInterest", "BidPrice1", "BidVolume1", "AskPrice1", "AskVolume1",
}

// CSVWriter appends ticks to one CSV file, all instruments interleaved.
type CSVWriter struct {
	file *os.File
	w    *csv.Writer
}

// NewCSVWriter opens or creates the file, writing the header only once.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv directory: %w", err)
		}
	}
	info, err := os.Stat(path)
	fresh := err != nil || info.Size() == 0

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	cw := &CSVWriter{file: file, w: csv.NewWriter(file)}
	if fresh {
		if err := cw.w.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		cw.w.Flush()
	}
	return cw, nil
}

// WriteBatch appends the ticks and flushes.
func (c *CSVWriter) WriteBatch(_ context.Context, ticks []uts.MarketDepth) error {
	for _, tick := range ticks {
		row := []string{
			tick.UpdateTime,
			tick.InstrumentID,
			formatFloat(tick.OHLC.Open),
			formatFloat(tick.OHLC.High),
			formatFloat(tick.OHLC.Low),
			formatFloat(tick.OHLC.Last),
			formatFloat(tick.OHLC.Turnover),
			fmt.Sprintf("%d", tick.OHLC.Volume),
			fmt.Sprintf("%d", tick.OpenInterest),
			formatFloat(tick.Bid[0].Price),
			fmt.Sprintf("%d", tick.Bid[0].Volume),
			formatFloat(tick.Ask[0].Price),
			fmt.Sprintf("%d", tick.Ask[0].Volume),
		}
		if err := c.w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
