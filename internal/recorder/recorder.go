// Package recorder persists the market-data stream. A queued recorder
// decouples gateway callbacks from storage latency; writers archive batches
// to CSV or sqlite.
package recorder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

const (
	defaultQueueDepth = 4096
	defaultBatchSize  = 64
	defaultInterval   = 500 * time.Millisecond
)

// Writer persists one batch of ticks.
type Writer interface {
	WriteBatch(ctx context.Context, ticks []uts.MarketDepth) error
	Close() error
}

// Queued buffers ticks from the feed callback and writes them from its own
// goroutine in size- or time-bounded batches. The feed is never blocked: when
// the queue is full the tick is dropped and counted.
type Queued struct {
	writer   Writer
	log      zerolog.Logger
	queue    chan uts.MarketDepth
	stop     chan struct{}
	done     chan struct{}
	batch    int
	interval time.Duration
	dropped  atomic.Int64
}

// NewQueued starts the worker. batch and interval fall back to defaults when
// non-positive.
func NewQueued(writer Writer, batch int, interval time.Duration, log zerolog.Logger) *Queued {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	q := &Queued{
		writer:   writer,
		log:      log.With().Str("component", "recorder").Logger(),
		queue:    make(chan uts.MarketDepth, defaultQueueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		batch:    batch,
		interval: interval,
	}
	go q.run()
	return q
}

// Write enqueues one tick. Never blocks.
func (q *Queued) Write(tick uts.MarketDepth) error {
	select {
	case q.queue <- tick:
	default:
		if n := q.dropped.Add(1); n%1000 == 1 {
			q.log.Warn().Int64("dropped", n).Msg("recorder queue full")
		}
	}
	return nil
}

// Dropped returns the number of ticks lost to a full queue.
func (q *Queued) Dropped() int64 { return q.dropped.Load() }

func (q *Queued) run() {
	defer close(q.done)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	buf := make([]uts.MarketDepth, 0, q.batch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := q.writer.WriteBatch(context.Background(), buf); err != nil {
			q.log.Error().Err(err).Int("batch", len(buf)).Msg("tick batch write failed")
		}
		buf = buf[:0]
	}

	for {
		select {
		case tick := <-q.queue:
			buf = append(buf, tick)
			if len(buf) >= q.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-q.stop:
			for {
				select {
				case tick := <-q.queue:
					buf = append(buf, tick)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close drains the queue, flushes the final batch and closes the writer.
func (q *Queued) Close() error {
	close(q.stop)
	<-q.done
	return q.writer.Close()
}
