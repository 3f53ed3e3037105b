package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/vehicle-sync/internal/metrics"
	"github.com/rickgao/vehicle-sync/internal/router"
)

const insertPrice = `
	INSERT INTO vehicle_price_history (vehicle_id, price, currency, event_ts, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (vehicle_id, event_ts) DO NOTHING
`

// PriceHistoryWriter consumes PriceMsg from the router buffer and writes
// to the vehicle_price_history table.
type PriceHistoryWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *router.GrowableBuffer[router.PriceMsg]

	// Database
	db Batcher

	// Batching
	batch       []priceRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewPriceHistoryWriter creates a new PriceHistoryWriter.
func NewPriceHistoryWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.PriceMsg],
	db Batcher,
	logger *slog.Logger,
) *PriceHistoryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	return &PriceHistoryWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("component", "price_writer"),
		batch:  make([]priceRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *PriceHistoryWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("price history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing what is buffered.
func (w *PriceHistoryWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping price history writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("price history writer stopped")
	case <-ctx.Done():
		w.logger.Warn("price history writer stop timed out")
	}

	// Pick up anything the consumer had not reached, then final flush.
	for _, msg := range w.input.DrainTo(0) {
		w.add(msg)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *PriceHistoryWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *PriceHistoryWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			msgs := w.input.DrainTo(w.cfg.BatchSize)
			if len(msgs) == 0 {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			for _, msg := range msgs {
				if w.add(msg) {
					w.flush(w.ctx)
				}
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *PriceHistoryWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add transforms msg into the batch and reports whether the batch is full.
func (w *PriceHistoryWriter) add(msg router.PriceMsg) bool {
	row := transform(msg)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a PriceMsg to a priceRow. Timestamps are stored in
// UTC at microsecond precision, the resolution of timestamptz.
func transform(msg router.PriceMsg) priceRow {
	eventTs := msg.Timestamp
	if eventTs.IsZero() {
		eventTs = msg.ReceivedAt
	}
	return priceRow{
		VehicleID:  msg.VehicleID,
		Price:      msg.Price,
		Currency:   msg.Currency,
		EventTs:    eventTs.UTC().Truncate(time.Microsecond),
		ReceivedAt: msg.ReceivedAt.UTC().Truncate(time.Microsecond),
	}
}

// flush writes the current batch to the database.
func (w *PriceHistoryWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]priceRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		metrics.WriterErrors.Inc()
		w.batchMu.Lock()
		w.metrics.Errors++
		w.metrics.Dropped += int64(len(batch))
		w.batchMu.Unlock()
		return
	}

	inserted := len(batch) - conflicts
	metrics.PriceRowsWritten.Add(float64(inserted))

	w.batchMu.Lock()
	w.metrics.Inserts += int64(inserted)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed prices",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *PriceHistoryWriter) batchInsert(ctx context.Context, rows []priceRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertPrice, r.VehicleID, r.Price, r.Currency, r.EventTs, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
