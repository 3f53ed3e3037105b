package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig holds batch writer configuration.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Batcher sends a batch of queued statements. *pgxpool.Pool implements it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// priceRow represents a row of the vehicle_price_history table.
type priceRow struct {
	VehicleID  string
	Price      float64
	Currency   string
	EventTs    time.Time
	ReceivedAt time.Time
}

// WriterMetrics contains writer counters.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64 // rows already present
	Errors    int64 // failed batches
	Dropped   int64 // rows lost with failed batches
	Flushes   int64
}
