package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/vehicle-sync/internal/router"
)

// memBatcher emulates the primary key of vehicle_price_history.
type memBatcher struct {
	mu      sync.Mutex
	rows    map[string]priceRow
	batches int
	fail    error
}

func newMemBatcher() *memBatcher {
	return &memBatcher{rows: make(map[string]priceRow)}
}

func (m *memBatcher) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++

	res := &memResults{}
	for _, q := range b.QueuedQueries {
		if m.fail != nil {
			res.errs = append(res.errs, m.fail)
			continue
		}
		row := priceRow{
			VehicleID:  q.Arguments[0].(string),
			Price:      q.Arguments[1].(float64),
			Currency:   q.Arguments[2].(string),
			EventTs:    q.Arguments[3].(time.Time),
			ReceivedAt: q.Arguments[4].(time.Time),
		}
		key := row.VehicleID + "@" + row.EventTs.String()
		if _, dup := m.rows[key]; dup {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
		} else {
			m.rows[key] = row
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
		}
		res.errs = append(res.errs, nil)
	}
	return res
}

func (m *memBatcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memResults struct {
	tags []pgconn.CommandTag
	errs []error
	i    int
}

func (r *memResults) Exec() (pgconn.CommandTag, error) {
	if r.i >= len(r.errs) {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	i := r.i
	r.i++
	if r.errs[i] != nil {
		return pgconn.CommandTag{}, r.errs[i]
	}
	return r.tags[i], nil
}

func (r *memResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *memResults) QueryRow() pgx.Row        { return nil }
func (r *memResults) Close() error             { return nil }

func TestTransform(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("JST", 9*3600))
	received := ts.Add(50 * time.Millisecond)

	row := transform(router.PriceMsg{
		VehicleID:  "42",
		Price:      1500000,
		Currency:   "JPY",
		Timestamp:  ts,
		ReceivedAt: received,
	})

	if row.VehicleID != "42" || row.Price != 1500000 || row.Currency != "JPY" {
		t.Errorf("row = %+v", row)
	}
	if row.EventTs.Location() != time.UTC {
		t.Errorf("EventTs location = %v, want UTC", row.EventTs.Location())
	}
	if row.EventTs.Nanosecond() != 123456000 {
		t.Errorf("EventTs nanos = %d, want truncated to microseconds", row.EventTs.Nanosecond())
	}
	if !row.ReceivedAt.Equal(received.Truncate(time.Microsecond)) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, received)
	}
}

func TestTransform_MissingTimestamp(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := transform(router.PriceMsg{VehicleID: "42", Price: 1, ReceivedAt: received})

	if !row.EventTs.Equal(received) {
		t.Errorf("EventTs = %v, want ReceivedAt %v", row.EventTs, received)
	}
}

func TestNewPriceHistoryWriter_Defaults(t *testing.T) {
	w := NewPriceHistoryWriter(WriterConfig{}, router.NewGrowableBuffer[router.PriceMsg](4, 0), nil, nil)
	if w.cfg != DefaultWriterConfig() {
		t.Errorf("cfg = %+v, want defaults", w.cfg)
	}
}

func TestPriceHistoryWriter_FlushOnBatchSize(t *testing.T) {
	db := newMemBatcher()
	input := router.NewGrowableBuffer[router.PriceMsg](16, 0)
	w := NewPriceHistoryWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		input.Send(router.PriceMsg{VehicleID: "42", Price: float64(1000 + i), Timestamp: base.Add(time.Duration(i) * time.Second), ReceivedAt: base})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && db.count() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.count(); got != 3 {
		t.Fatalf("rows = %d, want 3", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)

	stats := w.Stats()
	if stats.Inserts != 3 || stats.Flushes != 1 {
		t.Errorf("Stats() = %+v, want 3 inserts in 1 flush", stats)
	}
}

func TestPriceHistoryWriter_StopFlushesRemainder(t *testing.T) {
	db := newMemBatcher()
	input := router.NewGrowableBuffer[router.PriceMsg](16, 0)
	w := NewPriceHistoryWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	input.Send(router.PriceMsg{VehicleID: "1", Price: 10, Timestamp: base, ReceivedAt: base})
	input.Send(router.PriceMsg{VehicleID: "2", Price: 20, Timestamp: base, ReceivedAt: base})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := db.count(); got != 2 {
		t.Errorf("rows = %d, want 2 after final flush", got)
	}
}

func TestPriceHistoryWriter_Conflicts(t *testing.T) {
	db := newMemBatcher()
	w := NewPriceHistoryWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, router.NewGrowableBuffer[router.PriceMsg](4, 0), db, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := router.PriceMsg{VehicleID: "42", Price: 10, Timestamp: base, ReceivedAt: base}

	w.add(msg)
	w.add(msg)
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Inserts != 1 || stats.Conflicts != 1 {
		t.Errorf("Stats() = %+v, want 1 insert and 1 conflict", stats)
	}
}

func TestPriceHistoryWriter_FailedBatchIsDropped(t *testing.T) {
	db := newMemBatcher()
	db.fail = errors.New("connection refused")
	w := NewPriceHistoryWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, router.NewGrowableBuffer[router.PriceMsg](4, 0), db, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.add(router.PriceMsg{VehicleID: "42", Price: 10, Timestamp: base, ReceivedAt: base})
	w.add(router.PriceMsg{VehicleID: "43", Price: 10, Timestamp: base, ReceivedAt: base})
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 || stats.Dropped != 2 || stats.Inserts != 0 {
		t.Errorf("Stats() = %+v, want 1 error with 2 dropped rows", stats)
	}

	// The failed batch is not retried on the next flush.
	db.fail = nil
	w.flush(context.Background())
	if db.batches != 1 {
		t.Errorf("batches sent = %d, want 1", db.batches)
	}
}
