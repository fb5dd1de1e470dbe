package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/strrl/viralscope/internal/signals"
)

func makeTrends(n int) []signals.TrendRecord {
	out := make([]signals.TrendRecord, n)
	for i := range out {
		out[i] = signals.TrendRecord{
			Topic:      fmt.Sprintf("topic-%03d", i),
			VideoCount: 1,
			Phase:      signals.PhaseDeclining,
		}
	}
	return out
}

func TestUpsertBatches_IsolatesFailures(t *testing.T) {
	records := makeTrends(120)
	var calls []int

	result, err := upsertBatches(context.Background(), records, 50, func(_ context.Context, batch []signals.TrendRecord) error {
		calls = append(calls, len(batch))
		if batch[0].Topic == "topic-050" {
			return errors.New("constraint violation")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("upsertBatches() error = %v", err)
	}

	if len(calls) != 3 || calls[0] != 50 || calls[1] != 50 || calls[2] != 20 {
		t.Errorf("batch sizes = %v, want [50 50 20]", calls)
	}
	if result.Upserted != 70 || result.Failed != 50 {
		t.Errorf("result = %+v, want 70 upserted 50 failed", result)
	}
	if len(result.FailedBatches) != 1 {
		t.Fatalf("failed batches = %d, want 1", len(result.FailedBatches))
	}
	fb := result.FailedBatches[0]
	if fb.Offset != 50 || len(fb.Topics) != 50 || fb.Topics[0] != "topic-050" {
		t.Errorf("failed batch = offset %d, %d topics starting %s", fb.Offset, len(fb.Topics), fb.Topics[0])
	}
}

func TestUpsertBatches_Empty(t *testing.T) {
	result, err := upsertBatches(context.Background(), nil, 50, func(context.Context, []signals.TrendRecord) error {
		t.Fatal("write called for empty input")
		return nil
	})
	if err != nil || result.Upserted != 0 || result.Failed != 0 {
		t.Errorf("got (%+v, %v), want zero result", result, err)
	}
}

func TestUpsertBatches_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	records := makeTrends(100)

	result, err := upsertBatches(ctx, records, 50, func(context.Context, []signals.TrendRecord) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.Upserted != 50 || result.Failed != 50 {
		t.Errorf("result = %+v, want 50 upserted 50 failed", result)
	}
}

func TestLocalLocker(t *testing.T) {
	l := newLocalLocker()
	ctx := context.Background()

	release, err := l.TryLock(ctx, "trends")
	if err != nil {
		t.Fatalf("first TryLock() error = %v", err)
	}

	if _, err := l.TryLock(ctx, "trends"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second TryLock() error = %v, want ErrJobRunning", err)
	}

	other, err := l.TryLock(ctx, "calibration")
	if err != nil {
		t.Fatalf("independent job TryLock() error = %v", err)
	}
	other()

	release()
	release()

	again, err := l.TryLock(ctx, "trends")
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again()
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), configWithDriver("sqlite"), 50)
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Errorf("Open() error = %v, want ErrUnsupportedDriver", err)
	}
}

var storeNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
