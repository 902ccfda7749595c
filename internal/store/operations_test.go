package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"options-core/internal/trade"
	"options-core/pkg/db"
)

func newTestStore(t *testing.T) *OperationStore {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	s, err := NewOperationStore(database)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func sampleOp(id string) trade.Operation {
	return trade.Operation{
		ID:         id,
		UserID:     "user-1",
		Symbol:     "EURUSD-OTC",
		Direction:  trade.DirectionUp,
		EntryPrice: 1.2345,
		EntryTime:  1_700_000_000,
		Duration:   30_000,
		ExpiryTime: 1_700_000_030,
		Amount:     decimal.NewFromInt(10),
		Status:     trade.StatusPending,
		Result:     decimal.Zero,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := sampleOp("op-1")
	op.IsMartingale = true
	op.MartingaleLevel = 1
	op.MainOperationID = "op-0"
	if err := s.RecordOperation(ctx, op); err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	got, err := s.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Symbol != op.Symbol || got.Direction != op.Direction || !got.Amount.Equal(op.Amount) {
		t.Errorf("got %+v, want %+v", got, op)
	}
	if !got.IsMartingale || got.MartingaleLevel != 1 || got.MainOperationID != "op-0" {
		t.Errorf("martingale fields lost: %+v", got)
	}
}

func TestRecordOperationIgnoresReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordOperation(ctx, sampleOp("op-1")); err != nil {
		t.Fatal(err)
	}
	replay := sampleOp("op-1")
	replay.Symbol = "GBPUSD"
	if err := s.RecordOperation(ctx, replay); err != nil {
		t.Fatalf("replay insert: %v", err)
	}

	got, err := s.Get(ctx, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Symbol != "EURUSD-OTC" {
		t.Errorf("replay overwrote the original row: %+v", got)
	}
}

func TestRecordResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordOperation(ctx, sampleOp("op-1")); err != nil {
		t.Fatal(err)
	}
	profit := decimal.New(850, -2)
	if err := s.RecordResult(ctx, "op-1", trade.StatusWin, profit); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	got, err := s.Get(ctx, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != trade.StatusWin || !got.Result.Equal(profit) {
		t.Errorf("got %+v, want win 8.50", got)
	}

	if err := s.RecordResult(ctx, "missing", trade.StatusLoss, decimal.Zero); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleOp("op-old")
	older.EntryTime = 1_700_000_000
	newer := sampleOp("op-new")
	newer.EntryTime = 1_700_000_100
	other := sampleOp("op-other")
	other.UserID = "user-2"

	for _, op := range []trade.Operation{older, newer, other} {
		if err := s.RecordOperation(ctx, op); err != nil {
			t.Fatal(err)
		}
	}

	ops, err := s.ListByUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d operations, want 2", len(ops))
	}
	if ops[0].ID != "op-new" || ops[1].ID != "op-old" {
		t.Errorf("order = [%s %s], want newest first", ops[0].ID, ops[1].ID)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
