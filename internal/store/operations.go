package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"options-core/internal/trade"
	"options-core/pkg/db"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trade_operations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL DEFAULT 0,
		entry_time INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		expiry_time INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '0',
		is_martingale INTEGER NOT NULL DEFAULT 0,
		martingale_level INTEGER NOT NULL DEFAULT 0,
		main_operation_id TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_operations_user ON trade_operations(user_id, entry_time)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_operations_status ON trade_operations(status)`,
}

// OperationStore persists the operation ledger. It satisfies the trade
// engine's history collaborator.
type OperationStore struct {
	db *db.Database
}

func NewOperationStore(database *db.Database) (*OperationStore, error) {
	if err := database.ApplyMigrations(migrations); err != nil {
		return nil, fmt.Errorf("operation store: %w", err)
	}
	return &OperationStore{db: database}, nil
}

// RecordOperation inserts a freshly placed operation. Replays of the same ID
// are ignored.
func (s *OperationStore) RecordOperation(ctx context.Context, op trade.Operation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_operations
			(id, user_id, symbol, direction, entry_price, entry_time, duration_ms,
			 expiry_time, amount, status, result, is_martingale, martingale_level, main_operation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.UserID, op.Symbol, string(op.Direction), op.EntryPrice, op.EntryTime,
		op.Duration, op.ExpiryTime, op.Amount.String(), string(op.Status),
		op.Result.String(), boolToInt(op.IsMartingale), op.MartingaleLevel, op.MainOperationID)
	if err != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, err)
	}
	return nil
}

// RecordResult writes the terminal status and profit for an operation.
func (s *OperationStore) RecordResult(ctx context.Context, id string, status trade.Status, result decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trade_operations
		SET status = ?, result = ?, updated_at = strftime('%s','now')
		WHERE id = ?`,
		string(status), result.String(), id)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update operation %s: %w", id, db.ErrNotFound)
	}
	return nil
}

// ListByUser returns a user's operations, most recent first.
func (s *OperationStore) ListByUser(ctx context.Context, userID string, limit int) ([]trade.Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, direction, entry_price, entry_time, duration_ms,
		       expiry_time, amount, status, result, is_martingale, martingale_level, main_operation_id
		FROM trade_operations
		WHERE user_id = ?
		ORDER BY entry_time DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []trade.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Get returns one operation by ID.
func (s *OperationStore) Get(ctx context.Context, id string) (trade.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, direction, entry_price, entry_time, duration_ms,
		       expiry_time, amount, status, result, is_martingale, martingale_level, main_operation_id
		FROM trade_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return trade.Operation{}, db.ErrNotFound
	}
	return op, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (trade.Operation, error) {
	var (
		op             trade.Operation
		direction      string
		status         string
		amount, result string
		isMartingale   int
	)
	err := row.Scan(&op.ID, &op.UserID, &op.Symbol, &direction, &op.EntryPrice,
		&op.EntryTime, &op.Duration, &op.ExpiryTime, &amount, &status, &result,
		&isMartingale, &op.MartingaleLevel, &op.MainOperationID)
	if err != nil {
		return trade.Operation{}, err
	}
	op.Direction = trade.Direction(direction)
	op.Status = trade.Status(status)
	op.IsMartingale = isMartingale != 0
	if op.Amount, err = decimal.NewFromString(amount); err != nil {
		return trade.Operation{}, fmt.Errorf("operation %s: bad amount %q: %w", op.ID, amount, err)
	}
	if op.Result, err = decimal.NewFromString(result); err != nil {
		return trade.Operation{}, fmt.Errorf("operation %s: bad result %q: %w", op.ID, result, err)
	}
	return op, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
