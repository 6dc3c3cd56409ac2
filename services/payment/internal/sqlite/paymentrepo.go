// Package sqlite stores payments in a single SQLite file through the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/enums/paymentmethod"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/services/payment/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.999999999Z"

// Amounts are TEXT so decimals survive without float rounding.
const schema = `
CREATE TABLE IF NOT EXISTS payments (
    id                  TEXT PRIMARY KEY,
    order_id            TEXT NOT NULL,
    user_id             TEXT NOT NULL,
    user_email          TEXT NOT NULL DEFAULT '',
    amount              TEXT NOT NULL,
    currency            TEXT NOT NULL,
    status              TEXT NOT NULL,
    payment_method      TEXT NOT NULL DEFAULT '',
    receipt             TEXT NOT NULL,
    provider_order_id   TEXT NOT NULL UNIQUE,
    provider_payment_id TEXT NOT NULL DEFAULT '',
    failure_reason      TEXT NOT NULL DEFAULT '',
    refund_amount       TEXT NOT NULL DEFAULT '0',
    provider_refund_id  TEXT NOT NULL DEFAULT '',
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL,
    completed_at        TEXT
);

CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id, created_at);
`

const columns = `id, order_id, user_id, user_email, amount, currency, status, payment_method, receipt,
	provider_order_id, provider_payment_id, failure_reason, refund_amount, provider_refund_id,
	created_at, updated_at, completed_at`

type PaymentRepo struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*PaymentRepo, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// One writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &PaymentRepo{db: db}, nil
}

func (r *PaymentRepo) Start(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PaymentRepo) Stop(context.Context) error {
	return r.db.Close()
}

func (r *PaymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	q := `INSERT INTO payments (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		p.ID.String(),
		p.OrderID,
		p.UserID,
		p.UserEmail,
		p.Amount.String(),
		p.Currency,
		p.Status.Code(),
		p.Method.Code(),
		p.Receipt,
		p.ProviderOrderID,
		p.ProviderPaymentID,
		p.FailureReason,
		p.RefundAmount.String(),
		p.ProviderRefundID,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
		nullableTime(p.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: provider order %s", payment.ErrPaymentExists, p.ProviderOrderID)
		}
		return fmt.Errorf("sqlite: insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepo) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM payments WHERE id = ?`, id.String())
	return scanOne(row)
}

func (r *PaymentRepo) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*payment.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM payments WHERE provider_order_id = ?`, providerOrderID)
	return scanOne(row)
}

func (r *PaymentRepo) ListByOrderID(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM payments WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list payments of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepo) Save(ctx context.Context, p *payment.Payment) error {
	const q = `
		UPDATE payments SET
			status = ?, payment_method = ?, provider_payment_id = ?, failure_reason = ?,
			refund_amount = ?, provider_refund_id = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, q,
		p.Status.Code(),
		p.Method.Code(),
		p.ProviderPaymentID,
		p.FailureReason,
		p.RefundAmount.String(),
		p.ProviderRefundID,
		formatTime(p.UpdatedAt),
		nullableTime(p.CompletedAt),
		p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update payment %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update payment %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: payment %s", core.ErrNotFound, p.ID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOne(row *sql.Row) (*payment.Payment, error) {
	p, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scan(s scanner) (*payment.Payment, error) {
	var (
		id, amount, status, method, refund string
		created, updated                   string
		completed                          sql.NullString
		p                                  payment.Payment
	)

	err := s.Scan(&id, &p.OrderID, &p.UserID, &p.UserEmail, &amount, &p.Currency, &status, &method, &p.Receipt,
		&p.ProviderOrderID, &p.ProviderPaymentID, &p.FailureReason, &refund, &p.ProviderRefundID,
		&created, &updated, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan payment: %w", err)
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("sqlite: payment id %q: %w", id, err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("sqlite: payment %s amount: %w", id, err)
	}
	if p.RefundAmount, err = decimal.NewFromString(refund); err != nil {
		return nil, fmt.Errorf("sqlite: payment %s refund amount: %w", id, err)
	}

	var ok bool
	if p.Status, ok = paymentstatus.ByName(status); !ok {
		return nil, fmt.Errorf("sqlite: payment %s has unknown status %q", id, status)
	}
	if method != "" {
		if p.Method, ok = paymentmethod.ByName(method); !ok {
			return nil, fmt.Errorf("sqlite: payment %s has unknown method %q", id, method)
		}
	}

	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		p.CompletedAt = &t
	}
	return &p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
