package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/database"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres implementation of ports.Store, ports.Catalog and ports.ShippingRates.
type Store struct {
	pool    *pgxpool.Pool
	q       querier
	inTx    bool
	metrics *database.Metrics
}

// NewStore builds a store on pool. metrics may be nil.
func NewStore(pool *pgxpool.Pool, metrics *database.Metrics) *Store {
	return &Store{pool: pool, q: pool, metrics: metrics}
}

// WithinTx runs fn in a read-committed transaction. Nested calls reuse the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &Store{pool: s.pool, q: tx, inTx: true, metrics: s.metrics}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Orders() ports.OrderRepository { return &orderRepository{s: s} }

func (s *Store) Payments() ports.PaymentRepository { return &paymentRepository{s: s} }

func (s *Store) Inventory() ports.InventoryLedger { return &ledger{s: s} }

func (s *Store) observe(ctx context.Context, operation string, start time.Time, err *error) {
	s.metrics.Observe(ctx, operation, start, *err)
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}
