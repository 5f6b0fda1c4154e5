package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `
	id, code, customer_id, customer_email, state, currency,
	subtotal, shipping_cost, tax, total, shipping_method,
	shipping_address, billing_address,
	COALESCE(provider_reference, ''), COALESCE(cancel_reason, ''),
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.Code,
		&order.CustomerID,
		&order.CustomerEmail,
		&order.State,
		&order.Currency,
		&order.Subtotal,
		&order.ShippingCost,
		&order.Tax,
		&order.Total,
		&order.ShippingMethod,
		&order.ShippingAddress,
		&order.BillingAddress,
		&order.ProviderReference,
		&order.CancelReason,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

type orderRepository struct {
	s *Store
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	defer r.s.observe(ctx, "create_order", time.Now(), &err)

	query := `
		INSERT INTO orders (
			id, code, customer_id, customer_email, state, currency,
			subtotal, shipping_cost, tax, total, shipping_method,
			shipping_address, billing_address, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.s.q.Exec(ctx, query,
		order.ID,
		order.Code,
		order.CustomerID,
		order.CustomerEmail,
		order.State,
		order.Currency,
		order.Subtotal,
		order.ShippingCost,
		order.Tax,
		order.Total,
		order.ShippingMethod,
		order.ShippingAddress,
		order.BillingAddress,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `
		INSERT INTO order_lines (order_id, variant_id, name, quantity, unit_price, line_total, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i, line := range order.Lines {
		if _, err = r.s.q.Exec(ctx, lineQuery,
			order.ID, line.VariantID, line.Name, line.Quantity, line.UnitPrice, line.LineTotal, i,
		); err != nil {
			return fmt.Errorf("insert order line %s: %w", line.VariantID, err)
		}
	}

	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, "get_order", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetForUpdate holds a row lock on the order until the surrounding transaction ends.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, "get_order_for_update", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepository) get(ctx context.Context, operation, query, id string) (order *domain.Order, err error) {
	defer r.s.observe(ctx, operation, time.Now(), &err)

	order, err = scanOrder(r.s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.lines(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[id]
	return order, nil
}

func (r *orderRepository) lines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	query := `
		SELECT order_id, variant_id, name, quantity, unit_price, line_total
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`

	rows, err := r.s.q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.OrderID,
			&line.VariantID,
			&line.Name,
			&line.Quantity,
			&line.UnitPrice,
			&line.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		result[line.OrderID] = append(result[line.OrderID], line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return result, nil
}

func (r *orderRepository) List(ctx context.Context, filter ports.ListFilter) (orders []domain.Order, err error) {
	defer r.s.observe(ctx, "list_orders", time.Now(), &err)

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR state = $1)
		  AND ($2::text = '' OR customer_id = $2)
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4
	`

	var stateFilter *string
	if filter.State != nil {
		s := string(*filter.State)
		stateFilter = &s
	}

	offset := (page - 1) * pageSize

	rows, err := r.s.q.Query(ctx, query, stateFilter, filter.CustomerID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders = []domain.Order{}
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return orders, nil
	}
	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}

	return orders, nil
}

func (r *orderRepository) UpdateState(ctx context.Context, change ports.StateChange) (applied bool, err error) {
	defer r.s.observe(ctx, "update_order_state", time.Now(), &err)

	var cancelReason *string
	if change.To == domain.StateCancelled {
		cancelReason = &change.Reason
	}

	query := `
		UPDATE orders
		SET state = $1, updated_at = $2, cancel_reason = COALESCE($3, cancel_reason)
		WHERE id = $4 AND state = $5
	`

	result, err := r.s.q.Exec(ctx, query, change.To, change.At, cancelReason, change.OrderID, change.From)
	if err != nil {
		return false, fmt.Errorf("update order state: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.s.exists(ctx, `SELECT 1 FROM orders WHERE id = $1`, change.OrderID)
}

func (r *orderRepository) SetProviderReference(ctx context.Context, id, reference string, at time.Time) (err error) {
	defer r.s.observe(ctx, "set_provider_reference", time.Now(), &err)

	query := `
		UPDATE orders
		SET provider_reference = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.s.q.Exec(ctx, query, reference, at, id)
	if err != nil {
		return fmt.Errorf("update provider reference: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ports.ErrNotFound
	}

	return nil
}

// exists returns ErrNotFound when query yields no row.
func (s *Store) exists(ctx context.Context, query string, args ...any) error {
	var one int
	err := s.q.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	return nil
}

const paymentColumns = `
	id, order_id, provider, provider_reference, state, amount, currency,
	created_at, updated_at, settled_at`

func scanPayment(row scanner) (*domain.Payment, error) {
	var payment domain.Payment
	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Provider,
		&payment.ProviderReference,
		&payment.State,
		&payment.Amount,
		&payment.Currency,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&payment.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

type paymentRepository struct {
	s *Store
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) (err error) {
	defer r.s.observe(ctx, "create_payment", time.Now(), &err)

	query := `
		INSERT INTO payments (id, order_id, provider, provider_reference, state, amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.s.q.Exec(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.Provider,
		payment.ProviderReference,
		payment.State,
		payment.Amount,
		payment.Currency,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	switch code, constraint := pgErrorCode(err); {
	case err == nil:
		return nil
	case code == codeUniqueViolation && constraint == "payments_provider_reference_key":
		return ports.ErrDuplicateReference
	case code == codeForeignKeyViolation:
		return fmt.Errorf("insert payment: order %s: %w", payment.OrderID, ports.ErrNotFound)
	default:
		return fmt.Errorf("insert payment: %w", err)
	}
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (payment *domain.Payment, err error) {
	defer r.s.observe(ctx, "get_payment_by_reference", time.Now(), &err)

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_reference = $1`

	payment, err = scanPayment(r.s.q.QueryRow(ctx, query, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) (payments []domain.Payment, err error) {
	defer r.s.observe(ctx, "list_payments", time.Now(), &err)

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at, id`

	rows, err := r.s.q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

// MarkSettled relies on the partial unique index payments_one_settled_per_order to refuse a
// second settled payment for the same order.
func (r *paymentRepository) MarkSettled(ctx context.Context, id string, at time.Time) (applied bool, err error) {
	defer r.s.observe(ctx, "mark_payment_settled", time.Now(), &err)

	query := `
		UPDATE payments
		SET state = 'SETTLED', updated_at = $2, settled_at = $2
		WHERE id = $1 AND state <> 'SETTLED'
	`

	result, err := r.s.q.Exec(ctx, query, id, at)
	if code, constraint := pgErrorCode(err); code == codeUniqueViolation && constraint == "payments_one_settled_per_order" {
		return false, ports.ErrDuplicateSettlement
	}
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.s.exists(ctx, `SELECT 1 FROM payments WHERE id = $1`, id)
}

func (r *paymentRepository) MarkFailed(ctx context.Context, id string, at time.Time) (applied bool, err error) {
	defer r.s.observe(ctx, "mark_payment_failed", time.Now(), &err)

	query := `
		UPDATE payments
		SET state = 'FAILED', updated_at = $2
		WHERE id = $1 AND state = 'PENDING'
	`

	result, err := r.s.q.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("fail payment: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.s.exists(ctx, `SELECT 1 FROM payments WHERE id = $1`, id)
}
