package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrPoolNotFound  = errors.New("stock pool not found")
)

// Tx is an open storage transaction. Rollback after Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository methods taking a Tx run inside that transaction and must not be
// mixed with calls that open their own.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	// LockCart returns the user's cart id and staged items, or uuid.Nil when
	// the user has no cart yet.
	LockCart(ctx context.Context, tx Tx, userID uuid.UUID) (uuid.UUID, []cart.Item, error)
	// LockProducts locks products and their variants in ascending id order.
	LockProducts(ctx context.Context, tx Tx, ids []uuid.UUID) ([]catalog.Product, error)
	// DeductStock fails with *stock.InsufficientStockError instead of letting
	// the pool go negative.
	DeductStock(ctx context.Context, tx Tx, ref stock.PoolRef, amount decimal.Decimal) error
	RestoreStock(ctx context.Context, tx Tx, ref stock.PoolRef, amount decimal.Decimal) error
	RecordMovement(ctx context.Context, tx Tx, m stock.Movement) error

	InsertOrder(ctx context.Context, tx Tx, o *Order) error
	InsertLine(ctx context.Context, tx Tx, line *Line) error
	ClearCart(ctx context.Context, tx Tx, cartID uuid.UUID) error

	GetOrderForUpdate(ctx context.Context, tx Tx, orderID uuid.UUID) (*Order, error)
	HasCancellation(ctx context.Context, tx Tx, orderID uuid.UUID) (bool, error)
	UpdateOrderStatus(ctx context.Context, tx Tx, orderID uuid.UUID, newStatus OrderStatus) error
	CreateCancellation(ctx context.Context, tx Tx, c *Cancellation) error

	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
}

type postgresRepository struct {
	db     *pgxpool.Pool
	reader *sqlx.DB
}

// NewRepository writes through pgx and serves order reads through sqlx.
func NewRepository(db *pgxpool.Pool, reader *sqlx.DB) Repository {
	return &postgresRepository{db: db, reader: reader}
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func pgTx(tx Tx) pgx.Tx {
	return tx.(*postgresTx).tx
}

// mapPgError turns lost races into a retryable stock conflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return &stock.ConflictError{Err: err}
		}
	}
	return err
}

func (r *postgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

func (r *postgresRepository) LockCart(ctx context.Context, tx Tx, userID uuid.UUID) (uuid.UUID, []cart.Item, error) {
	// Сначала строка корзины, потом её позиции, всё до блокировки товаров
	var cartID uuid.UUID
	err := pgTx(tx).QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, nil, nil
		}
		return uuid.Nil, nil, fmt.Errorf("repository: failed to lock cart for user %s: %w", userID, mapPgError(err))
	}

	query := `
		SELECT id, cart_id, product_id, unit_size, count, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at, id
		FOR UPDATE
	`
	rows, err := pgTx(tx).Query(ctx, query, cartID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("repository: failed to lock cart items for cart %s: %w", cartID, mapPgError(err))
	}
	defer rows.Close()

	items := make([]cart.Item, 0)
	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.UnitSize, &it.Count, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return uuid.Nil, nil, fmt.Errorf("repository: failed to scan cart item for cart %s: %w", cartID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, nil, fmt.Errorf("repository: failed iterating cart items for cart %s: %w", cartID, mapPgError(err))
	}

	return cartID, items, nil
}

func (r *postgresRepository) LockProducts(ctx context.Context, tx Tx, ids []uuid.UUID) ([]catalog.Product, error) {
	products, err := catalog.SelectProducts(ctx, pgTx(tx), ids, true)
	if err != nil {
		return nil, mapPgError(err)
	}
	return products, nil
}

func (r *postgresRepository) DeductStock(ctx context.Context, tx Tx, ref stock.PoolRef, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deduct %s", stock.ErrInvalidAmount, amount)
	}

	var (
		cmdTag pgconn.CommandTag
		err    error
	)
	now := time.Now().UTC()
	// Условие stock_quantity >= $1 не даёт уйти в минус даже без FOR UPDATE
	if ref.IsVariant() {
		cmdTag, err = pgTx(tx).Exec(ctx, `
			UPDATE product_variants
			SET stock_quantity = stock_quantity - $1, updated_at = $2
			WHERE id = $3 AND product_id = $4 AND stock_quantity >= $1
		`, amount, now, ref.VariantID, ref.ProductID)
	} else {
		cmdTag, err = pgTx(tx).Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = $2
			WHERE id = $3 AND stock_quantity >= $1
		`, amount, now, ref.ProductID)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return &stock.InsufficientStockError{Pool: ref, Requested: amount}
		}
		return fmt.Errorf("repository: failed to deduct stock from %s: %w", ref, mapPgError(err))
	}

	if cmdTag.RowsAffected() == 0 { // не хватило, читаем остаток для ответа
		available, err := r.available(ctx, tx, ref)
		if err != nil {
			return err
		}
		return &stock.InsufficientStockError{Pool: ref, Requested: amount, Available: available}
	}

	return nil
}

func (r *postgresRepository) available(ctx context.Context, tx Tx, ref stock.PoolRef) (decimal.Decimal, error) {
	var (
		available decimal.Decimal
		err       error
	)
	if ref.IsVariant() {
		err = pgTx(tx).QueryRow(ctx, `SELECT stock_quantity FROM product_variants WHERE id = $1 AND product_id = $2`,
			ref.VariantID, ref.ProductID).Scan(&available)
	} else {
		err = pgTx(tx).QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, ref.ProductID).Scan(&available)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("repository: %s: %w", ref, ErrPoolNotFound)
		}
		return decimal.Zero, fmt.Errorf("repository: failed to read stock of %s: %w", ref, mapPgError(err))
	}
	return available, nil
}

func (r *postgresRepository) RestoreStock(ctx context.Context, tx Tx, ref stock.PoolRef, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: restore %s", stock.ErrInvalidAmount, amount)
	}

	var (
		cmdTag pgconn.CommandTag
		err    error
	)
	now := time.Now().UTC()
	if ref.IsVariant() {
		cmdTag, err = pgTx(tx).Exec(ctx, `
			UPDATE product_variants
			SET stock_quantity = stock_quantity + $1, updated_at = $2
			WHERE id = $3 AND product_id = $4
		`, amount, now, ref.VariantID, ref.ProductID)
	} else {
		cmdTag, err = pgTx(tx).Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $1, updated_at = $2
			WHERE id = $3
		`, amount, now, ref.ProductID)
	}
	if err != nil {
		return fmt.Errorf("repository: failed to restore stock to %s: %w", ref, mapPgError(err))
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("repository: %s: %w", ref, ErrPoolNotFound)
	}
	return nil
}

func nullVariant(ref stock.PoolRef) uuid.NullUUID {
	if ref.IsVariant() {
		return uuid.NullUUID{UUID: ref.VariantID, Valid: true}
	}
	return uuid.NullUUID{}
}

func poolRef(kind string, productID uuid.UUID, variantID uuid.NullUUID) stock.PoolRef {
	if stock.Kind(kind) == stock.KindVariant && variantID.Valid {
		return stock.VariantPool(productID, variantID.UUID)
	}
	return stock.ProductPool(productID)
}

func (r *postgresRepository) RecordMovement(ctx context.Context, tx Tx, m stock.Movement) error {
	query := `
		INSERT INTO stock_movements (id, pool_kind, product_id, variant_id, order_id, quantity, movement_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := pgTx(tx).Exec(ctx, query,
		m.ID,
		m.Pool.Kind.String(),
		m.Pool.ProductID,
		nullVariant(m.Pool),
		m.OrderID,
		m.Quantity,
		string(m.Type),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert stock movement for order %s: %w", m.OrderID, mapPgError(err))
	}
	return nil
}

func (r *postgresRepository) InsertOrder(ctx context.Context, tx Tx, o *Order) error {
	query := `
		INSERT INTO orders (id, user_id, shipping_address, city, state, pincode, total_amount, status, payment_method, is_paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := pgTx(tx).Exec(ctx, query,
		o.ID,
		o.UserID,
		o.ShippingAddress,
		o.City,
		o.State,
		o.Pincode,
		o.TotalAmount,
		string(o.Status),
		string(o.PaymentMethod),
		o.IsPaid,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order %s: %w", o.ID, mapPgError(err))
	}
	return nil
}

func (r *postgresRepository) InsertLine(ctx context.Context, tx Tx, line *Line) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, pool_kind, variant_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := pgTx(tx).Exec(ctx, query,
		line.ID,
		line.OrderID,
		line.ProductID,
		line.ProductName,
		line.Quantity,
		line.UnitPrice,
		line.Pool.Kind.String(),
		nullVariant(line.Pool),
		line.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order item for order %s: %w", line.OrderID, mapPgError(err))
	}
	return nil
}

func (r *postgresRepository) ClearCart(ctx context.Context, tx Tx, cartID uuid.UUID) error {
	if _, err := pgTx(tx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to clear cart %s: %w", cartID, mapPgError(err))
	}
	return nil
}

func (r *postgresRepository) GetOrderForUpdate(ctx context.Context, tx Tx, orderID uuid.UUID) (*Order, error) {
	query := `
		SELECT id, user_id, shipping_address, city, state, pincode, total_amount, status, payment_method, is_paid, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`

	var o Order
	err := pgTx(tx).QueryRow(ctx, query, orderID).Scan(
		&o.ID,
		&o.UserID,
		&o.ShippingAddress,
		&o.City,
		&o.State,
		&o.Pincode,
		&o.TotalAmount,
		&o.Status,
		&o.PaymentMethod,
		&o.IsPaid,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", orderID, mapPgError(err))
	}

	linesQuery := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, pool_kind, variant_id, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`
	rows, err := pgTx(tx).Query(ctx, linesQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, mapPgError(err))
	}
	defer rows.Close()

	o.Lines = make([]Line, 0)
	for rows.Next() {
		var (
			line      Line
			kind      string
			variantID uuid.NullUUID
		)
		if err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.ProductName,
			&line.Quantity,
			&line.UnitPrice,
			&kind,
			&variantID,
			&line.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", orderID, err)
		}
		line.Pool = poolRef(kind, line.ProductID, variantID)
		o.Lines = append(o.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order items for order %s: %w", orderID, mapPgError(err))
	}

	return &o, nil
}

func (r *postgresRepository) HasCancellation(ctx context.Context, tx Tx, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := pgTx(tx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM order_cancellations WHERE order_id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check cancellation for order %s: %w", orderID, mapPgError(err))
	}
	return exists, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, tx Tx, orderID uuid.UUID, newStatus OrderStatus) error {
	cmdTag, err := pgTx(tx).Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(newStatus), time.Now().UTC(), orderID,
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("new_status", string(newStatus)).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, mapPgError(err))
	}
	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", orderID).Str("new_status", string(newStatus)).Msg("repository: order not found for status update")
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) CreateCancellation(ctx context.Context, tx Tx, c *Cancellation) error {
	_, err := pgTx(tx).Exec(ctx,
		`INSERT INTO order_cancellations (id, order_id, reason, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.OrderID, c.Reason, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrAlreadyCancelled
		}
		return fmt.Errorf("repository: failed to insert cancellation for order %s: %w", c.OrderID, mapPgError(err))
	}
	return nil
}

// lineRow adds the pool columns that Line keeps in its PoolRef.
type lineRow struct {
	Line
	PoolKind  string        `db:"pool_kind"`
	VariantID uuid.NullUUID `db:"variant_id"`
}

const orderColumns = `id, user_id, shipping_address, city, state, pincode, total_amount, status, payment_method, is_paid, created_at, updated_at`

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	var o Order
	err := r.reader.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	var rows []lineRow
	err = r.reader.SelectContext(ctx, &rows, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, pool_kind, variant_id, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", id, err)
	}

	o.Lines = linesFromRows(rows)
	return &o, nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders := make([]Order, 0)
	err := r.reader.SelectContext(ctx, &orders,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	var rows []lineRow
	err = r.reader.SelectContext(ctx, &rows, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.product_name, oi.quantity, oi.unit_price, oi.pool_kind, oi.variant_id, oi.created_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.user_id = $1
		ORDER BY oi.created_at, oi.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for user id %s: %w", userID, err)
	}

	byOrder := make(map[uuid.UUID][]lineRow, len(orders))
	for _, row := range rows {
		byOrder[row.OrderID] = append(byOrder[row.OrderID], row)
	}
	for i := range orders {
		orders[i].Lines = linesFromRows(byOrder[orders[i].ID])
	}

	return orders, nil
}

func linesFromRows(rows []lineRow) []Line {
	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		line := row.Line
		line.Pool = poolRef(row.PoolKind, line.ProductID, row.VariantID)
		lines = append(lines, line)
	}
	return lines
}
