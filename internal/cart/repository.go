package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrItemNotFound = errors.New("cart item not found")

type Repository interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	ListItems(ctx context.Context, cartID uuid.UUID) ([]Item, error)
	// FindItem matches unitSize by numeric value, not by scale.
	FindItem(ctx context.Context, cartID, productID uuid.UUID, unitSize decimal.Decimal) (*Item, error)
	GetItem(ctx context.Context, cartID, itemID uuid.UUID) (*Item, error)
	// AddItem stages count more of (product, unitSize), creating the item if needed.
	AddItem(ctx context.Context, cartID, productID uuid.UUID, unitSize, count decimal.Decimal) (*Item, error)
	SetItemCount(ctx context.Context, itemID uuid.UUID, count decimal.Decimal) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	ClearItems(ctx context.Context, cartID uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate cart ID: %w", err)
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO carts (id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at
	`

	var c Cart
	err = r.db.QueryRow(ctx, query, id, userID, time.Now().UTC()).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get or create cart for user %s: %w", userID, err)
	}

	return &c, nil
}

const itemColumns = `id, cart_id, product_id, unit_size, count, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(
		&it.ID,
		&it.CartID,
		&it.ProductID,
		&it.UnitSize,
		&it.Count,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *postgresRepository) ListItems(ctx context.Context, cartID uuid.UUID) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for cart %s: %w", cartID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for cart %s: %w", cartID, err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating cart items for cart %s: %w", cartID, err)
	}

	return items, nil
}

func (r *postgresRepository) FindItem(ctx context.Context, cartID, productID uuid.UUID, unitSize decimal.Decimal) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND unit_size = $3`

	it, err := scanItem(r.db.QueryRow(ctx, query, cartID, productID, unitSize))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart item: %w", err)
	}
	return it, nil
}

func (r *postgresRepository) GetItem(ctx context.Context, cartID, itemID uuid.UUID) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE id = $1 AND cart_id = $2`

	it, err := scanItem(r.db.QueryRow(ctx, query, itemID, cartID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart item %s: %w", itemID, err)
	}
	return it, nil
}

func (r *postgresRepository) AddItem(ctx context.Context, cartID, productID uuid.UUID, unitSize, count decimal.Decimal) (*Item, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate cart item ID: %w", err)
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO cart_items (id, cart_id, product_id, unit_size, count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (cart_id, product_id, unit_size)
		DO UPDATE SET count = cart_items.count + EXCLUDED.count, updated_at = EXCLUDED.updated_at
		RETURNING ` + itemColumns

	it, err := scanItem(r.db.QueryRow(ctx, query, id, cartID, productID, unitSize, count, now))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to upsert cart item: %w", err)
	}
	return it, nil
}

func (r *postgresRepository) SetItemCount(ctx context.Context, itemID uuid.UUID, count decimal.Decimal) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE cart_items SET count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update cart item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to clear cart %s: %w", cartID, err)
	}
	return nil
}
