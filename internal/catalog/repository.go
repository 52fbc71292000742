package catalog

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so product reads can run
// inside or outside a transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *postgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	products, err := SelectProducts(ctx, r.db, []uuid.UUID{id}, false)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, ErrProductNotFound
	}
	return &products[0], nil
}

// SelectProducts loads products with their variants ordered by id. With
// forUpdate set the product and variant rows are locked in that order, which
// keeps lock acquisition deterministic across concurrent transactions.
func SelectProducts(ctx context.Context, q Querier, ids []uuid.UUID, forUpdate bool) ([]Product, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}

	productsQuery := `
		SELECT id, vendor_id, name, unit, base_price, stock_quantity, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id` + lock

	rows, err := q.Query(ctx, productsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, len(ids))
	index := make(map[uuid.UUID]int, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID,
			&p.VendorID,
			&p.Name,
			&p.Unit,
			&p.BasePrice,
			&p.StockQuantity,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		p.Variants = make([]Variant, 0)
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating products: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	variantsQuery := `
		SELECT id, product_id, tier_size, unit_label, price, stock_quantity
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, id` + lock

	variantRows, err := q.Query(ctx, variantsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query product variants: %w", err)
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var v Variant
		if err := variantRows.Scan(
			&v.ID,
			&v.ProductID,
			&v.TierSize,
			&v.UnitLabel,
			&v.Price,
			&v.StockQuantity,
		); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product variant: %w", err)
		}
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	if err := variantRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating product variants: %w", err)
	}

	return products, nil
}
