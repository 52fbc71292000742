package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	query := `
		SELECT id, full_name, address_line, city, state, pincode
		FROM user_profiles
		WHERE id = $1
	`

	var p Profile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.FullName,
		&p.AddressLine,
		&p.City,
		&p.State,
		&p.Pincode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("repository: failed to select user profile %s: %w", id, err)
	}

	return &p, nil
}
