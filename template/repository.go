package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested template does not exist.
var ErrNotFound = errors.New("template: not found")

// Repository provides read access to deal templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByRef fetches a template by its reference key.
func (r *Repository) GetByRef(ctx context.Context, ref string) (Template, error) {
	const query = `
		SELECT ref, name, description, required_terms, created_at
		FROM templates
		WHERE ref = $1
	`

	var t Template
	err := r.pool.QueryRow(ctx, query, ref).Scan(
		&t.Ref,
		&t.Name,
		&t.Description,
		&t.RequiredTerms,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, fmt.Errorf("template: query by ref: %w", err)
	}

	return t, nil
}

// List fetches up to limit templates ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Template, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT ref, name, description, required_terms, created_at
		FROM templates
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("template: list: %w", err)
	}
	defer rows.Close()

	templates := make([]Template, 0, limit)
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.Ref, &t.Name, &t.Description, &t.RequiredTerms, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("template: scan: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("template: iterate: %w", err)
	}

	return templates, nil
}
