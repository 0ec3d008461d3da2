package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const serviceColumns = `id, platform, name, description, price_per_1000_minor, min_quantity, max_quantity, daily_limit, estimated_time, is_active, created_at, updated_at`

// UpsertService creates or replaces a catalog entry.
func (r *PostgresRepository) UpsertService(ctx context.Context, svc Service) (*Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if !validID(svc.ID) {
		return nil, fmt.Errorf("upsert service: invalid id %q", svc.ID)
	}
	q := `
INSERT INTO services (id, platform, name, description, price_per_1000_minor, min_quantity, max_quantity, daily_limit, estimated_time, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    platform = EXCLUDED.platform,
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    price_per_1000_minor = EXCLUDED.price_per_1000_minor,
    min_quantity = EXCLUDED.min_quantity,
    max_quantity = EXCLUDED.max_quantity,
    daily_limit = EXCLUDED.daily_limit,
    estimated_time = EXCLUDED.estimated_time,
    is_active = EXCLUDED.is_active,
    updated_at = NOW()
RETURNING ` + serviceColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		svc.ID,
		svc.Platform,
		svc.Name,
		svc.Description,
		svc.PricePer1000Minor,
		svc.MinQuantity,
		svc.MaxQuantity,
		svc.DailyLimit,
		svc.EstimatedTime,
		svc.IsActive,
	)
	out, err := scanService(row)
	if err != nil {
		return nil, fmt.Errorf("upsert service: %w", err)
	}
	return out, nil
}

// GetService fetches a catalog entry regardless of its active flag.
func (r *PostgresRepository) GetService(ctx context.Context, id string) (*Service, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	svc, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

// ListActiveServices returns active services ordered by platform then price.
func (r *PostgresRepository) ListActiveServices(ctx context.Context) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services WHERE is_active ORDER BY platform, price_per_1000_minor, name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, *svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return out, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	if err := row.Scan(&s.ID, &s.Platform, &s.Name, &s.Description, &s.PricePer1000Minor, &s.MinQuantity, &s.MaxQuantity, &s.DailyLimit, &s.EstimatedTime, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
