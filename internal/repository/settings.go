package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalblend/commerce-api/internal/domain/order"
)

const (
	getShippingSQL = `SELECT flat_fee, free_shipping_threshold FROM shipping_settings WHERE id = 1`

	updateShippingSQL = `UPDATE shipping_settings
		SET flat_fee = $1, free_shipping_threshold = $2, updated_at = now()
		WHERE id = 1`
)

var _ order.SettingsStore = (*SettingsRepository)(nil)

// SettingsRepository reads and writes the persisted shipping configuration.
// The single-row table replaces the old idea of an in-process, admin-mutable
// shipping config: totals are computed from the value stored here at the time
// of the request, so they stay reproducible across restarts and instances.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// ShippingConfig loads the shipping configuration currently in effect.
func (r *SettingsRepository) ShippingConfig(ctx context.Context) (order.ShippingConfig, error) {
	var cfg order.ShippingConfig
	err := r.pool.QueryRow(ctx, getShippingSQL).Scan(&cfg.FlatFee, &cfg.FreeShippingThreshold)
	if err != nil {
		return order.ShippingConfig{}, fmt.Errorf("loading shipping config: %w", err)
	}
	return cfg, nil
}

// UpdateShippingConfig persists a new shipping configuration.
func (r *SettingsRepository) UpdateShippingConfig(ctx context.Context, cfg order.ShippingConfig) error {
	_, err := r.pool.Exec(ctx, updateShippingSQL, cfg.FlatFee, cfg.FreeShippingThreshold)
	if err != nil {
		return fmt.Errorf("updating shipping config: %w", err)
	}
	return nil
}
