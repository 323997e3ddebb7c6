package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-ledger/internal/models"
)

type index struct {
	model   interface{}
	name    string
	unique  bool
	columns []string
}

var indexes = []index{
	{(*models.Transaction)(nil), "wallet_transactions_wallet_idempotency_key_idx", true, []string{"wallet_id", "idempotency_key"}},
	{(*models.Transaction)(nil), "wallet_transactions_wallet_sequence_idx", true, []string{"wallet_id", "sequence"}},
	{(*models.Transaction)(nil), "wallet_transactions_wallet_order_id_idx", false, []string{"wallet_id", "order_id"}},
	{(*models.Wallet)(nil), "wallets_bound_element_id_idx", false, []string{"bound_element_id"}},
	{(*models.Wallet)(nil), "wallets_status_expires_at_idx", false, []string{"status", "expires_at"}},
	{(*models.Reservation)(nil), "reservations_event_id_idx", false, []string{"event_id"}},
	{(*models.Reservation)(nil), "reservations_user_id_idx", false, []string{"user_id"}},
}

// CreateSchema creates tables and indexes from the models. PostgreSQL
// deployments use the versioned migrations instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{(*models.Wallet)(nil), (*models.Transaction)(nil), (*models.Reservation)(nil)}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate key name means it exists.
	mysqlDialect := db.Dialect().Name() == dialect.MySQL
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...)
		if idx.unique {
			q = q.Unique()
		}
		if !mysqlDialect {
			q = q.IfNotExists()
		}
		if _, err := q.Exec(ctx); err != nil {
			if mysqlDialect && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
