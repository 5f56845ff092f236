package app

import (
	"context"
	"errors"

	"cupid/cmd/internal/invitation"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store modes reported in logs and readiness.
const (
	storeModePostgres     = "postgres"
	storeModeMemory       = "memory"
	storeModeUnconfigured = "unconfigured"
)

// storeHandle owns the selected invitation store and its lifecycle.
type storeHandle struct {
	mode  string
	store invitation.Store
	pool  *pgxpool.Pool
}

func (s storeHandle) configured() bool { return s.store != nil }

func (s storeHandle) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// newStore decides between Postgres persistence, the in-memory dev store, or no store.
// Incomplete database configuration leaves the store unconfigured so the payment
// notification endpoint reports a configuration error instead of the process exiting.
func newStore(ctx context.Context, cfg Config, log Logger) (storeHandle, error) {
	if cfg.DatabaseURL == "" {
		if cfg.DevInMemory {
			log.Warn("db.disabled.inmemory_store")
			return storeHandle{mode: storeModeMemory, store: invitation.NewMemoryStore()}, nil
		}
		log.Error("db.unconfigured", "has_url", false)
		return storeHandle{mode: storeModeUnconfigured}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if errors.Is(err, ErrDBCredentialMissing) {
		log.Error("db.unconfigured", "has_url", true, "has_credential", false)
		return storeHandle{mode: storeModeUnconfigured}, nil
	}
	if err != nil {
		return storeHandle{}, err
	}

	var opts []invitation.StoreOption
	if cfg.DatabaseSchema != "" {
		opts = append(opts, invitation.WithSchema(cfg.DatabaseSchema))
	}
	st, err := invitation.NewPostgresStore(pool, opts...)
	if err != nil {
		pool.Close()
		return storeHandle{}, err
	}
	if cfg.DBApplySchema {
		if err := st.ApplySchema(ctx); err != nil {
			pool.Close()
			return storeHandle{}, err
		}
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DatabaseSchema)
	return storeHandle{mode: storeModePostgres, store: st, pool: pool}, nil
}
