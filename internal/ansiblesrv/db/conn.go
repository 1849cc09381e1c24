package db

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dbmanager"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/postgresql"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// Open connects to the configured catalog store and applies migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (DB_, error) {
	switch cfg.Type {
	case "", "postgresql":
		sqlDB, err := dbmanager.NewPostgresqlDb(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d := postgresql.New(sqlDB)
		if err := d.Migrate(ctx); err != nil {
			d.Close(ctx)
			return nil, err
		}
		return d, nil
	case "memory":
		return memdb.New(), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

type ctxDbKeyType string

const ctxDbKey ctxDbKeyType = "AnsibleCatalogDb"

// WithDB returns a copy of ctx carrying d.
func WithDB(ctx context.Context, d DB_) context.Context {
	return context.WithValue(ctx, ctxDbKey, d)
}

// DB returns the catalog carried in ctx, or nil.
func DB(ctx context.Context) DB_ {
	if d, ok := ctx.Value(ctxDbKey).(DB_); ok {
		return d
	}
	log.Ctx(ctx).Error().Msg("unable to get db from context")
	return nil
}

// LoadDBMiddleware puts d into every request context.
func LoadDBMiddleware(d DB_) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d == nil {
				log.Ctx(r.Context()).Error().Msg("no catalog configured")
				httpx.ErrApplicationError("unable to service request at this time").Send(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDB(r.Context(), d)))
		})
	}
}
