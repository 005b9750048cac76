package db

import (
	"context"
	"fmt"

	"github.com/geocoder89/medcard/internal/account"
	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/observability"
	"github.com/geocoder89/medcard/internal/repo/memory"
	"github.com/geocoder89/medcard/internal/repo/mongodb"
	"github.com/geocoder89/medcard/internal/repo/postgres"
)

// Stores bundles the backend picked by STORE_DRIVER.
type Stores struct {
	Driver string
	Users  account.UserStore
	Codes  account.CodeStore
	Ping   func(ctx context.Context) error
	Close  func()
}

// Open connects to the configured backend and makes sure its indexes or
// tables exist.
func Open(ctx context.Context, cfg config.Config, prom *observability.Prom) (Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, database, err := NewMongo(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return Stores{}, fmt.Errorf("mongo connect: %w", err)
		}

		users := mongodb.NewUsersRepo(database, prom)
		codes := mongodb.NewCodesRepo(database, prom)

		if err := users.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return Stores{}, fmt.Errorf("users indexes: %w", err)
		}
		if err := codes.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return Stores{}, fmt.Errorf("codes indexes: %w", err)
		}

		return Stores{
			Driver: cfg.StoreDriver,
			Users:  users,
			Codes:  codes,
			Ping:   MongoPinger{Client: client}.Ping,
			Close:  func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case config.StorePostgres:
		pool, err := NewPool(cfg.DBURL)
		if err != nil {
			return Stores{}, fmt.Errorf("postgres connect: %w", err)
		}

		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return Stores{}, fmt.Errorf("postgres schema: %w", err)
		}

		return Stores{
			Driver: cfg.StoreDriver,
			Users:  postgres.NewUsersRepo(pool, prom),
			Codes:  postgres.NewCodesRepo(pool, prom),
			Ping:   pool.Ping,
			Close:  pool.Close,
		}, nil

	case config.StoreMemory:
		return Stores{
			Driver: cfg.StoreDriver,
			Users:  memory.NewUsersRepo(),
			Codes:  memory.NewCodesRepo(),
			Ping:   func(context.Context) error { return nil },
			Close:  func() {},
		}, nil

	default:
		return Stores{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
