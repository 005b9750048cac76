package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/medcard/internal/domain/verification"
	"github.com/geocoder89/medcard/internal/observability"
)

type CodesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCodesRepo(pool *pgxpool.Pool, prom *observability.Prom) *CodesRepo {
	return &CodesRepo{pool: pool, prom: prom}
}

func (r *CodesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *CodesRepo) Replace(ctx context.Context, c verification.Code) error {
	return r.observe("codes.replace", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO verification_codes (email, code, created_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (email) DO UPDATE
			 SET code = EXCLUDED.code, created_at = EXCLUDED.created_at`,
			c.Email, c.Code, c.CreatedAt,
		)
		return err
	})
}

// Consume is a single conditional DELETE so two concurrent redeems of the
// same code cannot both succeed.
func (r *CodesRepo) Consume(ctx context.Context, email, code string, notBefore time.Time) error {
	var deleted int64

	err := r.observe("codes.consume", func() error {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM verification_codes
			 WHERE email = $1 AND code = $2 AND created_at > $3`,
			email, code, notBefore,
		)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return verification.ErrNotFound
	}
	return nil
}

func (r *CodesRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64

	err := r.observe("codes.purge_expired", func() error {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM verification_codes WHERE created_at <= $1`,
			before,
		)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
