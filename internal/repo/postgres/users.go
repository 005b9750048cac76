package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/observability"
)

const userColumns = `id, email, password_hash, role, profile, shared_with, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanUser(row pgx.Row, extra ...any) (user.User, error) {
	var (
		u    user.User
		role string
	)

	dest := append([]any{
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.Profile,
		&u.SharedWith,
		&u.CreatedAt,
		&u.UpdatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return user.User{}, err
	}

	u.Role = user.Role(role)
	if u.SharedWith == nil {
		u.SharedWith = []string{}
	}
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) error {
	if u.SharedWith == nil {
		u.SharedWith = []string{}
	}

	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, role, profile, shared_with, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.Email, u.PasswordHash, string(u.Role), u.Profile, u.SharedWith, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
	if IsUniqueViolation(err) {
		return user.ErrEmailTaken
	}
	return err
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UsersRepo) getOne(ctx context.Context, op, query string, args ...any) (user.User, error) {
	var u user.User

	err := r.observe(op, func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx, query, args...))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return r.exec(ctx, "users.update_password",
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, now,
	)
}

func (r *UsersRepo) UpdateEmail(ctx context.Context, id, email string, now time.Time) error {
	err := r.exec(ctx, "users.update_email",
		`UPDATE users SET email = $2, updated_at = $3 WHERE id = $1`,
		id, email, now,
	)
	if IsUniqueViolation(err) {
		return user.ErrEmailTaken
	}
	return err
}

// exec runs a single-row UPDATE and maps zero affected rows to ErrNotFound.
func (r *UsersRepo) exec(ctx context.Context, op, query string, args ...any) error {
	var affected int64

	err := r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}

// UpdateProfile merges the patch into the profile document; keys absent from
// the patch keep their stored values.
func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, patch user.ProfilePatch, now time.Time) (user.User, error) {
	return r.getOne(ctx, "users.update_profile",
		`UPDATE users SET profile = profile || $2::jsonb, updated_at = $3
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, patch.Fields(), now,
	)
}

func (r *UsersRepo) SetRole(ctx context.Context, id string, role user.Role, now time.Time) (bool, error) {
	err := r.exec(ctx, "users.set_role",
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1 AND role = ''`,
		id, string(role), now,
	)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *UsersRepo) AddSharedWith(ctx context.Context, id, doctorID string, now time.Time) error {
	return r.exec(ctx, "users.add_shared_with",
		`UPDATE users
		 SET shared_with = CASE
		       WHEN $2::text = ANY(shared_with) THEN shared_with
		       ELSE array_append(shared_with, $2::text)
		     END,
		     updated_at = $3
		 WHERE id = $1`,
		id, doctorID, now,
	)
}

func (r *UsersRepo) List(ctx context.Context, f user.ListFilter) ([]user.User, int64, error) {
	f = f.Normalize()
	where, args := buildListConditions(f)

	query := `SELECT ` + userColumns + `, COUNT(*) OVER() AS total FROM users` + where +
		fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset())

	items := make([]user.User, 0, f.Limit)
	var total int64

	err := r.observe("users.list", func() error {
		rows, err := r.pool.Query(ctx, query, pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows, &total)
			if err != nil {
				return err
			}
			items = append(items, u)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// past the last page the window count has no row to ride on
		if len(items) == 0 && f.Offset() > 0 {
			return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func buildListConditions(f user.ListFilter) (string, []any) {
	var conds []string
	var args []any

	argsPosition := 1

	if f.Role != nil {
		conds = append(conds, fmt.Sprintf("role = $%d", argsPosition))
		args = append(args, string(*f.Role))
		argsPosition++
	}

	if f.Position != nil {
		conds = append(conds, fmt.Sprintf("lower(profile->>'position') = lower($%d)", argsPosition))
		args = append(args, *f.Position)
		argsPosition++
	}

	if f.SharedWith != nil {
		conds = append(conds, fmt.Sprintf("$%d = ANY(shared_with)", argsPosition))
		args = append(args, *f.SharedWith)
		argsPosition++
	}

	if f.Search != nil && *f.Search != "" {
		p := fmt.Sprintf("$%d", argsPosition)
		conds = append(conds, fmt.Sprintf(
			"(profile->>'firstName' ILIKE %[1]s OR profile->>'lastName' ILIKE %[1]s OR profile->>'middleName' ILIKE %[1]s OR email ILIKE %[1]s)",
			p,
		))
		args = append(args, "%"+escapeLike(*f.Search)+"%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
