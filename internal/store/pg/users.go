package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"famlocator.app/internal/store"
)

const userColumns = `id, email, name, phone, password_hash, is_admin, status,
	verification_token, token_expires_at, created_at, updated_at`

type userStore struct{ s *Store }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		u       store.User
		status  string
		token   sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.PasswordHash, &u.IsAdmin, &status,
		&token, &expires, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Status = store.Status(status)
	u.VerificationToken = token.String
	if expires.Valid {
		u.TokenExpiresAt = expires.Time
	}
	return &u, nil
}

func (us userStore) Create(ctx context.Context, u *store.User) error {
	row := us.s.q.QueryRowContext(ctx, `
		insert into users (id, email, name, phone, password_hash, is_admin, status, verification_token, token_expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, u.ID, u.Email, u.Name, u.Phone, u.PasswordHash, u.IsAdmin, string(u.Status),
		nullIfEmpty(u.VerificationToken), nullTime(u.TokenExpiresAt))
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return translate(err, "user "+u.Email)
	}
	return nil
}

func (us userStore) Put(ctx context.Context, u *store.User) error {
	row := us.s.q.QueryRowContext(ctx, `
		insert into users (id, email, name, phone, password_hash, is_admin, status, verification_token, token_expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (id) do update set
			email = excluded.email,
			name = excluded.name,
			phone = excluded.phone,
			password_hash = excluded.password_hash,
			is_admin = excluded.is_admin,
			status = excluded.status,
			verification_token = excluded.verification_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = now()
		returning created_at, updated_at
	`, u.ID, u.Email, u.Name, u.Phone, u.PasswordHash, u.IsAdmin, string(u.Status),
		nullIfEmpty(u.VerificationToken), nullTime(u.TokenExpiresAt))
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return translate(err, "user "+u.ID)
	}
	return nil
}

func (us userStore) Find(ctx context.Context, id string) (*store.User, error) {
	u, err := scanUser(us.s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return u, translate(err, "user "+id)
}

func (us userStore) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	u, err := scanUser(us.s.q.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	return u, translate(err, "user "+email)
}

func (us userStore) FindByToken(ctx context.Context, token string) (*store.User, error) {
	u, err := scanUser(us.s.q.QueryRowContext(ctx, `select `+userColumns+` from users where verification_token = $1`, token))
	return u, translate(err, "verification token")
}

func (us userStore) List(ctx context.Context) ([]*store.User, error) {
	rows, err := us.s.q.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (us userStore) SetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	res, err := us.s.q.ExecContext(ctx, `
		update users set verification_token = $2, token_expires_at = $3, updated_at = now()
		where id = $1
	`, id, nullIfEmpty(token), nullTime(expiresAt))
	if err != nil {
		return translate(err, "verification token")
	}
	return expectOne(res, "user "+id)
}

func (us userStore) ClearToken(ctx context.Context, id string) error {
	res, err := us.s.q.ExecContext(ctx, `
		update users set verification_token = null, token_expires_at = null, updated_at = now()
		where id = $1
	`, id)
	if err != nil {
		return err
	}
	return expectOne(res, "user "+id)
}

func (us userStore) TransitionStatus(ctx context.Context, id string, from, to store.Status) error {
	res, err := us.s.q.ExecContext(ctx, `
		update users set status = $3, updated_at = now()
		where id = $1 and status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = us.s.q.QueryRowContext(ctx, `select status from users where id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: user %s is %s, not %s", store.ErrConflict, id, current, from)
}
