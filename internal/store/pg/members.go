package pg

import (
	"context"
	"database/sql"

	"famlocator.app/internal/store"
)

const memberColumns = `id, name, email, avatar, location_name, location_lat, location_lng, location_at,
	is_online, is_sharing_location, is_chat_enabled, is_admin, updated_at`

type memberStore struct{ s *Store }

func scanMember(row rowScanner) (*store.Member, error) {
	var (
		m  store.Member
		at sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Email, &m.Avatar,
		&m.Location.Name, &m.Location.Lat, &m.Location.Lng, &at,
		&m.IsOnline, &m.IsSharingLocation, &m.IsChatEnabled, &m.IsAdmin, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if at.Valid {
		m.Location.Timestamp = at.Time
	}
	return &m, nil
}

func (ms memberStore) Put(ctx context.Context, m *store.Member) error {
	_, err := ms.s.q.ExecContext(ctx, `
		insert into family_members (id, name, email, avatar, location_name, location_lat, location_lng, location_at,
			is_online, is_sharing_location, is_chat_enabled, is_admin)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		on conflict (id) do update set
			name = excluded.name,
			email = excluded.email,
			avatar = excluded.avatar,
			location_name = excluded.location_name,
			location_lat = excluded.location_lat,
			location_lng = excluded.location_lng,
			location_at = excluded.location_at,
			is_online = excluded.is_online,
			is_sharing_location = excluded.is_sharing_location,
			is_chat_enabled = excluded.is_chat_enabled,
			is_admin = excluded.is_admin,
			updated_at = now()
	`, m.ID, m.Name, m.Email, m.Avatar, m.Location.Name, m.Location.Lat, m.Location.Lng, nullTime(m.Location.Timestamp),
		m.IsOnline, m.IsSharingLocation, m.IsChatEnabled, m.IsAdmin)
	return translate(err, "member "+m.ID)
}

func (ms memberStore) Find(ctx context.Context, id string) (*store.Member, error) {
	m, err := scanMember(ms.s.q.QueryRowContext(ctx, `select `+memberColumns+` from family_members where id = $1`, id))
	return m, translate(err, "member "+id)
}

func (ms memberStore) List(ctx context.Context) ([]*store.Member, error) {
	rows, err := ms.s.q.QueryContext(ctx, `select `+memberColumns+` from family_members order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ms memberStore) Update(ctx context.Context, id string, patch store.MemberPatch) (*store.Member, error) {
	var (
		name, avatar     sql.NullString
		sharing, chatsOn sql.NullBool
	)
	if patch.Name != nil {
		name = sql.NullString{String: *patch.Name, Valid: true}
	}
	if patch.Avatar != nil {
		avatar = sql.NullString{String: *patch.Avatar, Valid: true}
	}
	if patch.IsSharingLocation != nil {
		sharing = sql.NullBool{Bool: *patch.IsSharingLocation, Valid: true}
	}
	if patch.IsChatEnabled != nil {
		chatsOn = sql.NullBool{Bool: *patch.IsChatEnabled, Valid: true}
	}

	m, err := scanMember(ms.s.q.QueryRowContext(ctx, `
		update family_members set
			name = coalesce($2, name),
			avatar = coalesce($3, avatar),
			is_sharing_location = coalesce($4, is_sharing_location),
			is_chat_enabled = coalesce($5, is_chat_enabled),
			updated_at = now()
		where id = $1
		returning `+memberColumns, id, name, avatar, sharing, chatsOn))
	return m, translate(err, "member "+id)
}

func (ms memberStore) UpdateLocation(ctx context.Context, id string, loc store.Location) error {
	res, err := ms.s.q.ExecContext(ctx, `
		update family_members set
			location_name = $2, location_lat = $3, location_lng = $4, location_at = $5,
			is_online = true, updated_at = now()
		where id = $1
	`, id, loc.Name, loc.Lat, loc.Lng, nullTime(loc.Timestamp))
	if err != nil {
		return err
	}
	return expectOne(res, "member "+id)
}

func (ms memberStore) SetOnline(ctx context.Context, id string, online bool) error {
	res, err := ms.s.q.ExecContext(ctx, `
		update family_members set is_online = $2, updated_at = now() where id = $1
	`, id, online)
	if err != nil {
		return err
	}
	return expectOne(res, "member "+id)
}
