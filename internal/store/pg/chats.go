package pg

import (
	"context"

	"famlocator.app/internal/ids"
	"famlocator.app/internal/store"
)

type chatStore struct{ s *Store }

func (cs chatStore) CreateIfAbsent(ctx context.Context, c *store.Chat) (*store.Chat, bool, error) {
	var (
		out     *store.Chat
		created bool
	)
	err := cs.s.tx(ctx, func(tx *Store) error {
		res, err := tx.q.ExecContext(ctx, `
			insert into chats (id, name, is_group) values ($1, $2, $3)
			on conflict (id) do nothing
		`, c.ID, c.Name, c.IsGroup)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			created = true
			for _, memberID := range c.MemberIDs {
				if err := (chatStore{tx}).AddMember(ctx, c.ID, memberID); err != nil {
					return err
				}
			}
		}
		out, err = chatStore{tx}.Find(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (cs chatStore) Find(ctx context.Context, id string) (*store.Chat, error) {
	var c store.Chat
	err := cs.s.q.QueryRowContext(ctx, `
		select id, name, is_group, created_at from chats where id = $1
	`, id).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt)
	if err != nil {
		return nil, translate(err, "chat "+id)
	}

	rows, err := cs.s.q.QueryContext(ctx, `
		select member_id from chat_members where chat_id = $1 order by added_at, member_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return nil, err
		}
		c.MemberIDs = append(c.MemberIDs, memberID)
	}
	return &c, rows.Err()
}

func (cs chatStore) ListForMember(ctx context.Context, memberID string) ([]*store.Chat, error) {
	rows, err := cs.s.q.QueryContext(ctx, `
		select c.id, c.name, c.is_group, c.created_at
		from chats c
		join chat_members m on m.chat_id = c.id
		where m.member_id = $1
		order by c.is_group desc, c.created_at, c.id
	`, memberID)
	if err != nil {
		return nil, err
	}
	var (
		out  []*store.Chat
		byID = map[string]*store.Chat{}
	)
	for rows.Next() {
		var c store.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, &c)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(out) == 0 {
		return out, nil
	}

	members, err := cs.s.q.QueryContext(ctx, `
		select chat_id, member_id from chat_members
		where chat_id in (select chat_id from chat_members where member_id = $1)
		order by chat_id, added_at, member_id
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer members.Close()
	for members.Next() {
		var chatID, id string
		if err := members.Scan(&chatID, &id); err != nil {
			return nil, err
		}
		if c, ok := byID[chatID]; ok {
			c.MemberIDs = append(c.MemberIDs, id)
		}
	}
	return out, members.Err()
}

func (cs chatStore) AddMember(ctx context.Context, chatID, memberID string) error {
	_, err := cs.s.q.ExecContext(ctx, `
		insert into chat_members (chat_id, member_id) values ($1, $2)
		on conflict (chat_id, member_id) do nothing
	`, chatID, memberID)
	return translate(err, "chat "+chatID)
}

func (cs chatStore) Delete(ctx context.Context, id string) error {
	res, err := cs.s.q.ExecContext(ctx, `delete from chats where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res, "chat "+id)
}

func (cs chatStore) AppendMessage(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	err := cs.s.q.QueryRowContext(ctx, `
		insert into chat_messages (id, chat_id, member_id, member_name, member_avatar, body)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, m.ID, m.ChatID, m.MemberID, m.MemberName, m.MemberAvatar, m.Text).Scan(&m.Timestamp)
	return translate(err, "chat "+m.ChatID)
}

func (cs chatStore) Messages(ctx context.Context, chatID string) ([]*store.Message, error) {
	rows, err := cs.s.q.QueryContext(ctx, `
		select id, chat_id, member_id, member_name, member_avatar, body, created_at
		from chat_messages
		where chat_id = $1
		order by created_at, id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MemberID, &m.MemberName, &m.MemberAvatar, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (cs chatStore) DeleteMessages(ctx context.Context, chatID string) (int64, error) {
	res, err := cs.s.q.ExecContext(ctx, `delete from chat_messages where chat_id = $1`, chatID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (cs chatStore) DeleteAllMessages(ctx context.Context) (int64, error) {
	res, err := cs.s.q.ExecContext(ctx, `delete from chat_messages`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
