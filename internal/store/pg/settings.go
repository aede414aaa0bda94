package pg

import (
	"context"

	"famlocator.app/internal/store"
)

const siteSettingsID = "site"

type settingsStore struct{ s *Store }

func (ss settingsStore) Load(ctx context.Context) ([]byte, error) {
	query := `select document from site_settings where id = $1`
	if ss.s.inTx {
		query += ` for update`
	}
	var doc []byte
	if err := ss.s.q.QueryRowContext(ctx, query, siteSettingsID).Scan(&doc); err != nil {
		return nil, translate(err, "site settings")
	}
	return doc, nil
}

func (ss settingsStore) Save(ctx context.Context, doc []byte) error {
	_, err := ss.s.q.ExecContext(ctx, `
		insert into site_settings (id, document) values ($1, $2)
		on conflict (id) do update set document = excluded.document, updated_at = now()
	`, siteSettingsID, string(doc))
	return err
}

var _ store.SettingsStore = settingsStore{}
