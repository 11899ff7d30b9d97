package postgres

import (
	"context"
	"fmt"

	"github.com/nioca/ca/internal/model"
)

type sealedRegistrationStore struct{ db dbtx }

func (s *sealedRegistrationStore) Upsert(ctx context.Context, r *model.SealedRegistration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sealed (id, timestamp, direct_access, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			timestamp = EXCLUDED.timestamp, direct_access = EXCLUDED.direct_access, url = EXCLUDED.url
	`, r.InstanceID, r.Timestamp, r.DirectAccess, r.URL)
	if err != nil {
		return fmt.Errorf("upsert sealed registration %s: %w", r.InstanceID, err)
	}
	return nil
}

func (s *sealedRegistrationStore) Delete(ctx context.Context, instanceID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sealed WHERE id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("delete sealed registration %s: %w", instanceID, err)
	}
	return nil
}

func (s *sealedRegistrationStore) List(ctx context.Context) ([]*model.SealedRegistration, error) {
	rows, err := s.db.Query(ctx, `SELECT id, timestamp, direct_access, url FROM sealed ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("list sealed registrations: %w", err)
	}
	defer rows.Close()

	var out []*model.SealedRegistration
	for rows.Next() {
		var r model.SealedRegistration
		if err := rows.Scan(&r.InstanceID, &r.Timestamp, &r.DirectAccess, &r.URL); err != nil {
			return nil, fmt.Errorf("scan sealed registration: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
