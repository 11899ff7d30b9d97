package postgres

import (
	"context"
	"fmt"

	"github.com/nioca/ca/internal/model"
)

// groupAccessStore persists users_group_access grants: a non-admin user
// may be granted access to specific groups independent of the
// is_admin claim-derived flag.
type groupAccessStore struct{ db dbtx }

func (s *groupAccessStore) Grant(ctx context.Context, a *model.GroupAccess) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users_group_access (user_id, group_id, enc_key_id, group_access)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, group_id) DO UPDATE SET
			enc_key_id = EXCLUDED.enc_key_id, group_access = EXCLUDED.group_access
	`, a.UserID, a.GroupID, a.DataKeyID, a.Access)
	if err != nil {
		return fmt.Errorf("grant group access %s/%s: %w", a.UserID, a.GroupID, err)
	}
	return nil
}

func (s *groupAccessStore) Revoke(ctx context.Context, userID, groupID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM users_group_access WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return fmt.Errorf("revoke group access %s/%s: %w", userID, groupID, err)
	}
	return nil
}

func (s *groupAccessStore) ListForUser(ctx context.Context, userID string) ([]*model.GroupAccess, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, group_id, enc_key_id, group_access FROM users_group_access WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list group access for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*model.GroupAccess
	for rows.Next() {
		var a model.GroupAccess
		if err := rows.Scan(&a.UserID, &a.GroupID, &a.DataKeyID, &a.Access); err != nil {
			return nil, fmt.Errorf("scan group access: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
