package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type userStore struct{ db dbtx }

func (s *userStore) Upsert(ctx context.Context, u *model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, oidc_id, email, given_name, family_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (oidc_id) DO UPDATE SET
			email = EXCLUDED.email, given_name = EXCLUDED.given_name, family_name = EXCLUDED.family_name
	`, u.ID, u.OidcID, u.Email, u.GivenName, u.FamilyName)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.OidcID, err)
	}
	return nil
}

func (s *userStore) Get(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{ID: id}
	err := s.db.QueryRow(ctx, `SELECT oidc_id, email, given_name, family_name FROM users WHERE id = $1`, id).
		Scan(&u.OidcID, &u.Email, &u.GivenName, &u.FamilyName)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *userStore) GetByOidcID(ctx context.Context, oidcID string) (*model.User, error) {
	u := &model.User{OidcID: oidcID}
	err := s.db.QueryRow(ctx, `SELECT id, email, given_name, family_name FROM users WHERE oidc_id = $1`, oidcID).
		Scan(&u.ID, &u.Email, &u.GivenName, &u.FamilyName)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by oidc id %s: %w", oidcID, err)
	}
	return u, nil
}
