package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// oidcConfigStore persists the singleton federated-login configuration
// under the "config" table's "oidc" key, encrypted under the active data
// key like every other secret column.
type oidcConfigStore struct{ db dbtx }

func (s *oidcConfigStore) Get(ctx context.Context) (*model.OidcConfig, error) {
	var c model.OidcConfig
	err := s.db.QueryRow(ctx, `
		SELECT issuer, client_id, client_secret, enc_key_id, scope, audience, email_verified,
			admin_claim, user_claim
		FROM config WHERE key = 'oidc'
	`).Scan(&c.Issuer, &c.ClientID, &c.ClientSecretEnc, &c.DataKeyID, &c.Scope, &c.Audience,
		&c.EmailVerified, &c.AdminClaim, &c.UserClaim)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oidc config: %w", err)
	}
	return &c, nil
}

func (s *oidcConfigStore) Set(ctx context.Context, c *model.OidcConfig) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO config (key, issuer, client_id, client_secret, enc_key_id, scope, audience,
			email_verified, admin_claim, user_claim)
		VALUES ('oidc', $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			issuer = EXCLUDED.issuer, client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret, enc_key_id = EXCLUDED.enc_key_id,
			scope = EXCLUDED.scope, audience = EXCLUDED.audience,
			email_verified = EXCLUDED.email_verified, admin_claim = EXCLUDED.admin_claim,
			user_claim = EXCLUDED.user_claim
	`, c.Issuer, c.ClientID, c.ClientSecretEnc, c.DataKeyID, c.Scope, c.Audience, c.EmailVerified,
		c.AdminClaim, c.UserClaim)
	if err != nil {
		return fmt.Errorf("set oidc config: %w", err)
	}
	return nil
}

func (s *oidcConfigStore) Exists(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM config WHERE key = 'oidc'`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check oidc config exists: %w", err)
	}
	return count > 0, nil
}
