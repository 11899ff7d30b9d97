package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type masterKeyStore struct{ db dbtx }

func (s *masterKeyStore) Get(ctx context.Context, tag model.MasterKeyTag) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM master_key WHERE tag = $1`, string(tag)).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get master_key %s: %w", tag, err)
	}
	return value, nil
}

func (s *masterKeyStore) Set(ctx context.Context, tag model.MasterKeyTag, value []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO master_key (tag, value) VALUES ($1, $2)
		ON CONFLICT (tag) DO UPDATE SET value = EXCLUDED.value
	`, string(tag), value)
	if err != nil {
		return fmt.Errorf("set master_key %s: %w", tag, err)
	}
	return nil
}

func (s *masterKeyStore) Exists(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM master_key WHERE tag = $1`, string(model.TagInitialized)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check master_key initialized: %w", err)
	}
	return count > 0, nil
}
