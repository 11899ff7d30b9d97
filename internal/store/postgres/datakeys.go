package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type dataKeyStore struct{ db dbtx }

func (s *dataKeyStore) Create(ctx context.Context, key *model.DataEncryptionKey) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO enc_keys (id, alg, value, created_at) VALUES ($1, $2, $3, $4)
	`, key.ID, key.Algorithm, key.Ciphertext, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create data key: %w", err)
	}
	return nil
}

func (s *dataKeyStore) Get(ctx context.Context, id string) (*model.DataEncryptionKey, error) {
	var k model.DataEncryptionKey
	k.ID = id
	err := s.db.QueryRow(ctx, `SELECT alg, value, created_at FROM enc_keys WHERE id = $1`, id).
		Scan(&k.Algorithm, &k.Ciphertext, &k.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data key %s: %w", id, err)
	}
	return &k, nil
}
