package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type x509CAStore struct{ db dbtx }

func (s *x509CAStore) Create(ctx context.Context, m *model.X509CaMaterial) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ca_certs_x509 (id, ca_id, typ, name, expires, data, fingerprint, enc_key_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.CaID, string(m.Type), m.Name, m.NotAfter, m.Data, m.EncryptedFingerprint, m.DataKeyID)
	if err != nil {
		return fmt.Errorf("create x509 ca material: %w", err)
	}
	return nil
}

func (s *x509CAStore) Get(ctx context.Context, caID string, typ model.X509MaterialType) (*model.X509CaMaterial, error) {
	m := &model.X509CaMaterial{CaID: caID, Type: typ}
	err := s.db.QueryRow(ctx, `
		SELECT id, name, expires, data, fingerprint, enc_key_id
		FROM ca_certs_x509 WHERE ca_id = $1 AND typ = $2
	`, caID, string(typ)).Scan(&m.ID, &m.Name, &m.NotAfter, &m.Data, &m.EncryptedFingerprint, &m.DataKeyID)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get x509 ca material %s/%s: %w", caID, typ, err)
	}
	return m, nil
}

func (s *x509CAStore) ListByID(ctx context.Context, id string) (*model.X509CaMaterial, error) {
	var m model.X509CaMaterial
	var typ string
	err := s.db.QueryRow(ctx, `
		SELECT id, ca_id, typ, name, expires, data, fingerprint, enc_key_id
		FROM ca_certs_x509 WHERE id = $1
	`, id).Scan(&m.ID, &m.CaID, &typ, &m.Name, &m.NotAfter, &m.Data, &m.EncryptedFingerprint, &m.DataKeyID)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get x509 ca material by id %s: %w", id, err)
	}
	m.Type = model.X509MaterialType(typ)
	return &m, nil
}

func (s *x509CAStore) ListCAs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT ca_id FROM ca_certs_x509 ORDER BY ca_id`)
	if err != nil {
		return nil, fmt.Errorf("list x509 cas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan x509 ca id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *x509CAStore) Delete(ctx context.Context, caID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ca_certs_x509 WHERE ca_id = $1`, caID)
	if err != nil {
		return fmt.Errorf("delete x509 ca material %s: %w", caID, err)
	}
	return nil
}

func (s *x509CAStore) UpdateKey(ctx context.Context, caID string, typ model.X509MaterialType, data []byte, dataKeyID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE ca_certs_x509 SET data = $1, enc_key_id = $2 WHERE ca_id = $3 AND typ = $4
	`, data, dataKeyID, caID, string(typ))
	if err != nil {
		return fmt.Errorf("update x509 ca material key %s/%s: %w", caID, typ, err)
	}
	return nil
}

type sshCAStore struct{ db dbtx }

func (s *sshCAStore) Create(ctx context.Context, m *model.SshCaMaterial) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ca_certs_ssh (id, name, pub_key, data, enc_key_id)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.Name, m.PublicKey, m.Ciphertext, m.DataKeyID)
	if err != nil {
		return fmt.Errorf("create ssh ca material: %w", err)
	}
	return nil
}

func (s *sshCAStore) Get(ctx context.Context, id string) (*model.SshCaMaterial, error) {
	m := &model.SshCaMaterial{ID: id}
	err := s.db.QueryRow(ctx, `
		SELECT name, pub_key, data, enc_key_id FROM ca_certs_ssh WHERE id = $1
	`, id).Scan(&m.Name, &m.PublicKey, &m.Ciphertext, &m.DataKeyID)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ssh ca material %s: %w", id, err)
	}
	return m, nil
}

func (s *sshCAStore) List(ctx context.Context) ([]*model.SshCaMaterial, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, pub_key, data, enc_key_id FROM ca_certs_ssh ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list ssh ca material: %w", err)
	}
	defer rows.Close()

	var out []*model.SshCaMaterial
	for rows.Next() {
		var m model.SshCaMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.PublicKey, &m.Ciphertext, &m.DataKeyID); err != nil {
			return nil, fmt.Errorf("scan ssh ca material: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *sshCAStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ca_certs_ssh WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ssh ca material %s: %w", id, err)
	}
	return nil
}

func (s *sshCAStore) UpdateKey(ctx context.Context, id string, data []byte, dataKeyID string) error {
	_, err := s.db.Exec(ctx, `UPDATE ca_certs_ssh SET data = $1, enc_key_id = $2 WHERE id = $3`, data, dataKeyID, id)
	if err != nil {
		return fmt.Errorf("update ssh ca material key %s: %w", id, err)
	}
	return nil
}
