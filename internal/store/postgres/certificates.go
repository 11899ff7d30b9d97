package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// x509CertificateStore implements the insert-placeholder-then-fill
// pattern: the serial column is AUTOINCREMENT, so inserting a row with
// empty data and reading the assigned serial back is the only way to
// guarantee uniqueness under concurrency without an external lock.
type x509CertificateStore struct{ db dbtx }

func (s *x509CertificateStore) InsertPlaceholder(ctx context.Context, rec *model.X509CertificateRecord) (int64, error) {
	var serial int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO certs_x509 (id, created, expires, client_id, user_id, data)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING serial
	`, rec.ID, rec.Created, rec.Expires, rec.ClientID, rec.UserID, rec.Data).Scan(&serial)
	if err != nil {
		return 0, fmt.Errorf("insert x509 certificate placeholder: %w", err)
	}
	return serial, nil
}

func (s *x509CertificateStore) FillData(ctx context.Context, serial int64, der []byte) error {
	_, err := s.db.Exec(ctx, `UPDATE certs_x509 SET data = $1 WHERE serial = $2`, der, serial)
	if err != nil {
		return fmt.Errorf("fill x509 certificate %d: %w", serial, err)
	}
	return nil
}

func (s *x509CertificateStore) GetBySerial(ctx context.Context, serial int64) (*model.X509CertificateRecord, error) {
	rec := &model.X509CertificateRecord{Serial: serial}
	err := s.db.QueryRow(ctx, `
		SELECT id, created, expires, client_id, user_id, data FROM certs_x509 WHERE serial = $1
	`, serial).Scan(&rec.ID, &rec.Created, &rec.Expires, &rec.ClientID, &rec.UserID, &rec.Data)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get x509 certificate %d: %w", serial, err)
	}
	return rec, nil
}

type sshCertificateStore struct{ db dbtx }

func (s *sshCertificateStore) InsertPlaceholder(ctx context.Context, rec *model.SshCertificateRecord) (int64, error) {
	var serial int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO certs_ssh (id, created, expires, client_id, user_id, data)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING serial
	`, rec.ID, rec.Created, rec.Expires, rec.ClientID, rec.UserID, rec.Data).Scan(&serial)
	if err != nil {
		return 0, fmt.Errorf("insert ssh certificate placeholder: %w", err)
	}
	return serial, nil
}

func (s *sshCertificateStore) FillData(ctx context.Context, serial int64, data []byte) error {
	_, err := s.db.Exec(ctx, `UPDATE certs_ssh SET data = $1 WHERE serial = $2`, data, serial)
	if err != nil {
		return fmt.Errorf("fill ssh certificate %d: %w", serial, err)
	}
	return nil
}

func (s *sshCertificateStore) GetBySerial(ctx context.Context, serial int64) (*model.SshCertificateRecord, error) {
	rec := &model.SshCertificateRecord{Serial: serial}
	err := s.db.QueryRow(ctx, `
		SELECT id, created, expires, client_id, user_id, data FROM certs_ssh WHERE serial = $1
	`, serial).Scan(&rec.ID, &rec.Created, &rec.Expires, &rec.ClientID, &rec.UserID, &rec.Data)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ssh certificate %d: %w", serial, err)
	}
	return rec, nil
}
