package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type clientX509Store struct{ db dbtx }

func (s *clientX509Store) Create(ctx context.Context, c *model.ClientX509) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO clients_x509 (id, name, enabled, group_id, api_key, enc_key_id, common_name,
			country, locality, organizational_unit, organization, state_or_province,
			dns_names, ip_addresses, key_usage, ext_key_usage, algorithm, valid_hours,
			latest_cert, expires)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, c.ID, c.Name, c.Enabled, c.GroupID, c.EncryptedAPIKey, c.DataKeyID, c.CommonName,
		c.Country, c.Locality, c.OrganizationalUnit, c.Organization, c.StateOrProvince,
		c.DNSNames, c.IPAddresses, uint32(c.KeyUsage), uint32(c.ExtKeyUsage), c.Algorithm, c.ValidHours,
		c.LatestCertSerial, c.NotAfter)
	if err != nil {
		return fmt.Errorf("create client x509: %w", err)
	}
	return nil
}

func scanClientX509(row pgx.Row) (*model.ClientX509, error) {
	var c model.ClientX509
	var keyUsage, extKeyUsage uint32
	err := row.Scan(&c.ID, &c.Name, &c.Enabled, &c.GroupID, &c.EncryptedAPIKey, &c.DataKeyID, &c.CommonName,
		&c.Country, &c.Locality, &c.OrganizationalUnit, &c.Organization, &c.StateOrProvince,
		&c.DNSNames, &c.IPAddresses, &keyUsage, &extKeyUsage, &c.Algorithm, &c.ValidHours,
		&c.LatestCertSerial, &c.NotAfter)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client x509: %w", err)
	}
	c.KeyUsage = model.KeyUsageBits(keyUsage)
	c.ExtKeyUsage = model.KeyUsageBits(extKeyUsage)
	return &c, nil
}

const clientX509Columns = `id, name, enabled, group_id, api_key, enc_key_id, common_name,
	country, locality, organizational_unit, organization, state_or_province,
	dns_names, ip_addresses, key_usage, ext_key_usage, algorithm, valid_hours,
	latest_cert, expires`

func (s *clientX509Store) Get(ctx context.Context, id string) (*model.ClientX509, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clientX509Columns+` FROM clients_x509 WHERE id = $1`, id)
	return scanClientX509(row)
}

func (s *clientX509Store) Update(ctx context.Context, c *model.ClientX509) error {
	_, err := s.db.Exec(ctx, `
		UPDATE clients_x509 SET name=$1, enabled=$2, group_id=$3, common_name=$4, country=$5,
			locality=$6, organizational_unit=$7, organization=$8, state_or_province=$9,
			dns_names=$10, ip_addresses=$11, key_usage=$12, ext_key_usage=$13, algorithm=$14,
			valid_hours=$15 WHERE id=$16
	`, c.Name, c.Enabled, c.GroupID, c.CommonName, c.Country, c.Locality, c.OrganizationalUnit,
		c.Organization, c.StateOrProvince, c.DNSNames, c.IPAddresses, uint32(c.KeyUsage),
		uint32(c.ExtKeyUsage), c.Algorithm, c.ValidHours, c.ID)
	if err != nil {
		return fmt.Errorf("update client x509 %s: %w", c.ID, err)
	}
	return nil
}

func (s *clientX509Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM clients_x509 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete client x509 %s: %w", id, err)
	}
	return nil
}

func (s *clientX509Store) ListByGroup(ctx context.Context, groupID string) ([]*model.ClientX509, error) {
	rows, err := s.db.Query(ctx, `SELECT `+clientX509Columns+` FROM clients_x509 WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list clients x509 for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var out []*model.ClientX509
	for rows.Next() {
		c, err := scanClientX509(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *clientX509Store) SetAPIKey(ctx context.Context, id string, encrypted []byte, dataKeyID string) error {
	_, err := s.db.Exec(ctx, `UPDATE clients_x509 SET api_key=$1, enc_key_id=$2 WHERE id=$3`, encrypted, dataKeyID, id)
	if err != nil {
		return fmt.Errorf("set client x509 api key %s: %w", id, err)
	}
	return nil
}

func (s *clientX509Store) SetLatestSerial(ctx context.Context, id string, serial int64) error {
	_, err := s.db.Exec(ctx, `UPDATE clients_x509 SET latest_cert=$1 WHERE id=$2`, serial, id)
	if err != nil {
		return fmt.Errorf("set client x509 latest serial %s: %w", id, err)
	}
	return nil
}

type clientSshStore struct{ db dbtx }

const clientSshColumns = `id, name, enabled, group_id, api_key, enc_key_id, cert_type,
	principals, algorithm, valid_secs, permit_x11, permit_agent, permit_port, permit_pty,
	permit_user_rc, force_command, source_address, latest_cert, expires`

func (s *clientSshStore) Create(ctx context.Context, c *model.ClientSsh) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO clients_ssh (id, name, enabled, group_id, api_key, enc_key_id, cert_type,
			principals, algorithm, valid_secs, permit_x11, permit_agent, permit_port, permit_pty,
			permit_user_rc, force_command, source_address, latest_cert, expires)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, c.ID, c.Name, c.Enabled, c.GroupID, c.EncryptedAPIKey, c.DataKeyID, string(c.CertType),
		c.Principals, c.Algorithm, c.ValidSecs, c.PermitX11Forwarding, c.PermitAgentForwarding,
		c.PermitPortForwarding, c.PermitPTY, c.PermitUserRC, c.ForceCommand, c.SourceAddress,
		c.LatestCertSerial, c.NotAfter)
	if err != nil {
		return fmt.Errorf("create client ssh: %w", err)
	}
	return nil
}

func scanClientSsh(row pgx.Row) (*model.ClientSsh, error) {
	var c model.ClientSsh
	var certType string
	err := row.Scan(&c.ID, &c.Name, &c.Enabled, &c.GroupID, &c.EncryptedAPIKey, &c.DataKeyID, &certType,
		&c.Principals, &c.Algorithm, &c.ValidSecs, &c.PermitX11Forwarding, &c.PermitAgentForwarding,
		&c.PermitPortForwarding, &c.PermitPTY, &c.PermitUserRC, &c.ForceCommand, &c.SourceAddress,
		&c.LatestCertSerial, &c.NotAfter)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client ssh: %w", err)
	}
	c.CertType = model.SshCertType(certType)
	return &c, nil
}

func (s *clientSshStore) Get(ctx context.Context, id string) (*model.ClientSsh, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clientSshColumns+` FROM clients_ssh WHERE id = $1`, id)
	return scanClientSsh(row)
}

func (s *clientSshStore) Update(ctx context.Context, c *model.ClientSsh) error {
	_, err := s.db.Exec(ctx, `
		UPDATE clients_ssh SET name=$1, enabled=$2, group_id=$3, cert_type=$4, principals=$5,
			algorithm=$6, valid_secs=$7, permit_x11=$8, permit_agent=$9, permit_port=$10,
			permit_pty=$11, permit_user_rc=$12, force_command=$13, source_address=$14 WHERE id=$15
	`, c.Name, c.Enabled, c.GroupID, string(c.CertType), c.Principals, c.Algorithm, c.ValidSecs,
		c.PermitX11Forwarding, c.PermitAgentForwarding, c.PermitPortForwarding, c.PermitPTY,
		c.PermitUserRC, c.ForceCommand, c.SourceAddress, c.ID)
	if err != nil {
		return fmt.Errorf("update client ssh %s: %w", c.ID, err)
	}
	return nil
}

func (s *clientSshStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM clients_ssh WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete client ssh %s: %w", id, err)
	}
	return nil
}

func (s *clientSshStore) ListByGroup(ctx context.Context, groupID string) ([]*model.ClientSsh, error) {
	rows, err := s.db.Query(ctx, `SELECT `+clientSshColumns+` FROM clients_ssh WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list clients ssh for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var out []*model.ClientSsh
	for rows.Next() {
		c, err := scanClientSsh(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *clientSshStore) SetAPIKey(ctx context.Context, id string, encrypted []byte, dataKeyID string) error {
	_, err := s.db.Exec(ctx, `UPDATE clients_ssh SET api_key=$1, enc_key_id=$2 WHERE id=$3`, encrypted, dataKeyID, id)
	if err != nil {
		return fmt.Errorf("set client ssh api key %s: %w", id, err)
	}
	return nil
}

func (s *clientSshStore) SetLatestSerial(ctx context.Context, id string, serial int64) error {
	_, err := s.db.Exec(ctx, `UPDATE clients_ssh SET latest_cert=$1 WHERE id=$2`, serial, id)
	if err != nil {
		return fmt.Errorf("set client ssh latest serial %s: %w", id, err)
	}
	return nil
}
