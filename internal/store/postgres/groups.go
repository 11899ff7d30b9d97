package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type groupStore struct{ db dbtx }

func (s *groupStore) Create(ctx context.Context, g *model.Group) error {
	var caTyp *string
	if g.CaX509Typ != nil {
		t := string(*g.CaX509Typ)
		caTyp = &t
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO groups (id, name, enabled, ca_ssh, ca_x509, ca_x509_typ)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.Name, g.Enabled, g.CaSshID, g.CaX509ID, caTyp)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	var caTyp *string
	if err := row.Scan(&g.ID, &g.Name, &g.Enabled, &g.CaSshID, &g.CaX509ID, &caTyp); err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	if caTyp != nil {
		t := model.X509MaterialType(*caTyp)
		g.CaX509Typ = &t
	}
	return &g, nil
}

func (s *groupStore) Get(ctx context.Context, id string) (*model.Group, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, enabled, ca_ssh, ca_x509, ca_x509_typ FROM groups WHERE id = $1`, id)
	return scanGroup(row)
}

func (s *groupStore) GetByName(ctx context.Context, name string) (*model.Group, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, enabled, ca_ssh, ca_x509, ca_x509_typ FROM groups WHERE name = $1`, name)
	return scanGroup(row)
}

func (s *groupStore) Update(ctx context.Context, g *model.Group) error {
	var caTyp *string
	if g.CaX509Typ != nil {
		t := string(*g.CaX509Typ)
		caTyp = &t
	}
	_, err := s.db.Exec(ctx, `
		UPDATE groups SET name = $1, enabled = $2, ca_ssh = $3, ca_x509 = $4, ca_x509_typ = $5 WHERE id = $6
	`, g.Name, g.Enabled, g.CaSshID, g.CaX509ID, caTyp, g.ID)
	if err != nil {
		return fmt.Errorf("update group %s: %w", g.ID, err)
	}
	return nil
}

func (s *groupStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	return nil
}

func (s *groupStore) List(ctx context.Context) ([]*model.Group, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, enabled, ca_ssh, ca_x509, ca_x509_typ FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
