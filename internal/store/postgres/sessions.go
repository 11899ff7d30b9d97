package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

type sessionStore struct{ db dbtx }

func joinOrNil(vals []string) *string {
	if len(vals) == 0 {
		return nil
	}
	s := strings.Join(vals, ",")
	return &s
}

func splitOrNil(s *string) []string {
	if s == nil || *s == "" {
		return nil
	}
	return strings.Split(*s, ",")
}

func (s *sessionStore) Create(ctx context.Context, sess *model.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, local, created, expires, xsrf, authenticated, user_id, email,
			roles, groups, is_admin, is_user)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sess.ID, sess.Local, sess.Created, sess.Expires, sess.Xsrf, sess.Authenticated, sess.UserID,
		sess.Email, joinOrNil(sess.Roles), joinOrNil(sess.Groups), sess.IsAdmin, sess.IsUser)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	var roles, groups *string
	sess.ID = id
	err := s.db.QueryRow(ctx, `
		SELECT local, created, expires, xsrf, authenticated, user_id, email, roles, groups, is_admin, is_user
		FROM sessions WHERE id = $1
	`, id).Scan(&sess.Local, &sess.Created, &sess.Expires, &sess.Xsrf, &sess.Authenticated, &sess.UserID,
		&sess.Email, &roles, &groups, &sess.IsAdmin, &sess.IsUser)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Roles = splitOrNil(roles)
	sess.Groups = splitOrNil(groups)
	return &sess, nil
}

func (s *sessionStore) Update(ctx context.Context, sess *model.Session) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET expires=$1, xsrf=$2, authenticated=$3, user_id=$4, email=$5,
			roles=$6, groups=$7, is_admin=$8, is_user=$9 WHERE id=$10
	`, sess.Expires, sess.Xsrf, sess.Authenticated, sess.UserID, sess.Email, joinOrNil(sess.Roles),
		joinOrNil(sess.Groups), sess.IsAdmin, sess.IsUser, sess.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *sessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
