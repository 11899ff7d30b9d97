// Package postgres implements internal/store.Store against PostgreSQL via
// pgx, following the connection-pool-plus-sub-store shape of the teacher's
// pkg/storage/postgres package.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nioca/ca/internal/store"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// sub-store run unchanged whether it holds the pool or an open transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Config holds the PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConn  int32
}

// Store implements store.Store against a pgxpool.Pool.
type Store struct {
	db dbtx

	masterKey   *masterKeyStore
	dataKeys    *dataKeyStore
	x509ca      *x509CAStore
	sshca       *sshCAStore
	groups      *groupStore
	clientsX509 *clientX509Store
	clientsSsh  *clientSshStore
	certsX509   *x509CertificateStore
	certsSsh    *sshCertificateStore
	sessions    *sessionStore
	users       *userStore
	oidcConfig  *oidcConfigStore
	sealed      *sealedRegistrationStore
	groupAccess *groupAccessStore

	pool *pgxpool.Pool // nil when this Store wraps a transaction
}

// NewStore opens a connection pool and pings it before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, maxConnOrDefault(cfg.MaxConn),
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newStoreFromDB(pool, pool), nil
}

func maxConnOrDefault(n int32) int32 {
	if n <= 0 {
		return 10
	}
	return n
}

func newStoreFromDB(db dbtx, pool *pgxpool.Pool) *Store {
	s := &Store{db: db, pool: pool}
	s.masterKey = &masterKeyStore{db: db}
	s.dataKeys = &dataKeyStore{db: db}
	s.x509ca = &x509CAStore{db: db}
	s.sshca = &sshCAStore{db: db}
	s.groups = &groupStore{db: db}
	s.clientsX509 = &clientX509Store{db: db}
	s.clientsSsh = &clientSshStore{db: db}
	s.certsX509 = &x509CertificateStore{db: db}
	s.certsSsh = &sshCertificateStore{db: db}
	s.sessions = &sessionStore{db: db}
	s.users = &userStore{db: db}
	s.oidcConfig = &oidcConfigStore{db: db}
	s.sealed = &sealedRegistrationStore{db: db}
	s.groupAccess = &groupAccessStore{db: db}
	return s
}

func (s *Store) MasterKey() store.MasterKeyStore           { return s.masterKey }
func (s *Store) DataKeys() store.DataKeyStore               { return s.dataKeys }
func (s *Store) X509CA() store.X509CAStore                  { return s.x509ca }
func (s *Store) SSHCA() store.SSHCAStore                    { return s.sshca }
func (s *Store) Groups() store.GroupStore                   { return s.groups }
func (s *Store) ClientsX509() store.ClientX509Store          { return s.clientsX509 }
func (s *Store) ClientsSsh() store.ClientSshStore            { return s.clientsSsh }
func (s *Store) CertsX509() store.X509CertificateStore       { return s.certsX509 }
func (s *Store) CertsSsh() store.SshCertificateStore         { return s.certsSsh }
func (s *Store) Sessions() store.SessionStore                { return s.sessions }
func (s *Store) Users() store.UserStore                      { return s.users }
func (s *Store) OidcConfig() store.OidcConfigStore           { return s.oidcConfig }
func (s *Store) Sealed() store.SealedRegistrationStore       { return s.sealed }
func (s *Store) GroupAccess() store.GroupAccessStore         { return s.groupAccess }

// WithTx opens a transaction and hands the caller a Store backed by it;
// init and CA import both need every row they write to commit or abort
// as one unit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	pool := s.pool
	if pool == nil {
		return fmt.Errorf("postgres: WithTx called on a store already inside a transaction")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := newStoreFromDB(tx, nil)
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	return nil
}
