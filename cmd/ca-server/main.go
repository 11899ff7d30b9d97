// Command ca-server runs the nioca certificate authority: the sealed
// init/unseal surface, and, once a master key is reconstructed, the full
// X.509/SSH issuance and administration API.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nioca/ca/config"
	"github.com/nioca/ca/internal/authsession"
	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/clientauth"
	"github.com/nioca/ca/internal/cluster"
	"github.com/nioca/ca/internal/httpapi"
	"github.com/nioca/ca/internal/issuer/sshissuer"
	"github.com/nioca/ca/internal/issuer/x509issuer"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/maintenance"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/oidcflow"
	"github.com/nioca/ca/internal/sealedstate"
	"github.com/nioca/ca/internal/store"
	"github.com/nioca/ca/internal/store/postgres"
)

// sessionSweepInterval is how often expired sessions are purged; there is
// no external interface to tune it, the sweep itself is cheap enough to run
// often without troubling the database.
const sessionSweepInterval = 5 * time.Minute

const shutdownGrace = 10 * time.Second

func main() {
	log := logger.NewDefaultLogger()
	if err := run(log); err != nil {
		log.Fatal("ca-server exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Logging != nil {
		log.SetLevel(parseLevel(cfg.Logging.Level))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.NewStore(ctx, &postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  envOr("DB_SSLMODE", "disable"),
		MaxConn:  int32(cfg.Database.MaxConn),
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()

	instanceID := deriveInstanceID()
	log.Info("starting ca-server", logger.String("instance_id", instanceID), logger.String("environment", cfg.Environment))

	rateLimit := cfg.Unseal.RateLimit
	machine, err := sealedstate.New(ctx, st, log, cfg.Unseal.InitKey, instanceID, rateLimit)
	if err != nil {
		return fmt.Errorf("build sealed-state machine: %w", err)
	}

	cert, err := loadListenerCert(cfg.Unseal, cfg.Server.DevMode)
	if err != nil {
		return fmt.Errorf("load listener certificate: %w", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	sealedAddr := fmt.Sprintf(":%d", cfg.Server.PortHTTPS)
	sealedServer := newHTTPServer(sealedAddr, httpapi.NewSealedServer(machine, log).Handler())
	sealedServer.TLSConfig = tlsConfig

	sealedDone := make(chan error, 1)
	go func() {
		ln, lerr := net.Listen("tcp", sealedAddr)
		if lerr != nil {
			sealedDone <- lerr
			return
		}
		sealedDone <- sealedServer.ServeTLS(ln, "", "")
	}()
	log.Info("sealed server listening", logger.String("addr", sealedAddr))

	var encKeys sealedstate.EncKeys
	select {
	case encKeys = <-machine.EncKeysChan():
		log.Info("master key reconstructed, handing off to the unsealed server")
	case err := <-sealedDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sealed server: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = sealedServer.Close()
		return nil
	}

	// The unsealed server rebinds the same port, so the sealed listener
	// must release it first or the bind below races an in-use port.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	_ = sealedServer.Shutdown(shutdownCtx)
	cancel()
	if err := <-sealedDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("sealed server shutdown reported an error", logger.Error(err))
	}

	unsealedServer, cleanup, err := buildUnsealedServer(ctx, cfg, st, encKeys, log)
	if err != nil {
		return fmt.Errorf("build unsealed server: %w", err)
	}
	defer cleanup()

	httpServer := newHTTPServer(sealedAddr, unsealedServer.Handler())
	httpServer.TLSConfig = tlsConfig

	go func() {
		sweeper := maintenance.NewSessionSweeper(st.Sessions(), sessionSweepInterval, log)
		sweeper.Run(ctx)
	}()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("metrics server listening", logger.String("addr", addr))
			if err := metrics.StartServer(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	if cfg.AutoUnseal != nil && cfg.AutoUnseal.Interval > 0 {
		if err := startClusterPropagator(ctx, st, instanceID, encKeys, cfg.AutoUnseal, time.Duration(cfg.Unseal.RateLimit)*time.Second, log); err != nil {
			log.Warn("cluster propagation disabled", logger.Error(err))
		}
	}

	serveDone := make(chan error, 1)
	go func() {
		ln, lerr := net.Listen("tcp", sealedAddr)
		if lerr != nil {
			serveDone <- lerr
			return
		}
		serveDone <- httpServer.ServeTLS(ln, "", "")
	}()
	log.Info("unsealed server listening", logger.String("addr", sealedAddr))

	select {
	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("unsealed server: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		<-serveDone
	}
	return nil
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// buildUnsealedServer wires every collaborator the unsealed API depends on
// out of the reconstructed master key and the already-open store, and
// returns a cleanup func that stops the collaborators' owned goroutines.
func buildUnsealedServer(ctx context.Context, cfg *config.Config, st store.Store, encKeys sealedstate.EncKeys, log logger.Logger) (*httpapi.UnsealedServer, func(), error) {
	ks := keystore.New(st.DataKeys(), st.MasterKey(), encKeys.MasterKey, encKeys.ActiveDataKeyID)
	ca := camaterial.NewManager(log)

	x509Engine := x509issuer.New(st.ClientsX509(), st.Groups(), st.X509CA(), st.CertsX509(), ks, log)
	sshEngine := sshissuer.New(st.ClientsSsh(), st.Groups(), st.SSHCA(), st.CertsSsh(), ks, log)

	sessions := authsession.New(st.Sessions(), cfg.Session, encKeys.Pepper, log)
	passwords := maintenance.NewPasswordWorker()
	oidcFlow := oidcflow.New(st.OidcConfig(), st.Users(), st.Sessions(), ks, cfg.Oidc, cfg.Session, log)
	clientAuth := clientauth.New(st.ClientsX509(), st.ClientsSsh(), st.Groups(), ks)

	srv := httpapi.NewUnsealedServer(httpapi.Deps{
		Store: st, KeyStore: ks, CA: ca,
		X509Engine: x509Engine, SSHEngine: sshEngine,
		Sessions: sessions, OIDC: oidcFlow, ClientAuth: clientAuth,
		Passwords: passwords, Pepper: encKeys.Pepper,
		DevMode: cfg.Server.DevMode, PubURL: cfg.Server.PubURL, Log: log,
	})

	cleanup := func() {
		oidcFlow.Close()
		passwords.Exit()
	}
	return srv, cleanup, nil
}

// startClusterPropagator pushes this instance's master-key shards to every
// other registered sealed peer on a ticker, so a freshly-started cluster
// member can auto-unseal without an operator re-entering the shards by
// hand. rateLimit is the peers' unseal rate-limit window.
func startClusterPropagator(ctx context.Context, st store.Store, instanceID string, encKeys sealedstate.EncKeys, cfg *config.AutoUnsealConfig, rateLimit time.Duration, log logger.Logger) error {
	caIDBytes, err := st.MasterKey().Get(ctx, model.TagDefaultX509)
	if err != nil {
		return fmt.Errorf("look up default ca: %w", err)
	}
	root, err := st.X509CA().Get(ctx, string(caIDBytes), model.X509MaterialRoot)
	if err != nil {
		return fmt.Errorf("load root certificate: %w", err)
	}

	prop, err := cluster.New(st.Sealed(), instanceID, encKeys.MasterShard1, encKeys.MasterShard2, root.Data, cfg.Interval, rateLimit, log)
	if err != nil {
		return fmt.Errorf("build cluster propagator: %w", err)
	}
	go prop.Run(ctx)
	return nil
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn", "warning":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
