// Package cluster implements auto-unseal propagation: an unsealed node
// holding both master-key shards pushes them to sibling instances that
// registered themselves as sealed, so a freshly started peer in a
// cluster unseals itself without an operator re-entering shards by hand.
package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

const httpTimeout = 10 * time.Second

// Propagator periodically pushes the two in-memory master-key shards to
// every sealed peer this instance knows about.
type Propagator struct {
	sealed     store.SealedRegistrationStore
	instanceID string
	shard1     string
	shard2     string
	rateLimit  time.Duration
	interval   time.Duration
	client     *http.Client
	log        logger.Logger
}

// New builds a Propagator. rootPEM pins the HTTPS client used to reach
// siblings to the system's own root certificate: cluster members only
// ever trust each other's CA, never the ambient trust store.
func New(sealed store.SealedRegistrationStore, instanceID, shard1, shard2 string, rootPEM []byte, interval, rateLimit time.Duration, log logger.Logger) (*Propagator, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootPEM) {
		return nil, fmt.Errorf("cluster: root PEM contains no usable certificate")
	}
	client := &http.Client{
		Timeout: httpTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}
	return &Propagator{
		sealed: sealed, instanceID: instanceID, shard1: shard1, shard2: shard2,
		rateLimit: rateLimit, interval: interval, client: client, log: log,
	}, nil
}

// Run blocks, pushing shards to every registered sealed peer once per
// interval, until ctx is cancelled.
func (p *Propagator) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.propagateOnce(ctx); err != nil {
				p.log.Warn("auto-unseal propagation pass failed", logger.Error(err))
			}
		}
	}
}

func (p *Propagator) propagateOnce(ctx context.Context) error {
	peers, err := p.sealed.List(ctx)
	if err != nil {
		return fmt.Errorf("list sealed registrations failed: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		if peer.InstanceID == p.instanceID || !peer.DirectAccess {
			continue
		}
		g.Go(func() error {
			if err := p.pushShards(gCtx, peer); err != nil {
				p.log.Warn("auto-unseal push to peer failed",
					logger.String("peer", peer.InstanceID), logger.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// pushShards fetches the peer's ephemeral xsrf, submits shard1, waits out
// the peer's rate-limit window, fetches a fresh xsrf (AddShard rotates it
// on every call, success or failure), then submits shard2.
func (p *Propagator) pushShards(ctx context.Context, peer *model.SealedRegistration) error {
	if err := p.pushOneShard(ctx, peer.URL, p.shard1); err != nil {
		metrics.AutoUnsealPushes.WithLabelValues(resultFor(err)).Inc()
		return err
	}
	metrics.AutoUnsealPushes.WithLabelValues("success").Inc()

	select {
	case <-time.After(p.rateLimit + time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.pushOneShard(ctx, peer.URL, p.shard2); err != nil {
		metrics.AutoUnsealPushes.WithLabelValues(resultFor(err)).Inc()
		return err
	}
	metrics.AutoUnsealPushes.WithLabelValues("success").Inc()
	return nil
}

func (p *Propagator) pushOneShard(ctx context.Context, baseURL, shard string) error {
	xsrf, err := p.fetchXsrf(ctx, baseURL)
	if err != nil {
		return err
	}

	body, err := json.Marshal(struct {
		Key  string `json:"key"`
		Xsrf string `json:"xsrf"`
	}{Key: shard, Xsrf: xsrf})
	if err != nil {
		return fmt.Errorf("marshal unseal/key body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/unseal/key", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build unseal/key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("unseal/key request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unseal/key returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Propagator) fetchXsrf(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/unseal/xsrf", nil)
	if err != nil {
		return "", fmt.Errorf("build unseal/xsrf request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("unseal/xsrf request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unseal/xsrf returned status %d", resp.StatusCode)
	}
	var out struct {
		Xsrf string `json:"xsrf"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode unseal/xsrf response: %w", err)
	}
	return out.Xsrf, nil
}

func resultFor(err error) string {
	if strings.Contains(err.Error(), "status") {
		return "rejected"
	}
	return "connection_error"
}

