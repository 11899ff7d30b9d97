package sealedstate

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/keystore"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// Machine is the sealed-state machine. A single read-write lock guards
// the entire check-and-update of add-shard and unseal so rate limiting
// and xsrf rotation are atomic.
type Machine struct {
	mu sync.RWMutex

	st         store.Store
	ca         *camaterial.Manager
	log        logger.Logger
	initKey    string
	instanceID string
	rateLimit  time.Duration

	state       State
	xsrf        string
	shard1      *string
	shard2      *string
	nextAllowed time.Time

	encKeysCh chan EncKeys
}

// New constructs a Machine, determining its initial state from whether the
// master_key table has ever been written. instanceID identifies this
// process in the sealed-registration table used by cluster auto-unseal.
func New(ctx context.Context, st store.Store, log logger.Logger, initKey, instanceID string, rateLimitSeconds int) (*Machine, error) {
	rl := rateLimitDefault
	if rateLimitSeconds > 0 {
		rl = time.Duration(rateLimitSeconds) * time.Second
	}

	m := &Machine{
		st:         st,
		ca:         camaterial.NewManager(log),
		log:        log,
		initKey:    initKey,
		instanceID: instanceID,
		rateLimit:  rl,
		encKeysCh:  make(chan EncKeys, 1),
	}

	initialized, err := st.MasterKey().Exists(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "master key lookup failed", err)
	}
	if initialized {
		m.state = StateSealedAwaitingShards
	} else {
		m.state = StateUninitialized
	}

	xsrf, err := cryptoutil.RandomString(48)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	m.xsrf = xsrf

	return m, nil
}

// State reports the current lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentXsrf returns the ephemeral xsrf token callers must echo on
// add-shard and unseal.
func (m *Machine) CurrentXsrf() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xsrf
}

func (m *Machine) rotateXsrfLocked() {
	token, err := cryptoutil.RandomString(48)
	if err != nil {
		return
	}
	m.xsrf = token
}

// EncKeysChan is read once by the unsealed server at startup to receive
// the handoff from a successful unseal.
func (m *Machine) EncKeysChan() <-chan EncKeys { return m.encKeysCh }

// Init performs the Uninitialized -> SealedAwaitingShards transition.
func (m *Machine) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUninitialized {
		return nil, apierror.ServiceUnavailable("instance is already initialized")
	}
	if subtle.ConstantTimeCompare([]byte(req.InitKey), []byte(m.initKey)) != 1 {
		return nil, apierror.Unauthorized("invalid init key")
	}
	if subtle.ConstantTimeCompare([]byte(req.XsrfKey), []byte(m.xsrf)) != 1 {
		return nil, apierror.BadRequest("xsrf mismatch")
	}
	if len(req.LocalPassword) < 16 || len(req.LocalPassword) > 128 {
		return nil, apierror.BadRequest("password must be between 16 and 128 characters")
	}

	_, intermediate, err := camaterial.ValidateX509Chain(req.RootPEM, req.IntermediatePEM)
	if err != nil {
		return nil, err
	}
	if _, _, err := camaterial.DecryptIntermediateKey(req.IntermediateKeyCiphertextHex, req.IntermediatePassword, intermediate); err != nil {
		return nil, err
	}

	shard1, err := cryptoutil.GenerateShard()
	if err != nil {
		return nil, apierror.Internal(err)
	}
	shard2, err := cryptoutil.GenerateShard()
	if err != nil {
		return nil, apierror.Internal(err)
	}

	pepper := append([]byte(shard1), []byte(shard2)...)
	masterKey := cryptoutil.KDFDangerStatic(pepper)
	checkShard1 := cryptoutil.KDFDangerStatic([]byte(shard1))
	checkShard2 := cryptoutil.KDFDangerStatic([]byte(shard2))
	checkMaster := cryptoutil.KDFDangerStatic(masterKey)

	passwordHash, err := cryptoutil.HashPassword([]byte(req.LocalPassword), pepper)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	result := &InitResult{MasterShard1: shard1, MasterShard2: shard2}

	err = m.st.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		ks := keystore.New(tx.DataKeys(), tx.MasterKey(), masterKey, "")
		dataKeyID, err := ks.CreateDataKey(ctx)
		if err != nil {
			return err
		}
		ks.SetActiveDataKeyID(dataKeyID)

		caID, err := m.ca.ImportX509CA(ctx, tx.X509CA(), ks, "default",
			req.RootPEM, req.IntermediatePEM, req.IntermediateKeyCiphertextHex, req.IntermediatePassword)
		if err != nil {
			return err
		}

		groupID, err := m.ca.EnsureDefaultGroup(ctx, tx.Groups(), caID, model.X509MaterialCertificate)
		if err != nil {
			return err
		}

		if err := tx.MasterKey().Set(ctx, model.TagCheckShard1, checkShard1); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist check_shard_1 failed", err)
		}
		if err := tx.MasterKey().Set(ctx, model.TagCheckShard2, checkShard2); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist check_shard_2 failed", err)
		}
		if err := tx.MasterKey().Set(ctx, model.TagCheckMaster, checkMaster); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist check_master failed", err)
		}
		if err := tx.MasterKey().Set(ctx, model.TagEncKeyActive, []byte(dataKeyID)); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist enc_key_active failed", err)
		}
		if err := tx.MasterKey().Set(ctx, model.TagInitialized, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist initialized failed", err)
		}
		if err := tx.MasterKey().Set(ctx, model.TagLocalPassword, passwordHash); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist local_password failed", err)
		}
		if err := tx.MasterKey().Set(ctx, model.TagDefaultX509, []byte(caID)); err != nil {
			return apierror.Wrap(apierror.KindDatabase, "persist default_x509 failed", err)
		}

		result.CaID = caID
		result.GroupID = groupID
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.state = StateSealedAwaitingShards
	metrics.SealedStateTransitions.WithLabelValues(string(StateUninitialized), string(StateSealedAwaitingShards)).Inc()
	m.log.Info("instance initialized", logger.String("ca_id", result.CaID))

	return result, nil
}

// AddShard implements the SealedX -> next transition for POST /unseal/key.
// The whole check-and-update runs under the write lock so rate limiting
// and xsrf rotation are atomic.
func (m *Machine) AddShard(ctx context.Context, key, xsrf string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUninitialized || m.state == StateUnsealed {
		return apierror.ServiceUnavailable("instance is not awaiting shards")
	}

	if time.Now().Before(m.nextAllowed) {
		metrics.ShardSubmissions.WithLabelValues("rate_limited").Inc()
		return apierror.TooManyRequests("rate limit exceeded, try again later")
	}
	m.nextAllowed = time.Now().Add(m.rateLimit)

	if subtle.ConstantTimeCompare([]byte(xsrf), []byte(m.xsrf)) != 1 {
		m.rotateXsrfLocked()
		metrics.ShardSubmissions.WithLabelValues("xsrf_mismatch").Inc()
		return apierror.BadRequest("xsrf mismatch")
	}
	m.rotateXsrfLocked()

	check1, err := m.st.MasterKey().Get(ctx, model.TagCheckShard1)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "check_shard_1 lookup failed", err)
	}
	check2, err := m.st.MasterKey().Get(ctx, model.TagCheckShard2)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "check_shard_2 lookup failed", err)
	}

	digest := cryptoutil.KDFDangerStatic([]byte(key))

	matchedSlot := 0
	if subtle.ConstantTimeCompare(digest, check1) == 1 {
		matchedSlot = 1
	} else if subtle.ConstantTimeCompare(digest, check2) == 1 {
		matchedSlot = 2
	}

	switch matchedSlot {
	case 1:
		if m.shard1 != nil {
			metrics.ShardSubmissions.WithLabelValues("mismatch").Inc()
			return apierror.BadRequest("Incorrect Key Shard")
		}
		m.shard1 = &key
	case 2:
		if m.shard2 != nil {
			metrics.ShardSubmissions.WithLabelValues("mismatch").Inc()
			return apierror.BadRequest("Incorrect Key Shard")
		}
		m.shard2 = &key
	default:
		metrics.ShardSubmissions.WithLabelValues("mismatch").Inc()
		return apierror.BadRequest("Incorrect Key Shard")
	}

	metrics.ShardSubmissions.WithLabelValues("accepted").Inc()

	prev := m.state
	if m.shard1 != nil && m.shard2 != nil {
		m.state = StateSealedReady
	} else {
		m.state = StateSealedWithOneShard
	}
	if prev != m.state {
		metrics.SealedStateTransitions.WithLabelValues(string(prev), string(m.state)).Inc()
	}

	return nil
}

// Unseal implements SealedReady -> Unsealed for POST /unseal/execute.
func (m *Machine) Unseal(ctx context.Context, xsrf string) (*EncKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(xsrf), []byte(m.xsrf)) != 1 {
		return nil, apierror.BadRequest("xsrf mismatch")
	}
	if m.state != StateSealedReady || m.shard1 == nil || m.shard2 == nil {
		return nil, apierror.ServiceUnavailable("both shards have not been submitted")
	}

	pepper := append([]byte(*m.shard1), []byte(*m.shard2)...)
	masterKey := cryptoutil.KDFDangerStatic(pepper)
	checkMaster := cryptoutil.KDFDangerStatic(masterKey)

	stored, err := m.st.MasterKey().Get(ctx, model.TagCheckMaster)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "check_master lookup failed", err)
	}
	if subtle.ConstantTimeCompare(checkMaster, stored) != 1 {
		return nil, apierror.BadRequest("shard reconstruction failed")
	}

	activeIDBytes, err := m.st.MasterKey().Get(ctx, model.TagEncKeyActive)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "enc_key_active lookup failed", err)
	}
	activeID := string(activeIDBytes)

	ks := keystore.New(m.st.DataKeys(), m.st.MasterKey(), masterKey, activeID)

	defaultCaBytes, err := m.st.MasterKey().Get(ctx, model.TagDefaultX509)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "default_x509 lookup failed", err)
	}
	ca := camaterial.NewManager(m.log)
	if _, _, err := ca.LoadIntermediateSigner(ctx, m.st.X509CA(), ks, string(defaultCaBytes)); err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "sanity load of default CA failed", err)
	}

	if m.instanceID != "" {
		if err := m.st.Sealed().Delete(ctx, m.instanceID); err != nil {
			m.log.Warn("failed to delete sealed registration on unseal", logger.Error(err))
		}
	}

	prev := m.state
	m.state = StateUnsealed
	metrics.SealedStateTransitions.WithLabelValues(string(prev), string(m.state)).Inc()

	enc := EncKeys{
		MasterShard1:    *m.shard1,
		MasterShard2:    *m.shard2,
		MasterKey:       masterKey,
		Pepper:          pepper,
		ActiveDataKeyID: activeID,
	}
	m.encKeysCh <- enc
	return &enc, nil
}

// InstanceID returns the identifier this machine registers under in the
// sealed-registration table.
func (m *Machine) InstanceID() string { return m.instanceID }
