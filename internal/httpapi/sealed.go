package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/sealedstate"
)

// SealedServer exposes the endpoints reachable before the instance holds
// a reconstructed master key: init, shard collection, unseal, and the
// status probes cluster peers and operators poll.
type SealedServer struct {
	machine *sealedstate.Machine
	log     logger.Logger
}

func NewSealedServer(machine *sealedstate.Machine, log logger.Logger) *SealedServer {
	return &SealedServer{machine: machine, log: log}
}

// Handler builds the sealed-phase mux. Every route here is reachable
// without a session: authorization is the init key or the ephemeral xsrf
// token, per spec.md's sealed HTTP surface.
func (s *SealedServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /unseal/init", s.handleInit)
	mux.HandleFunc("POST /unseal/init/check", s.handleInitCheck)
	mux.HandleFunc("POST /unseal/key", s.handleAddShard)
	mux.HandleFunc("GET /unseal/status", s.handleStatus)
	mux.HandleFunc("POST /unseal/execute", s.handleUnseal)
	mux.HandleFunc("GET /unseal/xsrf", s.handleXsrf)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

type initRequest struct {
	LocalPassword                string `json:"localPassword"`
	RootPem                      string `json:"rootPem"`
	IntermediatePem              string `json:"intermediatePem"`
	IntermediateKeyCiphertextHex string `json:"intermediateKeyCiphertextHex"`
	IntermediatePassword         string `json:"intermediatePassword"`
	InitKey                      string `json:"initKey"`
	Xsrf                         string `json:"xsrf"`
}

func (s *SealedServer) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	result, err := s.machine.Init(r.Context(), sealedstate.InitRequest{
		LocalPassword:                req.LocalPassword,
		RootPEM:                      []byte(req.RootPem),
		IntermediatePEM:              []byte(req.IntermediatePem),
		IntermediateKeyCiphertextHex: req.IntermediateKeyCiphertextHex,
		IntermediatePassword:         req.IntermediatePassword,
		InitKey:                      req.InitKey,
		XsrfKey:                      req.Xsrf,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInitCheck validates the root/intermediate chain and the
// intermediate key's decryptability without persisting anything, so an
// operator's init form can report a bad PEM or password before the
// one-time shard values are ever generated.
func (s *SealedServer) handleInitCheck(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	_, intermediate, err := camaterial.ValidateX509Chain([]byte(req.RootPem), []byte(req.IntermediatePem))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := hex.DecodeString(req.IntermediateKeyCiphertextHex); err != nil {
		writeError(w, s.log, apierror.BadRequest("intermediate key ciphertext is not valid hex"))
		return
	}
	if _, _, err := camaterial.DecryptIntermediateKey(req.IntermediateKeyCiphertextHex, req.IntermediatePassword, intermediate); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

type addShardRequest struct {
	Key  string `json:"key"`
	Xsrf string `json:"xsrf"`
}

func (s *SealedServer) handleAddShard(w http.ResponseWriter, r *http.Request) {
	var req addShardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.machine.AddShard(r.Context(), req.Key, req.Xsrf); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.machine.State())})
}

type unsealRequest struct {
	Xsrf string `json:"xsrf"`
}

func (s *SealedServer) handleUnseal(w http.ResponseWriter, r *http.Request) {
	var req unsealRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := s.machine.Unseal(r.Context(), req.Xsrf); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(sealedstate.StateUnsealed)})
}

func (s *SealedServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.machine.State())})
}

func (s *SealedServer) handleXsrf(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"xsrf": s.machine.CurrentXsrf()})
}
