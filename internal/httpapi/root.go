package httpapi

import (
	"net/http"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/model"
)

func (s *UnsealedServer) defaultCAID(r *http.Request) (string, error) {
	idBytes, err := s.st.MasterKey().Get(r.Context(), model.TagDefaultX509)
	if err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "default ca lookup failed", err)
	}
	return string(idBytes), nil
}

func (s *UnsealedServer) handleRootPEM(w http.ResponseWriter, r *http.Request) {
	caID, err := s.defaultCAID(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	root, err := s.st.X509CA().Get(r.Context(), caID, model.X509MaterialRoot)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "root certificate lookup failed", err))
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(root.Data)
}

func (s *UnsealedServer) handleRootFingerprint(w http.ResponseWriter, r *http.Request) {
	caID, err := s.defaultCAID(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	root, err := s.st.X509CA().Get(r.Context(), caID, model.X509MaterialRoot)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "root certificate lookup failed", err))
		return
	}
	res, err := s.ks.Open(r.Context(), root.EncryptedFingerprint, root.DataKeyID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": string(res.Plaintext)})
}
