package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/nioca/ca/internal/clientauth"
	"github.com/nioca/ca/internal/issuer/x509issuer"
)

// bearerAuthHeader extracts the bearer credential from a client-issuance
// request's Authorization header, independent of the cookie-session auth
// used by every other /api route; the handlers then validate it.
func bearerAuthHeader(r *http.Request) (string, error) {
	return clientauth.BearerToken(r.Header.Get("Authorization"))
}

func (s *UnsealedServer) handleIssueX509Cert(w http.ResponseWriter, r *http.Request) {
	token, err := bearerAuthHeader(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	clientID := r.PathValue("id")
	if _, err := s.clientAuth.AuthenticateX509(r.Context(), clientID, token); err != nil {
		writeError(w, s.log, err)
		return
	}

	format := x509issuer.FormatPEM
	if f := r.URL.Query().Get("format"); f == string(x509issuer.FormatDER) {
		format = x509issuer.FormatDER
	}
	result, err := s.x509Engine.Issue(r.Context(), x509issuer.IssueRequest{ClientID: clientID, Format: format})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	if format == x509issuer.FormatPEM {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"certPem":     string(result.CertPEM),
			"chainPem":    string(result.ChainPEM),
			"keyPem":      string(result.KeyPEM),
			"fingerprint": result.Fingerprint,
			"notAfter":    result.NotAfter.Unix(),
			"truncated":   result.Truncated,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"certDer":     base64.StdEncoding.EncodeToString(result.CertDER),
		"keyDer":      base64.StdEncoding.EncodeToString(result.KeyDER),
		"fingerprint": result.Fingerprint,
		"notAfter":    result.NotAfter.Unix(),
		"truncated":   result.Truncated,
	})
}

func (s *UnsealedServer) handleIssueX509CertP12(w http.ResponseWriter, r *http.Request) {
	token, err := bearerAuthHeader(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	clientID := r.PathValue("id")
	if _, err := s.clientAuth.AuthenticateX509(r.Context(), clientID, token); err != nil {
		writeError(w, s.log, err)
		return
	}

	result, err := s.x509Engine.Issue(r.Context(), x509issuer.IssueRequest{
		ClientID: clientID, Format: x509issuer.FormatPKCS12, Password: token,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="x509.p12"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.PKCS12)
}

func (s *UnsealedServer) handleIssueSSHCert(w http.ResponseWriter, r *http.Request) {
	token, err := bearerAuthHeader(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	clientID := r.PathValue("id")
	if _, err := s.clientAuth.AuthenticateSsh(r.Context(), clientID, token); err != nil {
		writeError(w, s.log, err)
		return
	}

	result, err := s.sshEngine.Issue(r.Context(), clientID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"privateKey":  string(result.PrivateKeyPEM),
		"certificate": string(result.CertAuthorized),
		"caPublicKey": string(result.CAPublicKey),
		"algorithm":   result.Algorithm,
		"certType":    string(result.CertType),
		"validBefore": result.ValidBefore.Unix(),
	})
}
