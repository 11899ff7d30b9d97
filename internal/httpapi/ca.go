package httpapi

import (
	"net/http"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/model"
)

func (s *UnsealedServer) handleListX509CA(w http.ResponseWriter, r *http.Request) {
	ids, err := s.st.X509CA().ListCAs(r.Context())
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "ca list failed", err))
		return
	}
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		root, err := s.st.X509CA().Get(r.Context(), id, model.X509MaterialRoot)
		if err != nil {
			writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "root certificate lookup failed", err))
			return
		}
		out = append(out, map[string]interface{}{"id": id, "name": root.Name, "notAfter": root.NotAfter})
	}
	writeJSON(w, http.StatusOK, out)
}

type importX509CARequest struct {
	Name                         string `json:"name"`
	RootPem                      string `json:"rootPem"`
	IntermediatePem              string `json:"intermediatePem"`
	IntermediateKeyCiphertextHex string `json:"intermediateKeyCiphertextHex"`
	Password                     string `json:"password"`
}

func (s *UnsealedServer) handleImportX509CA(w http.ResponseWriter, r *http.Request) {
	var req importX509CARequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	caID, err := s.ca.ImportX509CA(r.Context(), s.st.X509CA(), s.ks, req.Name,
		[]byte(req.RootPem), []byte(req.IntermediatePem), req.IntermediateKeyCiphertextHex, req.Password)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": caID})
}

func (s *UnsealedServer) handleDeleteX509CA(w http.ResponseWriter, r *http.Request) {
	if err := s.ca.DeleteX509CA(r.Context(), s.st.X509CA(), s.st.Groups(), r.PathValue("id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *UnsealedServer) handleListSSHCA(w http.ResponseWriter, r *http.Request) {
	rows, err := s.st.SSHCA().List(r.Context())
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "ssh ca list failed", err))
		return
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]string{"id": row.ID, "name": row.Name, "publicKey": row.PublicKey})
	}
	writeJSON(w, http.StatusOK, out)
}

type createSSHCARequest struct {
	Name          string `json:"name"`
	Algorithm     string `json:"algorithm"`
	PrivateKeyPem string `json:"privateKeyPem"`
}

func (s *UnsealedServer) handleCreateSSHCA(w http.ResponseWriter, r *http.Request) {
	var req createSSHCARequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	var id string
	var err error
	if req.PrivateKeyPem != "" {
		id, err = s.ca.ImportSSHCA(r.Context(), s.st.SSHCA(), s.ks, req.Name, []byte(req.PrivateKeyPem))
	} else {
		algo := cryptoutil.KeyType(req.Algorithm)
		if algo == "" {
			algo = cryptoutil.KeyTypeEd25519
		}
		id, err = s.ca.GenerateSSHCA(r.Context(), s.st.SSHCA(), s.ks, req.Name, algo)
	}
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *UnsealedServer) handleDeleteSSHCA(w http.ResponseWriter, r *http.Request) {
	if err := s.ca.DeleteSSHCA(r.Context(), s.st.SSHCA(), s.st.Groups(), r.PathValue("id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
