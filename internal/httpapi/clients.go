package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/cryptoutil"
	"github.com/nioca/ca/internal/model"
)

// apiKeyLen matches the length clientauth.Validator.rotate generates for a
// client API key.
const apiKeyLen = 48

func cryptoRandomAPIKey() (string, error) {
	return cryptoutil.RandomString(apiKeyLen)
}

func (s *UnsealedServer) handleListX509Clients(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("groupId")
	if groupID == "" {
		writeError(w, s.log, apierror.BadRequest("groupId is required"))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), groupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	clients, err := s.st.ClientsX509().ListByGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

type createX509ClientRequest struct {
	Name               string `json:"name"`
	GroupID            string `json:"groupId"`
	CommonName         string `json:"commonName"`
	Country            string `json:"country"`
	Locality           string `json:"locality"`
	OrganizationalUnit string `json:"organizationalUnit"`
	Organization       string `json:"organization"`
	StateOrProvince    string `json:"stateOrProvince"`
	DNSNames           string `json:"dnsNames"`
	IPAddresses        string `json:"ipAddresses"`
	KeyUsage           uint32 `json:"keyUsage"`
	ExtKeyUsage        uint32 `json:"extKeyUsage"`
	Algorithm          string `json:"algorithm"`
	ValidHours         int    `json:"validHours"`
}

func (s *UnsealedServer) handleCreateX509Client(w http.ResponseWriter, r *http.Request) {
	var req createX509ClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Name == "" || req.GroupID == "" || req.CommonName == "" {
		writeError(w, s.log, apierror.BadRequest("name, groupId and commonName are required"))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), req.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}

	apiKey, err := cryptoRandomAPIKey()
	if err != nil {
		writeError(w, s.log, apierror.Internal(err))
		return
	}
	ciphertext, dataKeyID, err := s.ks.Seal(r.Context(), []byte(apiKey))
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	c := &model.ClientX509{
		ID: uuid.NewString(), Name: req.Name, Enabled: true, GroupID: req.GroupID,
		EncryptedAPIKey: ciphertext, DataKeyID: dataKeyID,
		CommonName: req.CommonName, Country: req.Country, Locality: req.Locality,
		OrganizationalUnit: req.OrganizationalUnit, Organization: req.Organization,
		StateOrProvince: req.StateOrProvince, DNSNames: req.DNSNames, IPAddresses: req.IPAddresses,
		KeyUsage: model.KeyUsageBits(req.KeyUsage), ExtKeyUsage: model.KeyUsageBits(req.ExtKeyUsage),
		Algorithm: req.Algorithm, ValidHours: req.ValidHours,
	}
	if err := s.st.ClientsX509().Create(r.Context(), c); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID, "apiKey": apiKey})
}

type updateX509ClientRequest struct {
	Name        *string `json:"name"`
	Enabled     *bool   `json:"enabled"`
	DNSNames    *string `json:"dnsNames"`
	IPAddresses *string `json:"ipAddresses"`
	ValidHours  *int    `json:"validHours"`
}

func (s *UnsealedServer) handleUpdateX509Client(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.st.ClientsX509().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), c.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	var req updateX509ClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	if req.DNSNames != nil {
		c.DNSNames = *req.DNSNames
	}
	if req.IPAddresses != nil {
		c.IPAddresses = *req.IPAddresses
	}
	if req.ValidHours != nil {
		c.ValidHours = *req.ValidHours
	}
	if err := s.st.ClientsX509().Update(r.Context(), c); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client update failed", err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *UnsealedServer) handleDeleteX509Client(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.st.ClientsX509().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), c.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.st.ClientsX509().Delete(r.Context(), id); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client delete failed", err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *UnsealedServer) handleRotateX509Client(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.st.ClientsX509().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), c.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	key, err := s.clientAuth.RotateX509Key(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"apiKey": key})
}

func (s *UnsealedServer) handleListSSHClients(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("groupId")
	if groupID == "" {
		writeError(w, s.log, apierror.BadRequest("groupId is required"))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), groupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	clients, err := s.st.ClientsSsh().ListByGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

type createSSHClientRequest struct {
	Name                  string `json:"name"`
	GroupID               string `json:"groupId"`
	CertType              string `json:"certType"`
	Principals            string `json:"principals"`
	Algorithm             string `json:"algorithm"`
	ValidSecs             int    `json:"validSecs"`
	PermitX11Forwarding   bool   `json:"permitX11Forwarding"`
	PermitAgentForwarding bool   `json:"permitAgentForwarding"`
	PermitPortForwarding  bool   `json:"permitPortForwarding"`
	PermitPTY             bool   `json:"permitPty"`
	PermitUserRC          bool   `json:"permitUserRc"`
	ForceCommand          string `json:"forceCommand"`
	SourceAddress         string `json:"sourceAddress"`
}

func (s *UnsealedServer) handleCreateSSHClient(w http.ResponseWriter, r *http.Request) {
	var req createSSHClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Name == "" || req.GroupID == "" || req.Principals == "" {
		writeError(w, s.log, apierror.BadRequest("name, groupId and principals are required"))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), req.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}

	apiKey, err := cryptoRandomAPIKey()
	if err != nil {
		writeError(w, s.log, apierror.Internal(err))
		return
	}
	ciphertext, dataKeyID, err := s.ks.Seal(r.Context(), []byte(apiKey))
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	c := &model.ClientSsh{
		ID: uuid.NewString(), Name: req.Name, Enabled: true, GroupID: req.GroupID,
		EncryptedAPIKey: ciphertext, DataKeyID: dataKeyID,
		CertType: model.SshCertType(req.CertType), Principals: req.Principals,
		Algorithm: req.Algorithm, ValidSecs: req.ValidSecs,
		PermitX11Forwarding: req.PermitX11Forwarding, PermitAgentForwarding: req.PermitAgentForwarding,
		PermitPortForwarding: req.PermitPortForwarding, PermitPTY: req.PermitPTY, PermitUserRC: req.PermitUserRC,
		ForceCommand: req.ForceCommand, SourceAddress: req.SourceAddress,
	}
	if err := s.st.ClientsSsh().Create(r.Context(), c); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID, "apiKey": apiKey})
}

type updateSSHClientRequest struct {
	Name       *string `json:"name"`
	Enabled    *bool   `json:"enabled"`
	Principals *string `json:"principals"`
	ValidSecs  *int    `json:"validSecs"`
}

func (s *UnsealedServer) handleUpdateSSHClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.st.ClientsSsh().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), c.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	var req updateSSHClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	if req.Principals != nil {
		c.Principals = *req.Principals
	}
	if req.ValidSecs != nil {
		c.ValidSecs = *req.ValidSecs
	}
	if err := s.st.ClientsSsh().Update(r.Context(), c); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client update failed", err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *UnsealedServer) handleDeleteSSHClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.st.ClientsSsh().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), c.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.st.ClientsSsh().Delete(r.Context(), id); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client delete failed", err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *UnsealedServer) handleRotateSSHClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.st.ClientsSsh().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "client lookup failed", err))
		return
	}
	if err := s.authorizeGroupAction(r.Context(), sessionFromContext(r.Context()), c.GroupID); err != nil {
		writeError(w, s.log, err)
		return
	}
	key, err := s.clientAuth.RotateSshKey(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"apiKey": key})
}
