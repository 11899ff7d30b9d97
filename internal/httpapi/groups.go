package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/model"
)

func (s *UnsealedServer) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.st.Groups().List(r.Context())
	if err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "group list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

type createGroupRequest struct {
	Name     string  `json:"name"`
	CaX509ID *string `json:"caX509Id"`
	CaSshID  *string `json:"caSshId"`
}

func (s *UnsealedServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, s.log, apierror.BadRequest("name is required"))
		return
	}
	g := &model.Group{ID: uuid.NewString(), Name: req.Name, Enabled: true, CaSshID: req.CaSshID}
	if req.CaX509ID != nil {
		typ := model.X509MaterialCertificate
		g.CaX509ID = req.CaX509ID
		g.CaX509Typ = &typ
	}
	if err := s.st.Groups().Create(r.Context(), g); err != nil {
		writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "group create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type updateGroupRequest struct {
	Name     *string `json:"name"`
	Enabled  *bool   `json:"enabled"`
	CaX509ID *string `json:"caX509Id"`
	CaSshID  *string `json:"caSshId"`
}

func (s *UnsealedServer) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	if req.CaX509ID != nil || req.CaSshID != nil {
		if err := s.ca.BindGroup(r.Context(), s.st.Groups(), id, req.CaX509ID, req.CaSshID); err != nil {
			writeError(w, s.log, err)
			return
		}
	}
	if req.Name != nil {
		if err := s.ca.RenameGroup(r.Context(), s.st.Groups(), id, *req.Name); err != nil {
			writeError(w, s.log, err)
			return
		}
	}
	if req.Enabled != nil {
		g, err := s.st.Groups().Get(r.Context(), id)
		if err != nil {
			writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "group lookup failed", err))
			return
		}
		g.Enabled = *req.Enabled
		if err := s.st.Groups().Update(r.Context(), g); err != nil {
			writeError(w, s.log, apierror.Wrap(apierror.KindDatabase, "group update failed", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *UnsealedServer) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.ca.DeleteGroup(r.Context(), s.st.Groups(), s.st.ClientsX509(), s.st.ClientsSsh(), r.PathValue("id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
