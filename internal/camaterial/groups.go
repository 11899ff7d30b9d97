package camaterial

import (
	"context"

	"github.com/google/uuid"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/model"
	"github.com/nioca/ca/internal/store"
)

// EnsureDefaultGroup creates the immutable "default" group pointing at
// caID if no group named "default" exists yet, used by init.
func (m *Manager) EnsureDefaultGroup(ctx context.Context, st store.GroupStore, caX509ID string, caX509Typ model.X509MaterialType) (string, error) {
	if g, err := st.GetByName(ctx, DefaultGroupName); err == nil {
		return g.ID, nil
	} else if err != store.ErrNotFound {
		return "", apierror.Wrap(apierror.KindDatabase, "default group lookup failed", err)
	}

	id := uuid.NewString()
	g := &model.Group{
		ID: id, Name: DefaultGroupName, Enabled: true,
		CaX509ID: &caX509ID, CaX509Typ: &caX509Typ,
	}
	if err := st.Create(ctx, g); err != nil {
		return "", apierror.Wrap(apierror.KindDatabase, "create default group failed", err)
	}
	return id, nil
}

// BindGroup attaches an X.509 and/or SSH CA to a group. The default
// group's name may never change.
func (m *Manager) BindGroup(ctx context.Context, st store.GroupStore, groupID string, caX509ID *string, caSshID *string) error {
	g, err := st.Get(ctx, groupID)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group lookup failed", err)
	}
	if caX509ID != nil {
		typ := model.X509MaterialCertificate
		g.CaX509ID = caX509ID
		g.CaX509Typ = &typ
	}
	if caSshID != nil {
		g.CaSshID = caSshID
	}
	if err := st.Update(ctx, g); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group update failed", err)
	}
	return nil
}

// RenameGroup rejects attempts to rename the immutable "default" group.
func (m *Manager) RenameGroup(ctx context.Context, st store.GroupStore, groupID, newName string) error {
	g, err := st.Get(ctx, groupID)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group lookup failed", err)
	}
	if g.Name == DefaultGroupName {
		return apierror.BadRequest("the default group's name is immutable")
	}
	g.Name = newName
	if err := st.Update(ctx, g); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group update failed", err)
	}
	return nil
}

// ClientRefs is the blocking-client-id enumeration returned when a delete
// is refused, consumed by the {typ, message, details} error envelope.
type ClientRefs struct {
	X509 []string
	Ssh  []string
}

// DeleteGroup deletes a group, blocked while any client references it.
// Deletion of the "default" group is never permitted.
func (m *Manager) DeleteGroup(ctx context.Context, st store.GroupStore, clientsX509 store.ClientX509Store, clientsSsh store.ClientSshStore, groupID string) error {
	g, err := st.Get(ctx, groupID)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group lookup failed", err)
	}
	if g.Name == DefaultGroupName {
		return apierror.BadRequest("the default group cannot be deleted")
	}

	x509Clients, err := clientsX509.ListByGroup(ctx, groupID)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	sshClients, err := clientsSsh.ListByGroup(ctx, groupID)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "client lookup failed", err)
	}
	if len(x509Clients) > 0 || len(sshClients) > 0 {
		refs := ClientRefs{}
		for _, c := range x509Clients {
			refs.X509 = append(refs.X509, c.ID)
		}
		for _, c := range sshClients {
			refs.Ssh = append(refs.Ssh, c.ID)
		}
		return apierror.BadRequest("group %q has referencing clients", g.Name).
			WithDetails("x509_clients", refs.X509).
			WithDetails("ssh_clients", refs.Ssh)
	}

	if err := st.Delete(ctx, groupID); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group delete failed", err)
	}
	return nil
}

// DeleteX509CA deletes an X.509 CA. Deletion never cascades: it is
// blocked the same way group deletion is, only when a group still
// references the CA.
func (m *Manager) DeleteX509CA(ctx context.Context, st store.X509CAStore, groups store.GroupStore, caID string) error {
	all, err := groups.List(ctx)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group list failed", err)
	}
	for _, g := range all {
		if g.CaX509ID != nil && *g.CaX509ID == caID {
			return apierror.BadRequest("CA %q is referenced by group %q", caID, g.Name)
		}
	}
	if err := st.Delete(ctx, caID); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "ca delete failed", err)
	}
	return nil
}

// DeleteSSHCA mirrors DeleteX509CA for SSH CAs.
func (m *Manager) DeleteSSHCA(ctx context.Context, st store.SSHCAStore, groups store.GroupStore, caID string) error {
	all, err := groups.List(ctx)
	if err != nil {
		return apierror.Wrap(apierror.KindDatabase, "group list failed", err)
	}
	for _, g := range all {
		if g.CaSshID != nil && *g.CaSshID == caID {
			return apierror.BadRequest("CA %q is referenced by group %q", caID, g.Name)
		}
	}
	if err := st.Delete(ctx, caID); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "ca delete failed", err)
	}
	return nil
}
