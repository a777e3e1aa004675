// Package audit serializes the impersonated end-user identity into request
// metadata, so backend nodes can attribute audit records to the proper
// authenticated users instead of the router's internal user.
package audit

import (
	shardclient "github.com/vivicoco/go-shardclient"
)

// Metadata fields appended to outgoing requests.
const (
	usersKey = "impersonatedUsers"
	rolesKey = "impersonatedRoles"
)

// UserName identifies an authenticated user within an authentication
// database.
type UserName struct {
	Name string
	DB   string
}

// RoleName identifies a role within an authentication database.
type RoleName struct {
	Name string
	DB   string
}

// Identity is the set of users and roles the router is acting on behalf of.
type Identity struct {
	Users []UserName
	Roles []RoleName
}

// Provider reports the identity active for the request being sent, if any.
// The router's session layer implements it.
type Provider interface {
	ActiveIdentity() (Identity, bool)
}

// Writer appends the impersonated identity to request metadata. Implements
// shardclient.IdentityWriter.
type Writer struct {
	provider Provider
}

// NewWriter builds a Writer over an identity provider.
func NewWriter(p Provider) *Writer {
	return &Writer{provider: p}
}

// WriteImpersonatedIdentity appends the active identity to the metadata
// document. Nothing is appended when no identity is active.
func (w *Writer) WriteImpersonatedIdentity(meta shardclient.Document) error {
	if w == nil || w.provider == nil {
		return nil
	}
	id, ok := w.provider.ActiveIdentity()
	if !ok {
		return nil
	}

	if len(id.Users) > 0 {
		users := make([]interface{}, 0, len(id.Users))
		for _, u := range id.Users {
			users = append(users, map[string]interface{}{
				"user": u.Name,
				"db":   u.DB,
			})
		}
		meta[usersKey] = users
	}

	if len(id.Roles) > 0 {
		roles := make([]interface{}, 0, len(id.Roles))
		for _, r := range id.Roles {
			roles = append(roles, map[string]interface{}{
				"role": r.Name,
				"db":   r.DB,
			})
		}
		meta[rolesKey] = roles
	}
	return nil
}
