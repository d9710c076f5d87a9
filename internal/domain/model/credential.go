package model

import "time"

// Credential identifies one remote workspace connection. The secret itself
// lives in the secret store under SecretRef and is never part of this record.
type Credential struct {
	ID            string
	Name          string
	SecretRef     string
	Connected     bool
	Activated     bool
	WorkspaceID   string // Empty until the first successful validation.
	WorkspaceName string
	LastValidated time.Time // Zero if never validated.
	CreatedAt     time.Time
}

// Usable reports whether the credential may be used for synchronization.
func (c Credential) Usable() bool {
	return c.Connected && c.Activated
}

// Identity is the remote account a secret resolves to.
type Identity struct {
	ID            string
	Name          string
	WorkspaceID   string
	WorkspaceName string
}
