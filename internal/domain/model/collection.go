package model

import "time"

// RemoteCollection is a remote database owned by exactly one credential.
// WidgetEnabled and WidgetKind are local-only and survive refreshes.
type RemoteCollection struct {
	ID            string
	CredentialID  string
	Title         string
	Description   string
	URL           string
	CreatedAt     time.Time // Zero when the remote did not report it.
	UpdatedAt     time.Time
	WidgetEnabled bool
	WidgetKind    string
	LastSyncedAt  time.Time
}

// CollectionSummary is a search hit returned by the remote collection listing.
type CollectionSummary struct {
	ID        string
	Title     string
	URL       string
	UpdatedAt time.Time
}
