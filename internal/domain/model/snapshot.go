package model

import "time"

// The record types below are the self-describing values written to the
// shared cross-process store. Field names are part of the contract with
// rendering surfaces.

// TokenSnapshot is the lightweight projection of a Credential.
type TokenSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Activated bool   `json:"activated"`
}

// CollectionSnapshot is the projection of a RemoteCollection.
type CollectionSnapshot struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	URL           string `json:"url,omitempty"`
	WidgetEnabled bool   `json:"widgetEnabled"`
	WidgetKind    string `json:"widgetKind,omitempty"`
}

// ItemSnapshot is the projection of a RemoteItem.
type ItemSnapshot struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"isCompleted"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// ItemsSnapshot is the TTL-stamped item list of one collection.
type ItemsSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Items     []ItemSnapshot `json:"items"`
}

// ProgressSnapshot is the TTL-stamped completion summary of one collection.
type ProgressSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Percent   float64   `json:"percent"`
}

// WidgetSnapshot is the projection of a non-orphaned WidgetConfiguration.
type WidgetSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CredentialID string `json:"credentialID"`
	CollectionID string `json:"collectionID,omitempty"`
	Kind         string `json:"kind"`
	Settings     string `json:"settings,omitempty"`
}
