package model

import "time"

// Default values for derived item fields when no source property is found.
const (
	DefaultItemTitle = "Untitled"
)

// RemoteItem is a page inside a RemoteCollection. Title, IsCompleted and
// DueDate are derived from the page's properties on a best-effort basis.
type RemoteItem struct {
	ID                 string
	CredentialID       string
	ParentCollectionID string
	Title              string
	IsCompleted        bool
	DueDate            *time.Time
	URL                string
	UpdatedAt          time.Time
	LastSyncedAt       time.Time
}

// PropertyBag is the decoded, heterogeneous property map of a remote page,
// keyed by property name.
type PropertyBag map[string]map[string]any

// ItemPayload is a remote page as returned by the API, before extraction.
type ItemPayload struct {
	ID           string
	ParentID     string
	URL          string
	Archived     bool
	LastEditedAt time.Time
	Properties   PropertyBag
}

// ItemPage is one page of a cursor-paginated item listing.
type ItemPage struct {
	Items      []ItemPayload
	NextCursor string
	HasMore    bool
}
