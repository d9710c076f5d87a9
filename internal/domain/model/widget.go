package model

import "time"

// WidgetKind names a rendering kind understood by the widget host.
type WidgetKind string

const (
	WidgetKindTaskList WidgetKind = "task_list"
	WidgetKindProgress WidgetKind = "progress"
	WidgetKindCalendar WidgetKind = "calendar"
)

// Valid reports whether k is a known widget kind.
func (k WidgetKind) Valid() bool {
	switch k {
	case WidgetKindTaskList, WidgetKindProgress, WidgetKindCalendar:
		return true
	}
	return false
}

// WidgetConfiguration binds a credential and an optional collection to a
// rendering kind. Deleting the referenced credential or collection orphans
// the configuration rather than deleting it.
type WidgetConfiguration struct {
	ID           string
	Name         string
	CredentialID string
	CollectionID string // Empty when the widget is not bound to a collection.
	Kind         WidgetKind
	Settings     []byte // Opaque, serialized by the widget host.
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
