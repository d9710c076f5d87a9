package application

import (
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// Derived item fields are read from a heterogeneous property bag with an
// ordered list of rules. Each rule pairs a property-name predicate with the
// value representations to try on matching properties; the first
// representation that yields a value wins. Nothing here returns an error: a
// bag that matches no rule yields the field's default.

type property = map[string]any

type stringExtractor func(prop property) (string, bool)

type boolExtractor func(prop property) (bool, bool)

type timeExtractor func(prop property) (time.Time, bool)

type titleRule struct {
	matches    func(name string, prop property) bool
	extractors []stringExtractor
}

type completionRule struct {
	matches    func(name string, prop property) bool
	extractors []boolExtractor
}

type dueDateRule struct {
	matches    func(name string, prop property) bool
	extractors []timeExtractor
}

var (
	titleNameHints      = []string{"title", "name"}
	completionNameHints = []string{"status", "complete", "done", "completed", "checkbox"}
	dueDateNameHints    = []string{"date", "due", "deadline", "due date"}

	completedOptionNames = []string{"done", "complete", "completed"}

	// dueDateLayouts are tried in order: fractional seconds, whole seconds,
	// date only.
	dueDateLayouts = []string{
		"2006-01-02T15:04:05.000Z07:00",
		time.RFC3339,
		"2006-01-02",
	}
)

var titleRules = []titleRule{
	{
		matches:    nameContainsAny(titleNameHints),
		extractors: []stringExtractor{titleArray, plainTextValue, richTextArray},
	},
	{
		// Every collection has exactly one title-typed property, whatever
		// it is called.
		matches:    hasKey("title"),
		extractors: []stringExtractor{titleArray},
	},
}

var completionRules = []completionRule{
	{
		matches:    nameContainsAny(completionNameHints),
		extractors: []boolExtractor{checkboxValue, completedOption},
	},
}

var dueDateRules = []dueDateRule{
	{
		matches:    nameContainsAny(dueDateNameHints),
		extractors: []timeExtractor{dateStart},
	},
}

// extractTitle returns the item title, or model.DefaultItemTitle.
func extractTitle(props model.PropertyBag) string {
	for _, rule := range titleRules {
		for _, name := range sortedNames(props) {
			prop := props[name]
			if !rule.matches(name, prop) {
				continue
			}
			for _, extract := range rule.extractors {
				if v, ok := extract(prop); ok {
					return v
				}
			}
		}
	}
	return model.DefaultItemTitle
}

// extractCompleted returns whether the item is completed, defaulting to false.
func extractCompleted(props model.PropertyBag) bool {
	for _, rule := range completionRules {
		for _, name := range sortedNames(props) {
			prop := props[name]
			if !rule.matches(name, prop) {
				continue
			}
			for _, extract := range rule.extractors {
				if v, ok := extract(prop); ok {
					return v
				}
			}
		}
	}
	return false
}

// extractDueDate returns the item due date, or nil.
func extractDueDate(props model.PropertyBag) *time.Time {
	for _, rule := range dueDateRules {
		for _, name := range sortedNames(props) {
			prop := props[name]
			if !rule.matches(name, prop) {
				continue
			}
			for _, extract := range rule.extractors {
				if v, ok := extract(prop); ok {
					return &v
				}
			}
		}
	}
	return nil
}

// itemFromPayload maps a remote page onto a RemoteItem using the rules above.
func itemFromPayload(p model.ItemPayload, credentialID, collectionID string, syncedAt time.Time) model.RemoteItem {
	return model.RemoteItem{
		ID:                 p.ID,
		CredentialID:       credentialID,
		ParentCollectionID: collectionID,
		Title:              extractTitle(p.Properties),
		IsCompleted:        extractCompleted(p.Properties),
		DueDate:            extractDueDate(p.Properties),
		URL:                p.URL,
		UpdatedAt:          p.LastEditedAt,
		LastSyncedAt:       syncedAt,
	}
}

// sortedNames makes rule evaluation deterministic across map iteration.
func sortedNames(props model.PropertyBag) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nameContainsAny(hints []string) func(string, property) bool {
	return func(name string, _ property) bool {
		lower := strings.ToLower(name)
		for _, hint := range hints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
		return false
	}
}

func hasKey(key string) func(string, property) bool {
	return func(_ string, prop property) bool {
		_, ok := prop[key]
		return ok
	}
}

func titleArray(prop property) (string, bool) {
	return joinRichText(prop["title"])
}

func plainTextValue(prop property) (string, bool) {
	s, ok := prop["plain_text"].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

func richTextArray(prop property) (string, bool) {
	return joinRichText(prop["rich_text"])
}

// joinRichText concatenates a rich text array, taking plain_text or else
// text.content from each segment.
func joinRichText(v any) (string, bool) {
	segments, ok := v.([]any)
	if !ok {
		return "", false
	}

	var b strings.Builder
	for _, raw := range segments {
		segment, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := segment["plain_text"].(string); ok && s != "" {
			b.WriteString(s)
			continue
		}
		if text, ok := segment["text"].(map[string]any); ok {
			if s, ok := text["content"].(string); ok {
				b.WriteString(s)
			}
		}
	}

	out := strings.TrimSpace(b.String())
	return out, out != ""
}

func checkboxValue(prop property) (bool, bool) {
	v, ok := prop["checkbox"].(bool)
	return v, ok
}

// completedOption reads a select or status option name.
func completedOption(prop property) (bool, bool) {
	for _, key := range []string{"select", "status"} {
		option, ok := prop[key].(map[string]any)
		if !ok {
			continue
		}
		name, ok := option["name"].(string)
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		for _, done := range completedOptionNames {
			if name == done {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

func dateStart(prop property) (time.Time, bool) {
	date, ok := prop["date"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	start, ok := date["start"].(string)
	if !ok {
		return time.Time{}, false
	}
	return parseDueDate(start)
}

func parseDueDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
