package notion

import (
	"strings"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// Wire shapes for the subset of the Notion API this client reads.

type errorJSON struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type userJSON struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Bot    struct {
		WorkspaceID   string `json:"workspace_id"`
		WorkspaceName string `json:"workspace_name"`
	} `json:"bot"`
}

type searchRequest struct {
	Filter struct {
		Property string `json:"property"`
		Value    string `json:"value"`
	} `json:"filter"`
	PageSize    int    `json:"page_size,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
}

type queryRequest struct {
	PageSize    int    `json:"page_size,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
}

type listJSON[T any] struct {
	Object     string `json:"object"`
	Results    []T    `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

type richTextJSON struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

type databaseJSON struct {
	Object         string         `json:"object"`
	ID             string         `json:"id"`
	CreatedTime    time.Time      `json:"created_time"`
	LastEditedTime time.Time      `json:"last_edited_time"`
	Title          []richTextJSON `json:"title"`
	Description    []richTextJSON `json:"description"`
	URL            string         `json:"url"`
	Archived       bool           `json:"archived"`
	InTrash        bool           `json:"in_trash"`
}

type pageJSON struct {
	Object         string    `json:"object"`
	ID             string    `json:"id"`
	LastEditedTime time.Time `json:"last_edited_time"`
	Archived       bool      `json:"archived"`
	InTrash        bool      `json:"in_trash"`
	URL            string    `json:"url"`
	Parent         struct {
		Type       string `json:"type"`
		DatabaseID string `json:"database_id"`
	} `json:"parent"`
	Properties model.PropertyBag `json:"properties"`
}

func mapPage(p pageJSON) model.ItemPayload {
	return model.ItemPayload{
		ID:           p.ID,
		ParentID:     p.Parent.DatabaseID,
		URL:          p.URL,
		Archived:     p.Archived || p.InTrash,
		LastEditedAt: p.LastEditedTime,
		Properties:   p.Properties,
	}
}

// plainText concatenates a rich text array, preferring plain_text and
// falling back to text.content per segment.
func plainText(segments []richTextJSON) string {
	var b strings.Builder
	for _, s := range segments {
		switch {
		case s.PlainText != "":
			b.WriteString(s.PlainText)
		case s.Text != nil:
			b.WriteString(s.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
