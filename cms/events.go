package cms

import "encoding/json"

// Event discriminators delivered by the CMS webhook. Unrecognized types
// are acknowledged without dispatch, so this set is deliberately open.
const (
	EventContentPublished   = "content.published"
	EventContentUnpublished = "content.unpublished"
	EventContentArchived    = "content.archived"
	EventModelUpdated       = "model.updated"
)

// Event is the envelope of a webhook delivery. Data stays raw until the
// per-type handler knows what shape to expect.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ContentData is the payload carried by content.* events.
type ContentData struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// Path returns the site path affected by a content change.
func (d ContentData) Path() string {
	return "/" + d.Slug
}
