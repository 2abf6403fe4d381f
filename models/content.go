package models

import "time"

// ContentEntry is a CMS document mirrored into Postgres. Slug doubles as
// the site path that webhook revalidation targets.
type ContentEntry struct {
	ID          int        `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

const (
	ContentStatusPublished = "published"
	ContentStatusDraft     = "draft"
	ContentStatusArchived  = "archived"
)
