package repository

import (
	"database/sql"
	"time"

	"mosaic-api/models"
)

type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Upsert writes a CMS entry keyed by slug, replacing any previous
// version of the same document.
func (r *ContentRepository) Upsert(e *models.ContentEntry) error {
	_, err := r.db.Exec(`
		INSERT INTO content_entries (slug, title, body, status, published_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			status = EXCLUDED.status,
			published_at = EXCLUDED.published_at,
			updated_at = NOW()
	`, e.Slug, e.Title, e.Body, e.Status, e.PublishedAt)
	return err
}

func (r *ContentRepository) SetStatus(slug, status string) error {
	_, err := r.db.Exec(`
		UPDATE content_entries SET status = $1, updated_at = NOW() WHERE slug = $2
	`, status, slug)
	return err
}

func (r *ContentRepository) GetPublishedBySlug(slug string) (*models.ContentEntry, error) {
	e := &models.ContentEntry{}
	var publishedAt sql.NullTime
	err := r.db.QueryRow(`
		SELECT id, slug, title, body, status, published_at, updated_at
		FROM content_entries
		WHERE slug = $1 AND status = $2
	`, slug, models.ContentStatusPublished).Scan(
		&e.ID, &e.Slug, &e.Title, &e.Body, &e.Status, &publishedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		e.PublishedAt = &t
	}
	return e, nil
}

func (r *ContentRepository) ListPublished() ([]models.ContentEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, slug, title, body, status, published_at, updated_at
		FROM content_entries
		WHERE status = $1
		ORDER BY published_at DESC NULLS LAST
	`, models.ContentStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []models.ContentEntry
	for rows.Next() {
		var e models.ContentEntry
		var publishedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Slug, &e.Title, &e.Body, &e.Status, &publishedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			e.PublishedAt = &t
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// TouchPublished marks an entry published now when the webhook payload
// carries no explicit timestamp.
func (r *ContentRepository) TouchPublished(slug string) error {
	_, err := r.db.Exec(`
		UPDATE content_entries SET status = $1, published_at = $2, updated_at = NOW() WHERE slug = $3
	`, models.ContentStatusPublished, time.Now().UTC(), slug)
	return err
}
