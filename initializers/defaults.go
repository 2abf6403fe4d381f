package initializers

import (
	"database/sql"
)

// InitDefaults is called once on application start to ensure the
// built-in marketing pages exist before the first CMS sync runs.
func InitDefaults(db *sql.DB) error {
	pages := []struct {
		slug, title, body string
	}{
		{"home", "Mosaic — AI Agency", "We design, build and run AI automations for growing teams."},
		{"services", "Services", "Chatbots, workflow automation, custom model integrations."},
		{"about", "About Mosaic", "A small team of engineers and strategists shipping AI that works."},
	}
	for _, p := range pages {
		if err := ensureContentEntry(db, p.slug, p.title, p.body); err != nil {
			return err
		}
	}
	return nil
}

func ensureContentEntry(db *sql.DB, slug, title, body string) error {
	var id int
	err := db.QueryRow("SELECT id FROM content_entries WHERE slug = $1", slug).Scan(&id)
	if err == sql.ErrNoRows {
		return db.QueryRow(`
			INSERT INTO content_entries (slug, title, body, status, published_at)
			VALUES ($1, $2, $3, 'published', NOW())
			RETURNING id
		`, slug, title, body).Scan(&id)
	}
	return err
}
