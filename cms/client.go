package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Entry is a document as returned by the CMS read API.
type Entry struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Status      string `json:"status"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// Client reads published documents from the CMS content API. Writes go
// the other way, through the webhook receiver.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ListEntries fetches every entry visible to the configured API key.
func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/content/entries", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cms: list entries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cms: list entries: status %d", resp.StatusCode)
	}

	var payload struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("cms: decode entries: %w", err)
	}
	return payload.Entries, nil
}
