package events

// ContentPublished is pushed to dashboard clients when the CMS publishes
// a document. This struct is intentionally small and versionable;
// changes should be additive.
type ContentPublished struct {
	Type  string `json:"type"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

// NewContentPublished tags the event with its wire type.
func NewContentPublished(slug, title, path string) ContentPublished {
	return ContentPublished{Type: "notification", Slug: slug, Title: title, Path: path}
}
