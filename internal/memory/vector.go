package memory

import "context"

// Recall is the long-term similarity store for prior message text.
type Recall interface {
	// Add indexes text with metadata and returns the document id.
	Add(ctx context.Context, text string, metadata map[string]string) (string, error)
	// Search returns up to k results most similar to query.
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

// Result is a single recall hit.
type Result struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
}
