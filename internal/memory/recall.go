package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// RecallCollection is the chromem collection holding indexed messages.
const RecallCollection = "messages"

// ChromemRecall persists recall documents in a chromem-go database.
type ChromemRecall struct {
	mu  sync.Mutex
	db  *chromem.DB
	col *chromem.Collection
}

// NewChromemRecall opens (or creates) a persistent vector DB at dir.
func NewChromemRecall(dir string, embed chromem.EmbeddingFunc) (*ChromemRecall, error) {
	if embed == nil {
		return nil, fmt.Errorf("recall: embedding function is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recall dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	col, err := db.GetOrCreateCollection(RecallCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create %s collection: %w", RecallCollection, err)
	}
	slog.Info("Recall store initialized", "path", dir, "documents", col.Count())
	return &ChromemRecall{db: db, col: col}, nil
}

// NewEmbeddingFunc picks an embedding function for the configured endpoint.
// It returns nil when no API key is available, which disables recall.
func NewEmbeddingFunc(apiKey, apiBase, model string) chromem.EmbeddingFunc {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if apiBase != "" {
		return chromem.NewEmbeddingFuncOpenAICompat(apiBase, apiKey, model, nil)
	}
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))
}

// Add indexes text with metadata.
func (r *ChromemRecall) Add(ctx context.Context, text string, metadata map[string]string) (string, error) {
	id := "doc-" + uuid.NewString()
	doc := chromem.Document{ID: id, Content: text, Metadata: metadata}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("index recall document: %w", err)
	}
	return id, nil
}

// Search returns up to k similar documents. An empty store yields no results.
func (r *ChromemRecall) Search(ctx context.Context, query string, k int) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	results, err := r.col.Query(ctx, query, min(k, count), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search recall: %w", err)
	}
	out := make([]Result, 0, len(results))
	for _, res := range results {
		out = append(out, Result{
			ID:         res.ID,
			Text:       res.Content,
			Metadata:   res.Metadata,
			Similarity: res.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (r *ChromemRecall) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.col.Count()
}
