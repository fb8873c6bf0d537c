// Package report uploads the final summary of a run to a blob store.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

const contentType = "application/json"

// Writer renders summaries as indented JSON objects.
type Writer struct {
	store  crawler.BlobStore
	prefix string
}

// NewWriter returns a Writer placing reports below prefix.
func NewWriter(store crawler.BlobStore, prefix string) (*Writer, error) {
	if store == nil {
		return nil, errors.New("report blob store is required")
	}
	return &Writer{store: store, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectPath returns where the summary of a run is stored. Keywords are
// reduced to a path-safe slug.
func (w *Writer) ObjectPath(s crawler.Summary) string {
	name := fmt.Sprintf("%s-%s.json", s.RunID, s.State)
	return path.Join(w.prefix, slug(s.Keyword), name)
}

// Write uploads s and returns its URI.
func (w *Writer) Write(ctx context.Context, s crawler.Summary) (string, error) {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	uri, err := w.store.PutObject(ctx, w.ObjectPath(s), contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("upload summary: %w", err)
	}
	return uri, nil
}

func slug(keyword string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(keyword)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
