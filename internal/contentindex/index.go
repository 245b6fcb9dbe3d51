// Package contentindex supplements the spec with full-text search over
// committed pages (SPEC_FULL.md §2.5), following the teacher's
// codegraph/golang/process/ingest.go shape: a thin client wrapper, a
// Document type, and a fire-and-forget upsert per commit.
package contentindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

const collectionName = "pages"

// Index wraps a Typesense client over the "pages" collection. The zero
// value with a nil client is a valid no-op index, used when TYPESENSE_URL
// is unset.
type Index struct {
	client *typesense.Client
}

// New connects to Typesense and ensures the pages collection exists.
// url == "" returns a no-op index (feature is optional).
func New(ctx context.Context, url, apiKey string) (*Index, error) {
	if url == "" {
		return &Index{}, nil
	}
	client := typesense.NewClient(
		typesense.WithServer(url),
		typesense.WithAPIKey(apiKey),
	)
	if err := ensureCollection(ctx, client); err != nil {
		return nil, err
	}
	return &Index{client: client}, nil
}

func ensureCollection(ctx context.Context, client *typesense.Client) error {
	_, err := client.Collection(collectionName).Retrieve(ctx)
	if err == nil {
		return nil
	}
	schema := &api.CollectionSchema{
		Name: collectionName,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "bookId", Type: "string", Facet: pointer.True(true)},
			{Name: "index", Type: "int32"},
			{Name: "passage", Type: "string"},
			{Name: "summary", Type: "string"},
		},
	}
	_, err = client.Collections().Create(ctx, schema)
	return err
}

// Document mirrors one committed page in the search collection.
type Document struct {
	ID      string `json:"id"`
	BookID  string `json:"bookId"`
	Index   int    `json:"index"`
	Passage string `json:"passage"`
	Summary string `json:"summary"`
}

// Upsert indexes a committed page, fire-and-forget: a Typesense outage
// degrades search to empty results, never blocks commitPage.
func (ix *Index) Upsert(ctx context.Context, bookID string, index int, passage, summary string) {
	if ix.client == nil {
		return
	}
	doc := Document{
		ID:      fmt.Sprintf("%s:%d", bookID, index),
		BookID:  bookID,
		Index:   index,
		Passage: passage,
		Summary: summary,
	}
	_, err := ix.client.Collection(collectionName).Documents().Upsert(ctx, doc)
	if err != nil {
		slog.WarnContext(ctx, "content index upsert failed", "book_id", bookID, "index", index, "error", err)
	}
}

// Result is one match returned from Search.
type Result struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
	Snippet string `json:"snippet"`
}

// Search queries committed pages for a book. A no-op index (or any
// transport failure) returns an empty result set, never an error, per the
// "search outage degrades gracefully" rule in SPEC_FULL.md §2.5.
func (ix *Index) Search(ctx context.Context, bookID, q string) []Result {
	if ix.client == nil || q == "" {
		return nil
	}
	filter := fmt.Sprintf("bookId:=%s", bookID)
	params := &api.SearchCollectionParams{
		Q:        q,
		QueryBy:  "passage,summary",
		FilterBy: &filter,
	}
	resp, err := ix.client.Collection(collectionName).Documents().Search(ctx, params)
	if err != nil {
		slog.WarnContext(ctx, "content index search failed", "book_id", bookID, "error", err)
		return nil
	}
	if resp.Hits == nil {
		return nil
	}

	results := make([]Result, 0, len(*resp.Hits))
	for _, hit := range *resp.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document
		r := Result{}
		if v, ok := doc["index"].(float64); ok {
			r.Index = int(v)
		}
		if v, ok := doc["summary"].(string); ok {
			r.Summary = v
		}
		if v, ok := doc["passage"].(string); ok {
			r.Snippet = truncate(v, 200)
		}
		results = append(results, r)
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
