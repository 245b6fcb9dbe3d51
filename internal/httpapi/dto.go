package httpapi

import "taleforge.dev/engine/internal/model"

// CreateBookRequest is the request body for POST /api/books.
type CreateBookRequest struct {
	OwnerID string      `json:"ownerId" binding:"required"`
	Config  model.Config `json:"config"`
}

// BookResponse is the public projection of a Book document.
type BookResponse struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"ownerId"`
	Config    model.Config `json:"config"`
	CreatedAt int64        `json:"createdAt"`
	UpdatedAt int64        `json:"updatedAt"`
}

func toBookResponse(book *model.Book) BookResponse {
	return BookResponse{
		ID:        book.ID,
		OwnerID:   book.OwnerID,
		Config:    book.Config,
		CreatedAt: book.CreatedAt,
		UpdatedAt: book.UpdatedAt,
	}
}

// NextRequest is the request body for POST /api/books/:id/story/next.
type NextRequest struct {
	Index int `json:"index"`
}

// ChooseRequest is the request body for POST /api/books/:id/story/choose.
type ChooseRequest struct {
	Index    int    `json:"index"`
	OptionID string `json:"optionId"`
	Text     string `json:"text"`
}

// ReadyResponse mirrors branchcache.Readiness for the client poll contract.
type ReadyResponse struct {
	Next    bool            `json:"next"`
	Options map[string]bool `json:"options"`
}

// SearchResponse wraps content-index search hits.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

type SearchHit struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
	Snippet string `json:"snippet"`
}
