// Package httpapi is the external HTTP surface from spec.md §6: book
// creation, snapshot retrieval, and the start/ready/next/choose story
// lifecycle, plus SPEC_FULL.md's additive search endpoint. Grounded on the
// teacher's internal/http/handler package: gin.Context handlers bound to a
// service, JSON errors via gin.H, slog on the request context.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"taleforge.dev/engine/common/id"
	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/storyruntime"
	"taleforge.dev/engine/internal/store"
)

type Handler struct {
	st  store.Store
	rt  *storyruntime.Runtime
}

func New(st store.Store, rt *storyruntime.Runtime) *Handler {
	return &Handler{st: st, rt: rt}
}

func (h *Handler) CreateBook(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid create book request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UnixMilli()
	book := &model.Book{
		ID:        id.NewString(),
		OwnerID:   req.OwnerID,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.st.InsertOne(ctx, book); err != nil {
		slog.ErrorContext(ctx, "failed to create book", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookResponse(book))
}

func (h *Handler) GetBook(c *gin.Context) {
	ctx := c.Request.Context()
	book, err := h.st.FindOne(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponse(book))
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.rt.GetSnapshot(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) Start(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.rt.Start(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	index, err := strconv.Atoi(c.Query("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	readiness, err := h.rt.Ready(ctx, c.Param("id"), index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Next: readiness.Next, Options: readiness.Options})
}

func (h *Handler) Next(c *gin.Context) {
	ctx := c.Request.Context()

	var req NextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid next request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.rt.Next(ctx, c.Param("id"), req.Index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) Choose(c *gin.Context) {
	ctx := c.Request.Context()

	var req ChooseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid choose request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.rt.Choose(ctx, c.Param("id"), req.Index, req.OptionID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) Search(c *gin.Context) {
	ctx := c.Request.Context()
	q := c.Query("q")
	hits := h.rt.Search(ctx, c.Param("id"), q)

	resp := SearchResponse{Results: make([]SearchHit, 0, len(hits))}
	for _, hit := range hits {
		resp.Results = append(resp.Results, SearchHit{Index: hit.Index, Summary: hit.Summary, Snippet: hit.Snippet})
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps the engerr taxonomy to a status code through a single
// implementation site, per SPEC_FULL.md §1.4.
func writeError(c *gin.Context, err error) {
	status := engerr.StatusCode(err)
	msg := err.Error()
	if errors.Is(err, engerr.ErrTimeout) {
		msg = "timed out waiting for the branch to become ready"
	}
	c.JSON(status, gin.H{"error": msg})
}
