// Package verifier implements the deferred sub-step verification from
// spec.md §4.5: run immediately before the next generation, biased toward
// "done", and always clears pendingVerify regardless of outcome.
package verifier

import (
	"context"
	"log/slog"
	"time"

	"taleforge.dev/engine/internal/llm"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/planengine"
	"taleforge.dev/engine/internal/promptbuilder"
	"taleforge.dev/engine/internal/store"
)

const recentPagesWindow = 3

type Verifier struct {
	gw llm.Gateway
	st store.Store
}

func New(gw llm.Gateway, st store.Store) *Verifier {
	return &Verifier{gw: gw, st: st}
}

func now() int64 { return time.Now().UnixMilli() }

// VerifyPendingBeforeNext runs the deferred check if the book has a
// pendingVerify record, advancing the plan cursor on a positive verdict.
// pendingVerify is cleared unconditionally afterward (spec.md §4.5, §4.8:
// verifier failure is always silent).
func (v *Verifier) VerifyPendingBeforeNext(ctx context.Context, book *model.Book) {
	if book.StoryState == nil || book.StoryState.PendingVerify == nil {
		return
	}
	pv := book.StoryState.PendingVerify

	done := v.check(ctx, book, pv)
	if done && book.Plan != nil {
		planengine.AdvanceCursor(book.Plan)
		_, err := v.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
			Set: map[string]any{
				"plan.curPoint": book.Plan.CurPoint,
				"plan.curSub":   book.Plan.CurSub,
				"updatedAt":     now(),
			},
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to persist advanced cursor", "book_id", book.ID, "error", err)
		}
	}

	book.StoryState.PendingVerify = nil
	_, err := v.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
		Unset: []string{"storyState.pendingVerify"},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to clear pendingVerify", "book_id", book.ID, "error", err)
	}
}

func (v *Verifier) check(ctx context.Context, book *model.Book, pv *model.PendingVerify) bool {
	var recent []string
	var notes []string
	if book.StoryState != nil {
		notes = book.StoryState.Notes
		pages := book.StoryState.Pages
		start := len(pages) - recentPagesWindow
		if start < 0 {
			start = 0
		}
		for i := start; i < len(pages); i++ {
			recent = append(recent, pages[i].Passage)
		}
	}

	system, user := promptbuilder.VerifierPrompt(pv.Passage, pv.SubText, recent, notes)
	raw, _, err := v.gw.Chat(ctx, system, user, llm.Options{
		ReasoningEffort: llm.EffortLow,
		Tag:             "verifier.check",
		BookID:          book.ID,
		Schema:          llm.GenerateSchema[promptbuilder.VerifierResponse](),
		SchemaName:      "verifier",
	})
	if err != nil {
		slog.DebugContext(ctx, "verifier call failed, treating as not done", "book_id", book.ID, "error", err)
		return false
	}

	var resp promptbuilder.VerifierResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		slog.DebugContext(ctx, "verifier returned non-json, treating as not done", "book_id", book.ID, "error", err)
		return false
	}
	return resp.Done
}
