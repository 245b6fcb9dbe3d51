// Package planengine implements the plan lifecycle from spec.md §4.3:
// generate → expand → intro-insert on first creation, cursor advancement
// on verified sub-steps, and full-replacement adaptation after a choice.
package planengine

import (
	"context"
	"log/slog"
	"time"

	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/llm"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/promptbuilder"
	"taleforge.dev/engine/internal/store"
)

const minPoints = 3

type Engine struct {
	gw llm.Gateway
	st store.Store
}

func New(gw llm.Gateway, st store.Store) *Engine {
	return &Engine{gw: gw, st: st}
}

func now() int64 { return time.Now().UnixMilli() }

// EnsurePlanReady is the idempotent invariant-provider spec.md §4.3
// requires before any generation: a plan exists, every point has at least
// one substep, and introduction substeps have been inserted where needed.
func (e *Engine) EnsurePlanReady(ctx context.Context, book *model.Book) error {
	if book.Plan == nil {
		plan, err := e.generatePlan(ctx, book)
		if err != nil {
			return err
		}
		if err := e.expandAll(ctx, book.ID, book.Config, plan); err != nil {
			return err
		}
		e.introInsertPass(ctx, book.ID, book.Config, plan) // failures are silent, per §4.3 step 3
		book.Plan = plan
		_, err = e.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
			Set: map[string]any{"plan": plan, "updatedAt": now()},
		})
		return err
	}

	// Plan already exists: only the "every point has >=1 substep" invariant
	// needs re-checking; intro-insertion only runs on first creation.
	missing := false
	for _, p := range book.Plan.Points {
		if len(p.Substeps) == 0 {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}
	if err := e.expandAll(ctx, book.ID, book.Config, book.Plan); err != nil {
		return err
	}
	_, err := e.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
		Set: map[string]any{"plan.points": book.Plan.Points, "updatedAt": now()},
	})
	return err
}

func (e *Engine) generatePlan(ctx context.Context, book *model.Book) (*model.Plan, error) {
	system, user := promptbuilder.PlannerPrompt(book.Config)
	raw, _, err := e.gw.Chat(ctx, system, user, llm.Options{
		ReasoningEffort: llm.EffortMedium,
		Tag:             "planner.points",
		BookID:          book.ID,
		Schema:          llm.GenerateSchema[promptbuilder.PlannerPointsResponse](),
		SchemaName:      "planner_points",
	})
	if err != nil {
		return nil, err
	}
	var resp promptbuilder.PlannerPointsResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return nil, err
	}
	points := make([]model.Point, 0, len(resp.Points))
	for _, pe := range resp.Points {
		if pe.Title == "" {
			continue
		}
		points = append(points, model.Point{Title: pe.Title, Brief: pe.Brief})
	}
	if len(points) < minPoints {
		return nil, engerr.ErrSchema
	}
	return &model.Plan{OverallIdea: resp.OverallIdea, Conflict: resp.Conflict, Points: points}, nil
}

func (e *Engine) expandAll(ctx context.Context, bookID string, cfg model.Config, plan *model.Plan) error {
	system, user := promptbuilder.SubstepExpandPrompt(cfg, plan.Points)
	raw, _, err := e.gw.Chat(ctx, system, user, llm.Options{
		ReasoningEffort: llm.EffortLow,
		Tag:             "planner.substeps",
		BookID:          bookID,
		Schema:          llm.GenerateSchema[promptbuilder.SubstepBatchResponse](),
		SchemaName:      "substep_batch",
	})
	if err != nil {
		return err
	}
	var resp promptbuilder.SubstepBatchResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return err
	}
	for _, item := range resp.Items {
		if item.Index < 0 || item.Index >= len(plan.Points) || len(item.Substeps) == 0 {
			continue
		}
		plan.Points[item.Index].Substeps = item.Substeps
	}
	for i := range plan.Points {
		if len(plan.Points[i].Substeps) == 0 {
			return engerr.ErrSchema
		}
	}
	return nil
}

// introInsertPass is non-destructive: a point's substeps are only replaced
// if the model returns a non-empty list for that index. All failures are
// silently ignored (spec.md §4.3 step 3, §4.8).
func (e *Engine) introInsertPass(ctx context.Context, bookID string, cfg model.Config, plan *model.Plan) {
	system, user := promptbuilder.IntroInsertPrompt(cfg, plan.Points)
	raw, _, err := e.gw.Chat(ctx, system, user, llm.Options{
		ReasoningEffort: llm.EffortLow,
		Tag:             "planner.intro_insert",
		BookID:          bookID,
		Schema:          llm.GenerateSchema[promptbuilder.SubstepBatchResponse](),
		SchemaName:      "substep_batch",
	})
	if err != nil {
		slog.WarnContext(ctx, "intro-insert pass failed, keeping prior substeps", "error", err)
		return
	}
	var resp promptbuilder.SubstepBatchResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		slog.WarnContext(ctx, "intro-insert pass returned non-json, keeping prior substeps", "error", err)
		return
	}
	for _, item := range resp.Items {
		if item.Index < 0 || item.Index >= len(plan.Points) || len(item.Substeps) == 0 {
			continue
		}
		plan.Points[item.Index].Substeps = item.Substeps
	}
}

// AdvanceCursor applies the cursor-advancement rule: curSub++, rolling
// into the next point (capped at len(points)) when it overflows. The
// cursor never moves backward.
func AdvanceCursor(plan *model.Plan) {
	if plan.Exhausted() {
		return
	}
	plan.CurSub++
	if plan.CurSub >= len(plan.Points[plan.CurPoint].Substeps) {
		plan.CurPoint++
		plan.CurSub = 0
		if plan.CurPoint > len(plan.Points) {
			plan.CurPoint = len(plan.Points)
		}
	}
}

// AdaptAfterChoice replaces the plan after a choice commit, per spec.md
// §4.3. On any failure the prior plan is retained; planUpdating is always
// cleared, success or not. Callers must have already set planUpdating=true
// before calling this (storyruntime's Runtime.Choose does so as part of the
// choice path).
func (e *Engine) AdaptAfterChoice(ctx context.Context, book *model.Book, choiceText string, committedPage model.Page) {
	defer func() {
		_, err := e.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
			Set: map[string]any{"planUpdating": false, "updatedAt": now()},
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to clear planUpdating", "book_id", book.ID, "error", err)
		}
	}()

	if book.Plan == nil {
		return
	}
	system, user := promptbuilder.AdaptPrompt(book.Config, book.Plan, choiceText, committedPage)
	raw, _, err := e.gw.Chat(ctx, system, user, llm.Options{
		ReasoningEffort: llm.EffortMedium,
		Tag:             "planner.adapt",
		BookID:          book.ID,
		Schema:          llm.GenerateSchema[promptbuilder.PlanAdaptResponse](),
		SchemaName:      "plan_adapt",
	})
	if err != nil {
		slog.WarnContext(ctx, "plan adaptation call failed, keeping prior plan", "book_id", book.ID, "error", err)
		return
	}
	var resp promptbuilder.PlanAdaptResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		slog.WarnContext(ctx, "plan adaptation returned non-json, keeping prior plan", "book_id", book.ID, "error", err)
		return
	}
	if len(resp.Points) < minPoints {
		slog.WarnContext(ctx, "plan adaptation returned too few points, keeping prior plan", "book_id", book.ID)
		return
	}
	points := make([]model.Point, len(resp.Points))
	for i, pe := range resp.Points {
		points[i] = model.Point{Title: pe.Title, Brief: pe.Brief, Substeps: pe.Substeps}
	}
	newPlan := &model.Plan{
		OverallIdea: resp.OverallIdea,
		Conflict:    resp.Conflict,
		Points:      points,
		CurPoint:    resp.CurPoint,
		CurSub:      resp.CurSub,
	}
	e.introInsertPass(ctx, book.ID, book.Config, newPlan)

	_, err = e.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
		Set: map[string]any{"plan": newPlan, "updatedAt": now()},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to persist adapted plan, keeping prior plan", "book_id", book.ID, "error", err)
		return
	}
	book.Plan = newPlan
}
