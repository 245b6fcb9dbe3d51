// Package pagegen implements the Page Generator from spec.md §4.4: focus
// selection, prompt composition, schema validation, option-id computation,
// and sub-step attribution deferred to the verifier.
package pagegen

import (
	"context"
	"math/rand/v2"

	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/llm"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/promptbuilder"
)

const maxNotesPerPage = 2
const recentPagesWindow = 3
const transitionTailSubsteps = 2

type Generator struct {
	gw llm.Gateway
}

func New(gw llm.Gateway) *Generator {
	return &Generator{gw: gw}
}

// Options is the input contract for generatePage from spec.md §4.4.
type Options struct {
	UpToIndex       int
	OptionBaseIndex int
	NextChoice      string
	AllowOptions    bool
}

// GeneratePage turns (plan cursor, configuration, recent context, optional
// player choice) into a Candidate. The cursor is never advanced here;
// advancement is deferred to the verifier (spec.md §4.5).
func (g *Generator) GeneratePage(ctx context.Context, book *model.Book, opts Options) (*model.Candidate, error) {
	focus := selectFocus(book, opts)
	gctx := buildGenerateContext(book, opts)

	system, user := promptbuilder.GeneratePagePrompt(focus, opts.AllowOptions, gctx)
	raw, _, err := g.gw.Chat(ctx, system, user, llm.Options{
		ReasoningEffort: llm.EffortLow,
		Tag:             "pagegen.generate",
		BookID:          book.ID,
		Schema:          llm.GenerateSchema[promptbuilder.PageResponse](),
		SchemaName:      "page",
	})
	if err != nil {
		return nil, err
	}

	var resp promptbuilder.PageResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Passage == "" {
		return nil, engerr.ErrSchema
	}

	page := model.Page{Passage: resp.Passage, Summary: resp.Summary}
	if opts.AllowOptions && len(resp.Options) == 3 {
		page.Options = resp.Options
		page.OptionIDs = model.MakeOptionIDs(opts.OptionBaseIndex, resp.Options)
	}

	notes := make([]string, 0, maxNotesPerPage)
	for _, n := range resp.Notes {
		if n == "" {
			continue
		}
		notes = append(notes, n)
		if len(notes) == maxNotesPerPage {
			break
		}
	}

	candidate := &model.Candidate{Page: page, NotesDelta: notes}
	if focus.Mode == promptbuilder.FocusSubstep && focus.SubstepText != "" {
		if sub, ok := currentSubstepIndex(book); ok {
			candidate.SubToCheck = &model.SubToCheck{
				PointIndex: book.Plan.CurPoint,
				SubIndex:   sub,
				Text:       focus.SubstepText,
			}
		}
	}
	return candidate, nil
}

func currentSubstepIndex(book *model.Book) (int, bool) {
	if book.Plan == nil {
		return 0, false
	}
	if _, ok := book.Plan.CurrentSubstep(); !ok {
		return 0, false
	}
	return book.Plan.CurSub, true
}

// isTransitionWindow reports whether this turn is the first page of the
// story, or within the last transitionTailSubsteps of the current point
// while another point follows (spec.md §4.4).
func isTransitionWindow(book *model.Book, opts Options) bool {
	if book.Plan == nil {
		return false
	}
	isFirstPage := book.StoryState == nil && opts.NextChoice == "" &&
		book.Plan.CurPoint == 0 && book.Plan.CurSub == 0
	if isFirstPage {
		return true
	}
	if book.Plan.Exhausted() {
		return false
	}
	if book.Plan.CurPoint+1 >= len(book.Plan.Points) {
		return false
	}
	substeps := book.Plan.Points[book.Plan.CurPoint].Substeps
	return len(substeps) > 0 && book.Plan.CurSub >= len(substeps)-transitionTailSubsteps
}

func selectFocus(book *model.Book, opts Options) promptbuilder.Focus {
	transition := isTransitionWindow(book, opts)

	mode := pickMode()
	if mode == promptbuilder.FocusSubstep {
		if _, ok := currentSubstepIndex(book); !ok {
			mode = pickWorldOrCharacter()
		}
	}
	if transition {
		mode = promptbuilder.FocusSubstep
	}

	focus := promptbuilder.Focus{Mode: mode}
	if mode == promptbuilder.FocusSubstep {
		text, ok := currentSubstepIndex(book)
		if ok {
			focus.SubstepText = book.Plan.Points[book.Plan.CurPoint].Substeps[text]
		}
		if transition && book.Plan != nil && book.Plan.CurPoint+1 < len(book.Plan.Points) {
			focus.BuildupNextPoint = book.Plan.Points[book.Plan.CurPoint+1].Title
		}
	}
	return focus
}

func pickMode() promptbuilder.FocusMode {
	switch rand.IntN(3) {
	case 0:
		return promptbuilder.FocusSubstep
	case 1:
		return promptbuilder.FocusWorld
	default:
		return promptbuilder.FocusCharacter
	}
}

func pickWorldOrCharacter() promptbuilder.FocusMode {
	if rand.IntN(2) == 0 {
		return promptbuilder.FocusWorld
	}
	return promptbuilder.FocusCharacter
}

func buildGenerateContext(book *model.Book, opts Options) promptbuilder.GenerateContext {
	gctx := promptbuilder.GenerateContext{NextChoice: opts.NextChoice}
	if book.StoryState == nil {
		return gctx
	}
	gctx.PriorSummary = book.StoryState.Summary
	gctx.Notes = book.StoryState.Notes

	pages := book.StoryState.Pages
	upTo := opts.UpToIndex + 1
	if upTo > len(pages) {
		upTo = len(pages)
	}
	start := upTo - recentPagesWindow
	if start < 0 {
		start = 0
	}
	for i := start; i < upTo; i++ {
		gctx.RecentPages = append(gctx.RecentPages, pages[i].Passage)
	}
	return gctx
}
