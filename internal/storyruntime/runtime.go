// Package storyruntime is the thin API layer from spec.md §4.7: start,
// getSnapshot, ready, next, choose. It translates external calls into
// branch-cache coordinator actions and owns commit semantics.
package storyruntime

import (
	"context"
	"log/slog"
	"time"

	"taleforge.dev/engine/internal/branchcache"
	"taleforge.dev/engine/internal/contentindex"
	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/pagegen"
	"taleforge.dev/engine/internal/planengine"
	"taleforge.dev/engine/internal/store"
	"taleforge.dev/engine/internal/verifier"
)

// MaxStoryNotes bounds the notes list (SPEC_FULL.md supplement; the spec
// itself leaves this engine-unenforced). Oldest notes are dropped past the
// cap; order and dedup semantics under the cap are unchanged.
const MaxStoryNotes = 200

type Runtime struct {
	st    store.Store
	gen   *pagegen.Generator
	plan  *planengine.Engine
	coord *branchcache.Coordinator
	ver   *verifier.Verifier
	idx   *contentindex.Index
}

func New(st store.Store, gen *pagegen.Generator, plan *planengine.Engine, coord *branchcache.Coordinator, ver *verifier.Verifier, idx *contentindex.Index) *Runtime {
	return &Runtime{st: st, gen: gen, plan: plan, coord: coord, ver: ver, idx: idx}
}

func now() int64 { return time.Now().UnixMilli() }

// Snapshot is the read-only external projection from spec.md §6. It never
// includes branchCache, branchCacheAt, branchPending, or pendingVerify.
type Snapshot struct {
	Pages   []model.Page `json:"pages"`
	Index   int          `json:"index"`
	Notes   []string     `json:"notes"`
	Summary string       `json:"summary"`
	Turn    int          `json:"turn"`
	Debug   *DebugPlan   `json:"debugPlan,omitempty"`
}

type DebugPlan struct {
	CurPoint int               `json:"curPoint"`
	CurSub   int                `json:"curSub"`
	Points   []DebugPlanPoint `json:"points"`
}

type DebugPlanPoint struct {
	Title    string   `json:"title"`
	Brief    string   `json:"brief"`
	Substeps []string `json:"substeps,omitempty"`
}

func toSnapshot(book *model.Book) *Snapshot {
	snap := &Snapshot{}
	if book.StoryState != nil {
		snap.Pages = book.StoryState.Pages
		snap.Index = book.StoryState.Index
		snap.Notes = book.StoryState.Notes
		snap.Summary = book.StoryState.Summary
		snap.Turn = book.StoryState.Turn
	} else {
		snap.Index = -1
	}
	if book.Plan != nil {
		debug := &DebugPlan{CurPoint: book.Plan.CurPoint, CurSub: book.Plan.CurSub}
		for _, p := range book.Plan.Points {
			debug.Points = append(debug.Points, DebugPlanPoint{Title: p.Title, Brief: p.Brief, Substeps: p.Substeps})
		}
		snap.Debug = debug
	}
	return snap
}

// Start ensures a plan, ensures StoryState exists, generates the opening
// page, commits -1 -> 0, and schedules precompute of the new head.
func (r *Runtime) Start(ctx context.Context, bookID string) (*Snapshot, error) {
	book, err := r.st.FindOne(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.StoryState != nil {
		return toSnapshot(book), nil
	}

	if err := r.plan.EnsurePlanReady(ctx, book); err != nil {
		return nil, err
	}
	r.ver.VerifyPendingBeforeNext(ctx, book)

	candidate, err := r.gen.GeneratePage(ctx, book, pagegen.Options{
		UpToIndex:       -1,
		OptionBaseIndex: 0,
		AllowOptions:    true,
	})
	if err != nil {
		return nil, err
	}

	book.StoryState = &model.StoryState{
		Pages:         []model.Page{},
		Index:         -1,
		BranchCache:   map[string]model.Candidate{},
		BranchCacheAt: map[string]int64{},
		BranchPending: map[string]int64{},
	}
	if err := r.commitPage(ctx, book, -1, candidate, ""); err != nil {
		return nil, err
	}

	r.schedulePrecomputeAfterLinearCommit(book)
	return toSnapshot(book), nil
}

// GetSnapshot returns the read-only projection, transparently starting the
// story if no pages exist yet (spec.md §6: GET /story).
func (r *Runtime) GetSnapshot(ctx context.Context, bookID string) (*Snapshot, error) {
	book, err := r.st.FindOne(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.StoryState == nil {
		return r.Start(ctx, bookID)
	}
	return toSnapshot(book), nil
}

// Ready delegates to the coordinator's client readiness contract.
func (r *Runtime) Ready(ctx context.Context, bookID string, index int) (branchcache.Readiness, error) {
	return r.coord.Ready(ctx, bookID, index)
}

// Next advances linearly from index, using the cached branch if present.
func (r *Runtime) Next(ctx context.Context, bookID string, index int) (*Snapshot, error) {
	book, err := r.st.FindOne(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.StoryState == nil {
		return nil, engerr.ErrBadRequest
	}
	if index < -1 || index > book.StoryState.Index {
		return nil, engerr.ErrBadRequest
	}

	key := model.NextBranchKey(index)
	candidate, cached := book.StoryState.BranchCache[key]
	if !cached {
		ready, err := r.coord.EnsureReady(ctx, bookID, index)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, engerr.ErrTimeout
		}
		book, err = r.st.FindOne(ctx, bookID)
		if err != nil {
			return nil, err
		}
		candidate, cached = book.StoryState.BranchCache[key]
		if !cached {
			return nil, engerr.ErrNotFound
		}
	}

	if err := r.commitPage(ctx, book, index, &candidate, key); err != nil {
		return nil, err
	}
	r.schedulePrecomputeAfterLinearCommit(book)
	return toSnapshot(book), nil
}

// Choose resolves a choice, commits the corresponding branch (cached or
// synchronously generated), and schedules adapt-then-precompute.
func (r *Runtime) Choose(ctx context.Context, bookID string, index int, optionID, text string) (*Snapshot, error) {
	book, err := r.st.FindOne(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.StoryState == nil || index < 0 || index > book.StoryState.Index {
		return nil, engerr.ErrBadRequest
	}

	page := book.StoryState.Pages[index]
	choiceText := resolveChoiceText(page, optionID, text)
	if choiceText == "" {
		return nil, engerr.ErrBadRequest
	}

	var candidate *model.Candidate
	var consumedKey string
	if optionID != "" {
		consumedKey = model.BranchKey(index, optionID)
		if c, ok := book.StoryState.BranchCache[consumedKey]; ok {
			candidate = &c
		}
	}
	if candidate == nil {
		consumedKey = ""
		r.ver.VerifyPendingBeforeNext(ctx, book)
		c, err := r.gen.GeneratePage(ctx, book, pagegen.Options{
			UpToIndex:       index,
			OptionBaseIndex: index + 1,
			NextChoice:      choiceText,
			AllowOptions:    true,
		})
		if err != nil {
			return nil, err
		}
		candidate = c
	}

	if err := r.commitPage(ctx, book, index, candidate, consumedKey); err != nil {
		return nil, err
	}

	committedPage := book.StoryState.Pages[book.StoryState.Index]
	_, err = r.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
		Set: map[string]any{"planUpdating": true, "updatedAt": now()},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to set planUpdating", "book_id", book.ID, "error", err)
	} else {
		book.PlanUpdating = true
		go r.adaptThenPrecompute(context.WithoutCancel(ctx), book, choiceText, committedPage)
	}

	return toSnapshot(book), nil
}

func resolveChoiceText(page model.Page, optionID, text string) string {
	if optionID != "" {
		for i, id := range page.OptionIDs {
			if id == optionID && i < len(page.Options) {
				return page.Options[i]
			}
		}
	}
	return text
}

// commitPage implements spec.md §4.7's commit semantics: truncate forward
// pages, append, update index/summary/notes/turn, set pendingVerify,
// persist atomically, then prune forward branch cache.
func (r *Runtime) commitPage(ctx context.Context, book *model.Book, fromIndex int, candidate *model.Candidate, consumedKey string) error {
	ss := book.StoryState
	if fromIndex+1 < len(ss.Pages) {
		ss.Pages = ss.Pages[:fromIndex+1]
	}
	if consumedKey != "" {
		delete(ss.BranchCache, consumedKey)
		delete(ss.BranchCacheAt, consumedKey)
	}
	ss.Pages = append(ss.Pages, candidate.Page)
	ss.Index = fromIndex + 1
	ss.Summary = candidate.Page.Summary
	ss.Notes = mergeNotes(ss.Notes, candidate.NotesDelta)
	ss.Turn++
	if candidate.SubToCheck != nil {
		ss.PendingVerify = &model.PendingVerify{
			Passage:    candidate.Page.Passage,
			SubText:    candidate.SubToCheck.Text,
			PointIndex: candidate.SubToCheck.PointIndex,
			SubIndex:   candidate.SubToCheck.SubIndex,
		}
	} else {
		ss.PendingVerify = nil
	}

	update := store.Update{Set: map[string]any{"storyState": ss, "updatedAt": now()}}
	if _, err := r.st.UpdateOne(ctx, book.ID, store.Filter{}, update); err != nil {
		return err
	}

	go r.idx.Upsert(context.WithoutCancel(ctx), book.ID, ss.Index, candidate.Page.Passage, candidate.Page.Summary)

	return r.coord.PruneBranchCache(ctx, book)
}

// Search exposes full-text lookup over a book's committed pages.
func (r *Runtime) Search(ctx context.Context, bookID, q string) []contentindex.Result {
	return r.idx.Search(ctx, bookID, q)
}

func mergeNotes(existing, delta []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(delta))
	for _, n := range existing {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		merged = append(merged, n)
	}
	for _, n := range delta {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		merged = append(merged, n)
	}
	if len(merged) > MaxStoryNotes {
		merged = merged[len(merged)-MaxStoryNotes:]
	}
	return merged
}

// schedulePrecomputeAfterLinearCommit implements spec.md §4.6's ordering
// rule 3: a linear commit schedules precompute immediately.
func (r *Runtime) schedulePrecomputeAfterLinearCommit(book *model.Book) {
	head := book.StoryState.Index
	go r.coord.PrecomputeNext(context.Background(), book.ID, head)

	page := book.StoryState.Pages[head]
	if len(page.OptionIDs) == 0 {
		return
	}
	branches := make([]branchcache.OptionBranch, len(page.OptionIDs))
	for i, id := range page.OptionIDs {
		branches[i] = branchcache.OptionBranch{OptionID: id, Text: page.Options[i]}
	}
	go r.coord.PrecomputeBranches(context.Background(), book.ID, head, branches)
}

// adaptThenPrecompute implements spec.md §4.6's ordering rule 2: a choice
// commit defers precompute of the new head until adaptation clears
// planUpdating.
func (r *Runtime) adaptThenPrecompute(ctx context.Context, book *model.Book, choiceText string, committedPage model.Page) {
	r.plan.AdaptAfterChoice(ctx, book, choiceText, committedPage)
	r.schedulePrecomputeAfterLinearCommit(book)
}
