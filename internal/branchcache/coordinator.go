// Package branchcache implements the Branch Cache Coordinator, the
// concurrency heart of the engine (spec.md §4.6): CAS claim/takeover/prune
// over branchCache/branchCacheAt/branchPending, with a blocking readiness
// primitive and fire-and-forget background precompute. Coordination is via
// conditional updates on the persistence adapter, never in-process locks,
// so it survives process restarts and works across multiple workers
// (spec.md §5) — the same "reclaim abandoned work" shape as the teacher's
// internal/worker/reclaimer.go, expressed over document CAS instead of a
// Redis consumer group.
package branchcache

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/pagegen"
	"taleforge.dev/engine/internal/planengine"
	"taleforge.dev/engine/internal/store"
	"taleforge.dev/engine/internal/verifier"
)

const (
	StaleThreshold = 120 * time.Second
	WaitTimeout    = 240 * time.Second
	pollInterval   = 300 * time.Millisecond
)

// StatusSink receives best-effort lifecycle events for observability. A nil
// sink (or one backed by an unreachable broker) never affects correctness —
// see SPEC_FULL.md §2.3.
type StatusSink interface {
	Emit(ctx context.Context, bookID, key, event string)
}

type noopSink struct{}

func (noopSink) Emit(context.Context, string, string, string) {}

type Coordinator struct {
	st       store.Store
	gen      *pagegen.Generator
	plan     *planengine.Engine
	verifier *verifier.Verifier
	sink     StatusSink
}

func New(st store.Store, gen *pagegen.Generator, plan *planengine.Engine, ver *verifier.Verifier, sink StatusSink) *Coordinator {
	if sink == nil {
		sink = noopSink{}
	}
	return &Coordinator{st: st, gen: gen, plan: plan, verifier: ver, sink: sink}
}

func now() int64 { return time.Now().UnixMilli() }

func staleMs() int64 { return int64(StaleThreshold / time.Millisecond) }

type claimOutcome int

const (
	claimReady claimOutcome = iota // cache already fresh
	claimOwned                     // caller now owns the pending slot
	claimOther                     // someone else owns it, not yet stale
)

// attemptClaim is a single, non-blocking attempt at the CAS state machine
// spec.md §4.6 describes. It reloads the book fresh so concurrent writers
// on other workers are observed.
func (c *Coordinator) attemptClaim(ctx context.Context, bookID, key string) (claimOutcome, *model.Book, error) {
	book, err := c.st.FindOne(ctx, bookID)
	if err != nil {
		return claimOther, nil, err
	}
	if book.StoryState == nil {
		return claimOther, book, engerr.ErrNotFound
	}
	ss := book.StoryState

	if at, hasAt := ss.BranchCacheAt[key]; hasAt {
		if now()-at <= staleMs() {
			return claimReady, book, nil
		}
		// Stale cache: atomically clear it, conditional on the observed
		// timestamp, then fall through to attempt a fresh claim.
		matched, err := c.st.UpdateOne(ctx, bookID, store.Filter{
			Eq: map[string]any{cacheAtPath(key): at},
		}, store.Update{Unset: []string{cachePath(key), cacheAtPath(key)}})
		if err != nil {
			return claimOther, book, err
		}
		if matched == 1 {
			delete(ss.BranchCache, key)
			delete(ss.BranchCacheAt, key)
		}
	}

	pending, hasPending := ss.BranchPending[key]
	if !hasPending {
		matched, err := c.st.UpdateOne(ctx, bookID, store.Filter{
			Exists: map[string]bool{cachePath(key): false, pendingPath(key): false},
		}, store.Update{Set: map[string]any{pendingPath(key): now()}})
		if err != nil {
			return claimOther, book, err
		}
		if matched == 1 {
			c.sink.Emit(ctx, bookID, key, "claim_taken")
			return claimOwned, book, nil
		}
		return claimOther, book, nil
	}

	if now()-pending > staleMs() {
		matched, err := c.st.UpdateOne(ctx, bookID, store.Filter{
			Eq: map[string]any{pendingPath(key): pending},
		}, store.Update{Set: map[string]any{pendingPath(key): now()}})
		if err != nil {
			return claimOther, book, err
		}
		if matched == 1 {
			c.sink.Emit(ctx, bookID, key, "takeover")
			return claimOwned, book, nil
		}
	}
	return claimOther, book, nil
}

func cachePath(key string) string   { return "storyState.branchCache." + key }
func cacheAtPath(key string) string { return "storyState.branchCacheAt." + key }
func pendingPath(key string) string { return "storyState.branchPending." + key }

// generateAndFinalize runs the Page Generator as the claim owner and
// writes or releases the claim depending on outcome (spec.md §4.6 step 6).
func (c *Coordinator) generateAndFinalize(ctx context.Context, book *model.Book, key string, opts pagegen.Options) error {
	c.verifier.VerifyPendingBeforeNext(ctx, book)
	if err := c.plan.EnsurePlanReady(ctx, book); err != nil {
		c.releaseClaim(ctx, book.ID, key)
		return err
	}

	candidate, err := c.gen.GeneratePage(ctx, book, opts)
	if err != nil {
		c.releaseClaim(ctx, book.ID, key)
		c.sink.Emit(ctx, book.ID, key, "generation_failed")
		return err
	}

	_, err = c.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{
		Set:   map[string]any{cachePath(key): candidate, cacheAtPath(key): now()},
		Unset: []string{pendingPath(key)},
	})
	if err != nil {
		return err
	}
	c.sink.Emit(ctx, book.ID, key, "cached")
	return nil
}

func (c *Coordinator) releaseClaim(ctx context.Context, bookID, key string) {
	_, err := c.st.UpdateOne(ctx, bookID, store.Filter{}, store.Update{Unset: []string{pendingPath(key)}})
	if err != nil {
		slog.WarnContext(ctx, "failed to release branch cache claim", "book_id", bookID, "key", key, "error", err)
	}
}

// EnsureReady is the blocking readiness primitive from spec.md §4.6, used
// to satisfy a reader advancing linearly.
func (c *Coordinator) EnsureReady(ctx context.Context, bookID string, index int) (bool, error) {
	book, err := c.st.FindOne(ctx, bookID)
	if err != nil {
		return false, err
	}
	if book.PlanUpdating {
		return false, nil
	}

	key := model.NextBranchKey(index)
	deadline := time.Now().Add(WaitTimeout)
	for {
		outcome, book, err := c.attemptClaim(ctx, bookID, key)
		if err != nil {
			return false, err
		}
		switch outcome {
		case claimReady:
			return true, nil
		case claimOwned:
			err := c.generateAndFinalize(ctx, book, key, pagegen.Options{
				UpToIndex:       index,
				OptionBaseIndex: index + 1,
				AllowOptions:    true,
			})
			return err == nil, err
		case claimOther:
			if time.Now().After(deadline) {
				return false, engerr.ErrTimeout
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}

// PrecomputeNext is the fire-and-forget variant of EnsureReady: a single
// claim attempt, never blocking, errors swallowed (spec.md §4.6, §4.8).
func (c *Coordinator) PrecomputeNext(ctx context.Context, bookID string, pageIndex int) {
	key := model.NextBranchKey(pageIndex)
	c.precomputeOnce(ctx, bookID, key, pagegen.Options{
		UpToIndex:       pageIndex,
		OptionBaseIndex: pageIndex + 1,
		AllowOptions:    true,
	})
}

// OptionBranch names one option whose continuation may need precomputing.
type OptionBranch struct {
	OptionID string
	Text     string
}

// PrecomputeBranches fires one claim attempt per option, never blocking.
func (c *Coordinator) PrecomputeBranches(ctx context.Context, bookID string, pageIndex int, options []OptionBranch) {
	for _, opt := range options {
		key := model.BranchKey(pageIndex, opt.OptionID)
		c.precomputeOnce(ctx, bookID, key, pagegen.Options{
			UpToIndex:       pageIndex,
			OptionBaseIndex: pageIndex + 1,
			NextChoice:      opt.Text,
			AllowOptions:    true,
		})
	}
}

func (c *Coordinator) precomputeOnce(ctx context.Context, bookID, key string, opts pagegen.Options) {
	outcome, book, err := c.attemptClaim(ctx, bookID, key)
	if err != nil {
		slog.DebugContext(ctx, "precompute claim attempt failed", "book_id", bookID, "key", key, "error", err)
		return
	}
	if outcome != claimOwned {
		return
	}
	if err := c.generateAndFinalize(ctx, book, key, opts); err != nil {
		slog.DebugContext(ctx, "background precompute failed", "book_id", bookID, "key", key, "error", err)
	}
}

// EnsureOptionsPrecompute kicks off PrecomputeBranches for any option of
// pages[index] whose cache is absent or stale.
func (c *Coordinator) EnsureOptionsPrecompute(ctx context.Context, bookID string, index int) {
	book, err := c.st.FindOne(ctx, bookID)
	if err != nil || book.StoryState == nil || index < 0 || index >= len(book.StoryState.Pages) {
		return
	}
	page := book.StoryState.Pages[index]
	if len(page.OptionIDs) == 0 {
		return
	}
	var stale []OptionBranch
	for i, optID := range page.OptionIDs {
		key := model.BranchKey(index, optID)
		at, hasAt := book.StoryState.BranchCacheAt[key]
		if hasAt && now()-at <= staleMs() {
			continue
		}
		stale = append(stale, OptionBranch{OptionID: optID, Text: page.Options[i]})
	}
	if len(stale) > 0 {
		c.PrecomputeBranches(ctx, bookID, index, stale)
	}
}

// Readiness reports the client readiness contract of spec.md §5.
type Readiness struct {
	Next    bool
	Options map[string]bool
}

// Ready computes the readiness projection for a poll: ensures __next__ via
// EnsureReady, and (without blocking on it) reports current option cache
// freshness while spawning background precompute for any missing ones.
func (c *Coordinator) Ready(ctx context.Context, bookID string, index int) (Readiness, error) {
	next, err := c.EnsureReady(ctx, bookID, index)
	if err != nil && !isTimeoutOrNotReady(err) {
		return Readiness{}, err
	}

	result := Readiness{Next: next, Options: map[string]bool{}}

	book, ferr := c.st.FindOne(ctx, bookID)
	if ferr == nil && book.StoryState != nil && index >= 0 && index < len(book.StoryState.Pages) {
		page := book.StoryState.Pages[index]
		for _, optID := range page.OptionIDs {
			key := model.BranchKey(index, optID)
			at, hasAt := book.StoryState.BranchCacheAt[key]
			result.Options[optID] = hasAt && now()-at <= staleMs()
		}
	}

	go c.EnsureOptionsPrecompute(context.WithoutCancel(ctx), bookID, index)
	return result, nil
}

func isTimeoutOrNotReady(err error) bool {
	return err == engerr.ErrTimeout
}

// PruneBranchCache unsets every branchCache/branchCacheAt/branchPending
// entry whose index portion is strictly greater than storyState.index
// (spec.md §4.6). Historical entries are retained, bounded only by
// SPEC_FULL.md's MaxHistoricalBranchCacheEntries cap.
// MaxHistoricalBranchCacheEntries bounds how many index<=current cache
// entries survive a prune. This is SPEC_FULL.md's supplemental eviction
// policy; it never touches index<=current entries beyond the count cap,
// and never affects the forward-prune invariant (testable property 2).
const MaxHistoricalBranchCacheEntries = 50

func (c *Coordinator) PruneBranchCache(ctx context.Context, book *model.Book) error {
	if book.StoryState == nil {
		return nil
	}
	var unset []string
	var historical []string
	for key := range book.StoryState.BranchCache {
		if keyIndex(key) > book.StoryState.Index {
			unset = append(unset, cachePath(key), cacheAtPath(key))
		} else {
			historical = append(historical, key)
		}
	}
	for key := range book.StoryState.BranchPending {
		if keyIndex(key) > book.StoryState.Index {
			unset = append(unset, pendingPath(key))
		}
	}
	if len(historical) > MaxHistoricalBranchCacheEntries {
		sort.Slice(historical, func(i, j int) bool { return keyIndex(historical[i]) < keyIndex(historical[j]) })
		evict := len(historical) - MaxHistoricalBranchCacheEntries
		for _, key := range historical[:evict] {
			unset = append(unset, cachePath(key), cacheAtPath(key))
		}
	}
	if len(unset) == 0 {
		return nil
	}
	_, err := c.st.UpdateOne(ctx, book.ID, store.Filter{}, store.Update{Unset: unset})
	return err
}

func keyIndex(key string) int {
	for i := 0; i < len(key); i++ {
		if key[i] != ':' {
			continue
		}
		digits := key[:i]
		neg := false
		if len(digits) > 0 && digits[0] == '-' {
			neg = true
			digits = digits[1:]
		}
		idx := 0
		for j := 0; j < len(digits); j++ {
			if digits[j] < '0' || digits[j] > '9' {
				return -1
			}
			idx = idx*10 + int(digits[j]-'0')
		}
		if neg {
			idx = -idx
		}
		return idx
	}
	return -1
}
