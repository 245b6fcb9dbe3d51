package storyruntime_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taleforge.dev/engine/internal/branchcache"
	"taleforge.dev/engine/internal/contentindex"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/store"
	"taleforge.dev/engine/internal/storyruntime"
)

func TestStoryRuntime(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "StoryRuntime Suite")
}

// newRuntime wires a Runtime whose generator/planner/verifier are nil: the
// scenarios below only exercise the already-cached commit path, which never
// reaches them.
func newRuntime(st store.Store) *storyruntime.Runtime {
	coord := branchcache.New(st, nil, nil, nil, nil)
	return storyruntime.New(st, nil, nil, coord, nil, &contentindex.Index{})
}

var _ = Describe("Next", func() {
	var (
		ctx context.Context
		st  *store.MemStore
		id  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemStore()
		id = "book-1"
	})

	seedBook := func(pages []model.Page, index int) *model.Book {
		ss := &model.StoryState{
			Pages:         pages,
			Index:         index,
			Notes:         []string{"alpha"},
			BranchCache:   map[string]model.Candidate{},
			BranchCacheAt: map[string]int64{},
			BranchPending: map[string]int64{},
		}
		return &model.Book{ID: id, StoryState: ss}
	}

	It("commits the cached branch, truncating any forward pages and consuming the cache entry", func() {
		book := seedBook([]model.Page{
			{Passage: "page 0"},
			{Passage: "stale forward page 1"},
		}, 1)
		key := model.NextBranchKey(0)
		book.StoryState.BranchCache[key] = model.Candidate{
			Page:       model.Page{Passage: "fresh page 1", Summary: "summary-1"},
			NotesDelta: []string{"beta"},
		}
		book.StoryState.BranchCacheAt[key] = 1000
		// pre-warm the post-commit head's cache so the background precompute
		// the commit schedules finds claimReady and never touches the (nil,
		// in this test) generator/planner/verifier.
		book.StoryState.BranchCacheAt[model.NextBranchKey(1)] = time.Now().UnixMilli()
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		rt := newRuntime(st)
		snap, err := rt.Next(ctx, id, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(snap.Index).To(Equal(1))
		Expect(snap.Pages).To(HaveLen(2))
		Expect(snap.Pages[1].Passage).To(Equal("fresh page 1"))
		Expect(snap.Notes).To(Equal([]string{"alpha", "beta"}))

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.StoryState.BranchCache).NotTo(HaveKey(key))
		Expect(reloaded.StoryState.BranchCacheAt).NotTo(HaveKey(key))
	})

	It("deduplicates notes and caps the list at MaxStoryNotes, dropping the oldest", func() {
		existing := make([]string, storyruntime.MaxStoryNotes)
		for i := range existing {
			existing[i] = fmt.Sprintf("note-%d", i)
		}
		book := seedBook([]model.Page{{Passage: "page 0"}}, 0)
		book.StoryState.Notes = existing
		key := model.NextBranchKey(0)
		book.StoryState.BranchCache[key] = model.Candidate{
			Page:       model.Page{Passage: "page 1"},
			NotesDelta: []string{"note-0", "brand-new"},
		}
		book.StoryState.BranchCacheAt[key] = 1000
		book.StoryState.BranchCacheAt[model.NextBranchKey(1)] = time.Now().UnixMilli()
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		rt := newRuntime(st)
		snap, err := rt.Next(ctx, id, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(snap.Notes).To(HaveLen(storyruntime.MaxStoryNotes))
		Expect(snap.Notes).To(ContainElement("brand-new"))
		Expect(snap.Notes).NotTo(ContainElement("note-0"))
	})

	It("rejects an index beyond the current head", func() {
		book := seedBook([]model.Page{{Passage: "page 0"}}, 0)
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		rt := newRuntime(st)
		_, err := rt.Next(ctx, id, 5)
		Expect(err).To(HaveOccurred())
	})
})
