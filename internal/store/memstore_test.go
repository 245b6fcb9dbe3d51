package store_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/store"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

var _ = Describe("MemStore", func() {
	var (
		ctx context.Context
		s   *store.MemStore
		id  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = store.NewMemStore()
		id = "book-1"
		Expect(s.InsertOne(ctx, &model.Book{ID: id, PlanUpdating: false})).To(Succeed())
	})

	It("returns ErrNotFound for a missing id", func() {
		_, err := s.FindOne(ctx, "nonexistent")
		Expect(err).To(MatchError(ContainSubstring("not found")))
	})

	Describe("UpdateOne with an Exists filter", func() {
		It("matches and applies the update when the path is absent, as required", func() {
			matched, err := s.UpdateOne(ctx, id, store.Filter{
				Exists: map[string]bool{"storyState.branchPending.0:__next__": false},
			}, store.Update{Set: map[string]any{"storyState.branchPending.0:__next__": int64(100)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(Equal(int64(1)))

			book, err := s.FindOne(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(book.StoryState.BranchPending).To(HaveKeyWithValue("0:__next__", int64(100)))
		})

		It("does not match a second claim attempt once the field exists", func() {
			_, err := s.UpdateOne(ctx, id, store.Filter{
				Exists: map[string]bool{"storyState.branchPending.0:__next__": false},
			}, store.Update{Set: map[string]any{"storyState.branchPending.0:__next__": int64(100)}})
			Expect(err).NotTo(HaveOccurred())

			matched, err := s.UpdateOne(ctx, id, store.Filter{
				Exists: map[string]bool{"storyState.branchPending.0:__next__": false},
			}, store.Update{Set: map[string]any{"storyState.branchPending.0:__next__": int64(200)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(Equal(int64(0)))
		})
	})

	Describe("UpdateOne with an Eq filter", func() {
		It("only applies the update when the observed value still matches", func() {
			_, err := s.UpdateOne(ctx, id, store.Filter{}, store.Update{
				Set: map[string]any{"storyState.branchPending.0:__next__": int64(100)},
			})
			Expect(err).NotTo(HaveOccurred())

			matched, err := s.UpdateOne(ctx, id, store.Filter{
				Eq: map[string]any{"storyState.branchPending.0:__next__": int64(999)},
			}, store.Update{Unset: []string{"storyState.branchPending.0:__next__"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(Equal(int64(0)))

			matched, err = s.UpdateOne(ctx, id, store.Filter{
				Eq: map[string]any{"storyState.branchPending.0:__next__": int64(100)},
			}, store.Update{Unset: []string{"storyState.branchPending.0:__next__"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(Equal(int64(1)))
		})
	})

	Describe("UpdateOne with an LTE filter", func() {
		It("matches only when the stored value is at or below the bound", func() {
			_, err := s.UpdateOne(ctx, id, store.Filter{}, store.Update{
				Set: map[string]any{"storyState.branchPending.0:__next__": int64(1000)},
			})
			Expect(err).NotTo(HaveOccurred())

			matched, err := s.UpdateOne(ctx, id, store.Filter{
				LTE: map[string]int64{"storyState.branchPending.0:__next__": 500},
			}, store.Update{Set: map[string]any{"storyState.branchPending.0:__next__": int64(2000)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(Equal(int64(0)))

			matched, err = s.UpdateOne(ctx, id, store.Filter{
				LTE: map[string]int64{"storyState.branchPending.0:__next__": 1000},
			}, store.Update{Set: map[string]any{"storyState.branchPending.0:__next__": int64(2000)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(Equal(int64(1)))
		})
	})

	It("supports dynamic map-key paths for Set and Unset", func() {
		_, err := s.UpdateOne(ctx, id, store.Filter{}, store.Update{
			Set: map[string]any{
				"storyState.branchCacheAt.2:opt-a": int64(42),
			},
		})
		Expect(err).NotTo(HaveOccurred())

		book, err := s.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(book.StoryState.BranchCacheAt).To(HaveKeyWithValue("2:opt-a", int64(42)))

		_, err = s.UpdateOne(ctx, id, store.Filter{}, store.Update{
			Unset: []string{"storyState.branchCacheAt.2:opt-a"},
		})
		Expect(err).NotTo(HaveOccurred())

		book, err = s.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(book.StoryState.BranchCacheAt).NotTo(HaveKey("2:opt-a"))
	})
})
