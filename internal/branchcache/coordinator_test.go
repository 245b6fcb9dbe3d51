package branchcache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taleforge.dev/engine/internal/branchcache"
	"taleforge.dev/engine/internal/llmtest"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/pagegen"
	"taleforge.dev/engine/internal/planengine"
	"taleforge.dev/engine/internal/store"
	"taleforge.dev/engine/internal/verifier"
)

func TestBranchCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "BranchCache Suite")
}

// newCoordinator builds a Coordinator whose generator/planner/verifier are
// nil: PruneBranchCache never reaches them, only the CAS-backed store.
func newCoordinator(st store.Store) *branchcache.Coordinator {
	return branchcache.New(st, nil, nil, nil, nil)
}

const generateTag = "pagegen.generate"

var pageGenResponses = map[string]string{
	generateTag: `{"passage":"generated page","summary":"generated summary","notes":["noted"]}`,
}

// wiredCoordinator builds a Coordinator whose generator/planner/verifier are
// the real implementations, backed by a scriptable llmtest.Fake instead of
// the real LLM Gateway, so the CAS claim/takeover state machine runs
// end-to-end exactly as it does in production.
func wiredCoordinator(st store.Store, fake *llmtest.Fake) *branchcache.Coordinator {
	gen := pagegen.New(fake)
	plan := planengine.New(fake, st)
	ver := verifier.New(fake, st)
	return branchcache.New(st, gen, plan, ver, nil)
}

// readyPlan is a plan already past every pipeline step the coordinator's
// generation path would otherwise need to run a gateway call for, so the
// CAS specs below exercise exactly one gateway call per generation: the
// page-generation call itself.
func readyPlan() *model.Plan {
	return &model.Plan{
		OverallIdea: "idea",
		Conflict:    "conflict",
		Points: []model.Point{
			{Title: "setup", Brief: "b1", Substeps: []string{"s1"}},
			{Title: "middle", Brief: "b2", Substeps: []string{"s2"}},
			{Title: "climax", Brief: "b3", Substeps: []string{"s3"}},
		},
	}
}

func seedStoryState(index int) *model.StoryState {
	return &model.StoryState{
		Pages:         []model.Page{{Passage: "page 0"}},
		Index:         index,
		BranchCache:   map[string]model.Candidate{},
		BranchCacheAt: map[string]int64{},
		BranchPending: map[string]int64{},
	}
}

var _ = Describe("PruneBranchCache", func() {
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

	It("evicts every cache/pending entry strictly ahead of the current index", func() {
		book := &model.Book{
			ID: id,
			StoryState: &model.StoryState{
				Index: 2,
				BranchCache: map[string]model.Candidate{
					"1:__next__": {},
					"2:__next__": {},
					"3:__next__": {},
				},
				BranchCacheAt: map[string]int64{
					"1:__next__": 1000,
					"2:__next__": 1000,
					"3:__next__": 1000,
				},
				BranchPending: map[string]int64{
					"3:__next__": 1000,
				},
			},
		}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := newCoordinator(st)
		Expect(coord.PruneBranchCache(ctx, book)).To(Succeed())

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.StoryState.BranchCache).To(HaveKey("1:__next__"))
		Expect(reloaded.StoryState.BranchCache).To(HaveKey("2:__next__"))
		Expect(reloaded.StoryState.BranchCache).NotTo(HaveKey("3:__next__"))
		Expect(reloaded.StoryState.BranchCacheAt).NotTo(HaveKey("3:__next__"))
		Expect(reloaded.StoryState.BranchPending).NotTo(HaveKey("3:__next__"))
	})

	It("is a no-op when storyState is nil", func() {
		book := &model.Book{ID: id}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := newCoordinator(st)
		Expect(coord.PruneBranchCache(ctx, book)).To(Succeed())
	})

	It("caps historical (index<=current) entries at MaxHistoricalBranchCacheEntries, evicting the oldest first", func() {
		ss := &model.StoryState{
			Index:         1000,
			BranchCache:   map[string]model.Candidate{},
			BranchCacheAt: map[string]int64{},
			BranchPending: map[string]int64{},
		}
		total := branchcache.MaxHistoricalBranchCacheEntries + 10
		for i := 0; i < total; i++ {
			key := fmt.Sprintf("%d:__next__", i)
			ss.BranchCache[key] = model.Candidate{}
			ss.BranchCacheAt[key] = 1000
		}
		book := &model.Book{ID: id, StoryState: ss}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := newCoordinator(st)
		Expect(coord.PruneBranchCache(ctx, book)).To(Succeed())

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.StoryState.BranchCache).To(HaveLen(branchcache.MaxHistoricalBranchCacheEntries))

		// the lowest-indexed keys (oldest) are the ones evicted
		Expect(reloaded.StoryState.BranchCache).NotTo(HaveKey("0:__next__"))
		Expect(reloaded.StoryState.BranchCache).To(HaveKey(fmt.Sprintf("%d:__next__", total-1)))
	})
})

var _ = Describe("EnsureReady", func() {
	var (
		ctx  context.Context
		st   *store.MemStore
		id   string
		fake *llmtest.Fake
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemStore()
		id = "book-2"
		fake = llmtest.New(pageGenResponses)
	})

	// invariant 1 (spec.md §8): at most one writer generates a given key,
	// even when many callers race EnsureReady on it concurrently.
	It("lets exactly one of several concurrent callers perform the generation", func() {
		book := &model.Book{ID: id, Plan: readyPlan(), StoryState: seedStoryState(0)}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := wiredCoordinator(st, fake)

		const callers = 8
		var wg sync.WaitGroup
		results := make([]bool, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ready, err := coord.EnsureReady(ctx, id, 0)
				results[i] = ready
				errs[i] = err
			}(i)
		}
		wg.Wait()

		for i := 0; i < callers; i++ {
			Expect(errs[i]).NotTo(HaveOccurred())
			Expect(results[i]).To(BeTrue())
		}
		Expect(fake.CallCount(generateTag)).To(Equal(1))

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.StoryState.BranchCache).To(HaveKey("0:__next__"))
		Expect(reloaded.StoryState.BranchPending).NotTo(HaveKey("0:__next__"))
	})

	// invariant 3 (spec.md §8): no claim may be attempted while a plan
	// adaptation is in flight for the book.
	It("refuses to claim while planUpdating is true", func() {
		book := &model.Book{ID: id, Plan: readyPlan(), StoryState: seedStoryState(0), PlanUpdating: true}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := wiredCoordinator(st, fake)
		ready, err := coord.EnsureReady(ctx, id, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(ready).To(BeFalse())
		Expect(fake.CallCount(generateTag)).To(Equal(0))

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.StoryState.BranchPending).To(BeEmpty())
	})

	// §4.6 step 2 / scenario S4: a branchPending entry older than
	// StaleThreshold is abandoned work, not an active claim — a fresh
	// caller takes it over and completes the generation.
	It("takes over a stale branchPending claim and completes generation", func() {
		ss := seedStoryState(0)
		key := "0:__next__"
		ss.BranchPending[key] = time.Now().Add(-(branchcache.StaleThreshold + 5*time.Second)).UnixMilli()
		book := &model.Book{ID: id, Plan: readyPlan(), StoryState: ss}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := wiredCoordinator(st, fake)
		ready, err := coord.EnsureReady(ctx, id, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(ready).To(BeTrue())
		Expect(fake.CallCount(generateTag)).To(Equal(1))

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.StoryState.BranchCache).To(HaveKey(key))
		Expect(reloaded.StoryState.BranchCacheAt).To(HaveKey(key))
		Expect(reloaded.StoryState.BranchPending).NotTo(HaveKey(key))
	})

	It("reports the cache as ready without generating when it is already fresh", func() {
		ss := seedStoryState(0)
		key := "0:__next__"
		ss.BranchCache[key] = model.Candidate{Page: model.Page{Passage: "already cached"}}
		ss.BranchCacheAt[key] = time.Now().UnixMilli()
		book := &model.Book{ID: id, Plan: readyPlan(), StoryState: ss}
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		coord := wiredCoordinator(st, fake)
		ready, err := coord.EnsureReady(ctx, id, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(ready).To(BeTrue())
		Expect(fake.CallCount(generateTag)).To(Equal(0))
	})
})
