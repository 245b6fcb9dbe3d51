package verifier_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taleforge.dev/engine/internal/llmtest"
	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/store"
	"taleforge.dev/engine/internal/verifier"
)

func TestVerifier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Verifier Suite")
}

const checkTag = "verifier.check"

func seedBook(id string, pv *model.PendingVerify) *model.Book {
	return &model.Book{
		ID: id,
		Plan: &model.Plan{
			Points: []model.Point{
				{Title: "a", Substeps: []string{"a1", "a2"}},
				{Title: "b", Substeps: []string{"b1"}},
			},
			CurPoint: 0,
			CurSub:   0,
		},
		StoryState: &model.StoryState{
			Pages:         []model.Page{{Passage: "page 0"}},
			PendingVerify: pv,
		},
	}
}

var _ = Describe("VerifyPendingBeforeNext", func() {
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

	// invariant 4 (spec.md §8): the cursor only ever moves forward, and
	// only on a positive verdict.
	It("advances the cursor exactly one step on a positive verdict and clears pendingVerify", func() {
		fake := llmtest.New(map[string]string{checkTag: `{"done":true}`})
		book := seedBook(id, &model.PendingVerify{Passage: "p", SubText: "a1", PointIndex: 0, SubIndex: 0})
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		v := verifier.New(fake, st)
		v.VerifyPendingBeforeNext(ctx, book)

		Expect(fake.CallCount(checkTag)).To(Equal(1))
		Expect(book.Plan.CurPoint).To(Equal(0))
		Expect(book.Plan.CurSub).To(Equal(1))
		Expect(book.StoryState.PendingVerify).To(BeNil())

		reloaded, err := st.FindOne(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Plan.CurSub).To(Equal(1))
		Expect(reloaded.StoryState.PendingVerify).To(BeNil())
	})

	It("leaves the cursor unmoved on a negative verdict, still clearing pendingVerify", func() {
		fake := llmtest.New(map[string]string{checkTag: `{"done":false}`})
		book := seedBook(id, &model.PendingVerify{Passage: "p", SubText: "a1", PointIndex: 0, SubIndex: 0})
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		v := verifier.New(fake, st)
		v.VerifyPendingBeforeNext(ctx, book)

		Expect(fake.CallCount(checkTag)).To(Equal(1))
		Expect(book.Plan.CurPoint).To(Equal(0))
		Expect(book.Plan.CurSub).To(Equal(0))
		Expect(book.StoryState.PendingVerify).To(BeNil())
	})

	It("is a no-op when there is no pendingVerify", func() {
		fake := llmtest.New(nil)
		book := seedBook(id, nil)
		Expect(st.InsertOne(ctx, book)).To(Succeed())

		v := verifier.New(fake, st)
		v.VerifyPendingBeforeNext(ctx, book)

		Expect(fake.CallCount(checkTag)).To(Equal(0))
		Expect(book.Plan.CurSub).To(Equal(0))
	})
})
