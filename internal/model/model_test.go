package model_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taleforge.dev/engine/internal/model"
)

func TestModel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Model Suite")
}

var _ = Describe("MakeOptionID", func() {
	It("is deterministic for identical (baseIndex, text)", func() {
		a := model.MakeOptionID(3, "open the door")
		b := model.MakeOptionID(3, "open the door")
		Expect(a).To(Equal(b))
	})

	It("differs when baseIndex differs", func() {
		a := model.MakeOptionID(3, "open the door")
		b := model.MakeOptionID(4, "open the door")
		Expect(a).NotTo(Equal(b))
	})

	It("differs when text differs", func() {
		a := model.MakeOptionID(3, "open the door")
		b := model.MakeOptionID(3, "close the door")
		Expect(a).NotTo(Equal(b))
	})

	It("encodes baseIndex as the id prefix", func() {
		id := model.MakeOptionID(7, "run away")
		Expect(id).To(HavePrefix("7-"))
	})
})

var _ = Describe("MakeOptionIDs", func() {
	It("preserves order and produces one id per option", func() {
		options := []string{"fight", "flee", "negotiate"}
		ids := model.MakeOptionIDs(2, options)
		Expect(ids).To(HaveLen(3))
		for i, opt := range options {
			Expect(ids[i]).To(Equal(model.MakeOptionID(2, opt)))
		}
	})
})

var _ = Describe("BranchKey / NextBranchKey", func() {
	It("formats the linear key with the __next__ sentinel", func() {
		Expect(model.NextBranchKey(3)).To(Equal("3:__next__"))
		Expect(model.BranchKey(3, "")).To(Equal("3:__next__"))
	})

	It("formats an option key with the option id", func() {
		Expect(model.BranchKey(3, "3-deadbeef")).To(Equal("3:3-deadbeef"))
	})

	It("supports the -1 before-first-page index", func() {
		Expect(model.NextBranchKey(-1)).To(Equal("-1:__next__"))
	})
})

var _ = Describe("Plan", func() {
	var plan *model.Plan

	BeforeEach(func() {
		plan = &model.Plan{
			Points: []model.Point{
				{Title: "setup", Substeps: []string{"a", "b"}},
				{Title: "climax", Substeps: []string{"c"}},
			},
		}
	})

	Describe("CurrentSubstep", func() {
		It("returns the substep at the cursor", func() {
			text, ok := plan.CurrentSubstep()
			Expect(ok).To(BeTrue())
			Expect(text).To(Equal("a"))
		})

		It("reports false once the cursor walks past the last point", func() {
			plan.CurPoint = 2
			_, ok := plan.CurrentSubstep()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Exhausted", func() {
		It("is false while curPoint is within range", func() {
			Expect(plan.Exhausted()).To(BeFalse())
		})

		It("is true once curPoint reaches len(points)", func() {
			plan.CurPoint = len(plan.Points)
			Expect(plan.Exhausted()).To(BeTrue())
		})
	})
})
