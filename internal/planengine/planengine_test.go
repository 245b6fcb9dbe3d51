package planengine_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taleforge.dev/engine/internal/model"
	"taleforge.dev/engine/internal/planengine"
)

func TestPlanEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PlanEngine Suite")
}

func twoPointPlan() *model.Plan {
	return &model.Plan{
		Points: []model.Point{
			{Title: "setup", Substeps: []string{"a", "b"}},
			{Title: "climax", Substeps: []string{"c"}},
		},
	}
}

var _ = Describe("AdvanceCursor", func() {
	It("advances curSub within the same point", func() {
		plan := twoPointPlan()
		planengine.AdvanceCursor(plan)
		Expect(plan.CurPoint).To(Equal(0))
		Expect(plan.CurSub).To(Equal(1))
	})

	It("rolls into the next point once substeps are exhausted", func() {
		plan := twoPointPlan()
		plan.CurSub = 1 // last substep of point 0
		planengine.AdvanceCursor(plan)
		Expect(plan.CurPoint).To(Equal(1))
		Expect(plan.CurSub).To(Equal(0))
	})

	It("caps curPoint at len(points) rather than overflowing past it", func() {
		plan := twoPointPlan()
		plan.CurPoint = 1
		plan.CurSub = 0 // last substep of point 1 (only one substep)
		planengine.AdvanceCursor(plan)
		Expect(plan.CurPoint).To(Equal(2))
		Expect(plan.CurSub).To(Equal(0))
		Expect(plan.Exhausted()).To(BeTrue())
	})

	It("is a no-op once the plan is already exhausted", func() {
		plan := twoPointPlan()
		plan.CurPoint = 2
		planengine.AdvanceCursor(plan)
		Expect(plan.CurPoint).To(Equal(2))
		Expect(plan.CurSub).To(Equal(0))
	})

	It("never moves the cursor backward across repeated advances", func() {
		plan := twoPointPlan()
		positions := [][2]int{}
		for i := 0; i < 4; i++ {
			planengine.AdvanceCursor(plan)
			positions = append(positions, [2]int{plan.CurPoint, plan.CurSub})
		}
		prev := [2]int{0, 0}
		for _, pos := range positions {
			Expect(pos[0]).To(BeNumerically(">=", prev[0]))
			if pos[0] == prev[0] {
				Expect(pos[1]).To(BeNumerically(">=", prev[1]))
			}
			prev = pos
		}
	})
})
