package promptbuilder

import (
	"fmt"
	"strings"

	"taleforge.dev/engine/internal/model"
)

const plannerSystemPrompt = `You are the planning mind behind an interactive branching-narrative engine.
Given a world, a main character, a genre, and up to two source titles for
tonal inspiration, invent an overall idea, a central conflict, and an
ordered outline of 6 to 9 major points. Each point is a title and a one or
two sentence brief of what happens in it. Points must build toward the
conflict's resolution. Return strictly JSON matching the supplied schema.`

const substepSystemPrompt = `You expand each major point of a narrative outline into 3 to 6 concrete
sub-steps: short phrases describing beats a reader will experience in
order. Sub-steps should be concrete enough to recognize once dramatized,
but not full prose. Return strictly JSON matching the supplied schema,
one items entry per point index you were given.`

const introInsertSystemPrompt = `You review a narrative outline's sub-steps and insert the minimal
introduction sub-steps needed before a reader would be confused by a
character, item, or concept the outline relies on without establishing
it. Do not remove or reorder existing sub-steps; only insert new ones
where introductions are missing. If a point's sub-steps need no
introductions, return its substeps unchanged. Return strictly JSON
matching the supplied schema.`

const generatorStyleDirectives = `Write lean, propulsive prose: 6 to 8 short paragraphs. Keep strict point
of view integrity for the protagonist. Let dialogue carry character
dynamics rather than exposition. Use figurative language sparingly and
only where it earns its place. Never reveal outline or planning
machinery to the reader.`

const verifierSystemPrompt = `You verify whether a committed page of an interactive story accomplished
a specific planned sub-step. Given the passage, a small amount of recent
context, and persistent memory notes, answer whether the sub-step was
dramatized, even loosely. Err on the side of done: a loose or partial
fulfillment still counts. Return strictly JSON matching the supplied
schema.`

const adaptSystemPrompt = `You revise a narrative outline after a reader made a choice that
diverges from its prior plan. Produce a revised overall idea, conflict,
and outline (at least 3 points, each with substeps) that stays
consistent with everything already committed to the story, and set the
cursor (curPoint, curSub) to the first unperformed sub-step under the
revised outline. Return strictly JSON matching the supplied schema.`

func configBlock(cfg model.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "World: %s\n", cfg.World)
	fmt.Fprintf(&b, "Main character: %s\n", cfg.MainChar)
	fmt.Fprintf(&b, "Genre: %s\n", cfg.Genre)
	if cfg.SourceTitleA != "" || cfg.SourceTitleB != "" {
		fmt.Fprintf(&b, "Tonal inspirations: %s, %s\n", cfg.SourceTitleA, cfg.SourceTitleB)
	}
	return b.String()
}

// PlannerPrompt builds the initial plan-points call.
func PlannerPrompt(cfg model.Config) (system, user string) {
	return plannerSystemPrompt, configBlock(cfg) + "\nPropose the overall idea, conflict, and 6-9 points."
}

// SubstepExpandPrompt builds the call expanding every point's sub-steps in
// one request (spec.md §4.3 step 2: "attach substeps... in a single call").
func SubstepExpandPrompt(cfg model.Config, points []model.Point) (system, user string) {
	var b strings.Builder
	b.WriteString(configBlock(cfg))
	b.WriteString("\nPoints:\n")
	for i, p := range points {
		fmt.Fprintf(&b, "%d. %s — %s\n", i, p.Title, p.Brief)
	}
	return substepSystemPrompt, b.String()
}

// IntroInsertPrompt builds the intro-insertion pass call.
func IntroInsertPrompt(cfg model.Config, points []model.Point) (system, user string) {
	var b strings.Builder
	b.WriteString(configBlock(cfg))
	b.WriteString("\nCurrent outline with sub-steps:\n")
	for i, p := range points {
		fmt.Fprintf(&b, "%d. %s — %s\n", i, p.Title, p.Brief)
		for j, s := range p.Substeps {
			fmt.Fprintf(&b, "   %d.%d %s\n", i, j, s)
		}
	}
	return introInsertSystemPrompt, b.String()
}

// Focus is the per-turn directive the page generator attaches to a request.
type Focus struct {
	Mode            FocusMode
	SubstepText     string // set only when Mode == FocusSubstep
	BuildupNextPoint string // set only in a transition window
}

type FocusMode string

const (
	FocusSubstep   FocusMode = "substep"
	FocusWorld     FocusMode = "world"
	FocusCharacter FocusMode = "character"
)

func focusDirective(f Focus) string {
	switch f.Mode {
	case FocusSubstep:
		d := fmt.Sprintf("This turn's focus: dramatize the planned sub-step %q.", f.SubstepText)
		if f.BuildupNextPoint != "" {
			d += fmt.Sprintf(" This is a transition window: without stating so to the reader, begin laying groundwork for the next major beat: %q.", f.BuildupNextPoint)
		}
		return d
	case FocusWorld:
		return "This turn's focus: deepen the reader's sense of the surrounding world — setting, atmosphere, stakes."
	default:
		return "This turn's focus: deepen a character — interiority, relationships, or a small character-revealing action."
	}
}

func optionsDirective(allowOptions bool) string {
	if allowOptions {
		return "You MAY include exactly three short string options the reader could choose next."
	}
	return "Do NOT include an options field in your response."
}

// GenerateContext is the recent-context payload the page-generator prompt
// assembles per spec.md §4.4's user-message contract.
type GenerateContext struct {
	PriorSummary string
	Notes        []string
	RecentPages  []string // up to three most recent passages, oldest first
	NextChoice   string
}

// GeneratePagePrompt builds the page-generation call.
func GeneratePagePrompt(focus Focus, allowOptions bool, gctx GenerateContext) (system, user string) {
	var sys strings.Builder
	sys.WriteString(generatorStyleDirectives)
	sys.WriteString("\n")
	sys.WriteString(focusDirective(focus))
	sys.WriteString("\n")
	sys.WriteString(optionsDirective(allowOptions))
	sys.WriteString("\nRespond with passage, summary, notes, and (if invited) options, matching the supplied schema exactly.")

	var usr strings.Builder
	if gctx.PriorSummary != "" {
		fmt.Fprintf(&usr, "Story so far: %s\n", gctx.PriorSummary)
	}
	if len(gctx.Notes) > 0 {
		usr.WriteString("Memory notes (persist these facts):\n")
		for _, n := range gctx.Notes {
			fmt.Fprintf(&usr, "- %s\n", n)
		}
	}
	for _, p := range gctx.RecentPages {
		fmt.Fprintf(&usr, "\n---\n%s\n", p)
	}
	if gctx.NextChoice != "" {
		fmt.Fprintf(&usr, "\nThe reader chose: %s\n", gctx.NextChoice)
	}
	usr.WriteString("\nReturn strictly JSON.")

	return sys.String(), usr.String()
}

// VerifierPrompt builds the deferred sub-step verification call.
func VerifierPrompt(passage, subText string, recentPages []string, notes []string) (system, user string) {
	var usr strings.Builder
	fmt.Fprintf(&usr, "Sub-step to check: %q\n\nPassage:\n%s\n", subText, passage)
	if len(recentPages) > 0 {
		usr.WriteString("\nRecent context:\n")
		for _, p := range recentPages {
			fmt.Fprintf(&usr, "---\n%s\n", p)
		}
	}
	if len(notes) > 0 {
		usr.WriteString("\nMemory notes:\n")
		for _, n := range notes {
			fmt.Fprintf(&usr, "- %s\n", n)
		}
	}
	return verifierSystemPrompt, usr.String()
}

// AdaptPrompt builds the post-choice plan-adaptation call.
func AdaptPrompt(cfg model.Config, plan *model.Plan, choiceText string, committedPage model.Page) (system, user string) {
	var usr strings.Builder
	usr.WriteString(configBlock(cfg))
	fmt.Fprintf(&usr, "\nPrior overall idea: %s\nPrior conflict: %s\n", plan.OverallIdea, plan.Conflict)
	usr.WriteString("Prior outline:\n")
	for i, p := range plan.Points {
		fmt.Fprintf(&usr, "%d. %s — %s\n", i, p.Title, p.Brief)
	}
	fmt.Fprintf(&usr, "\nReader chose: %s\n", choiceText)
	fmt.Fprintf(&usr, "Just-committed page summary: %s\n", committedPage.Summary)
	usr.WriteString("\nRevise the outline to remain consistent with this choice.")
	return adaptSystemPrompt, usr.String()
}
