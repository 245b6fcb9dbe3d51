// Package model defines the persistent shapes shared across the authoring
// engine: books, plans, story state, pages and branch-cache candidates.
package model

import "fmt"

// Config is the free-text authoring configuration a book was started from.
type Config struct {
	SourceTitleA string `bson:"sourceTitleA" json:"sourceTitleA"`
	SourceTitleB string `bson:"sourceTitleB" json:"sourceTitleB"`
	World        string `bson:"world"        json:"world"`
	MainChar     string `bson:"mainChar"     json:"mainChar"`
	Genre        string `bson:"genre"        json:"genre"`
}

// Point is one beat of the plan's outline.
type Point struct {
	Title    string   `bson:"title"    json:"title"`
	Brief    string   `bson:"brief"    json:"brief"`
	Substeps []string `bson:"substeps" json:"substeps,omitempty"`
}

// Plan is the narrative outline steering generation, with a moving cursor.
type Plan struct {
	OverallIdea string  `bson:"overallIdea" json:"overallIdea"`
	Conflict    string  `bson:"conflict"    json:"conflict"`
	Points      []Point `bson:"points"      json:"points"`
	CurPoint    int     `bson:"curPoint"    json:"curPoint"`
	CurSub      int     `bson:"curSub"      json:"curSub"`
}

// Exhausted reports whether the cursor has walked off the end of the plan.
func (p *Plan) Exhausted() bool {
	return p.CurPoint >= len(p.Points)
}

// CurrentSubstep returns the text at the cursor and whether it exists.
func (p *Plan) CurrentSubstep() (string, bool) {
	if p.CurPoint < 0 || p.CurPoint >= len(p.Points) {
		return "", false
	}
	pt := p.Points[p.CurPoint]
	if p.CurSub < 0 || p.CurSub >= len(pt.Substeps) {
		return "", false
	}
	return pt.Substeps[p.CurSub], true
}

// Page is one committed chapter of prose, optionally offering choices.
type Page struct {
	Passage   string   `bson:"passage"             json:"passage"`
	Summary   string   `bson:"summary"             json:"summary"`
	Options   []string `bson:"options,omitempty"   json:"options,omitempty"`
	OptionIDs []string `bson:"optionIds,omitempty" json:"optionIds,omitempty"`
}

// SubToCheck identifies a sub-step a generated page claims to have dramatized.
type SubToCheck struct {
	PointIndex int    `bson:"pointIndex" json:"pointIndex"`
	SubIndex   int    `bson:"subIndex"   json:"subIndex"`
	Text       string `bson:"text"       json:"text"`
}

// PendingVerify is the deferred-verification record written at commit time.
type PendingVerify struct {
	Passage    string `bson:"passage"    json:"passage"`
	SubText    string `bson:"subText"    json:"subText"`
	PointIndex int    `bson:"pointIndex" json:"pointIndex"`
	SubIndex   int    `bson:"subIndex"   json:"subIndex"`
}

// Candidate is a speculatively generated page held in the branch cache.
type Candidate struct {
	Page       Page        `bson:"page"                 json:"page"`
	NotesDelta []string    `bson:"notesDelta"           json:"notesDelta"`
	SubToCheck *SubToCheck `bson:"subToCheck,omitempty" json:"subToCheck,omitempty"`
}

// StoryState is the live, append-only narrative thread of a book.
type StoryState struct {
	Pages         []Page                `bson:"pages"                   json:"pages"`
	Index         int                   `bson:"index"                   json:"index"`
	Notes         []string              `bson:"notes"                   json:"notes"`
	Summary       string                `bson:"summary"                 json:"summary"`
	Turn          int                   `bson:"turn"                    json:"turn"`
	BranchCache   map[string]Candidate  `bson:"branchCache"              json:"-"`
	BranchCacheAt map[string]int64      `bson:"branchCacheAt"            json:"-"`
	BranchPending map[string]int64      `bson:"branchPending"            json:"-"`
	PendingVerify *PendingVerify        `bson:"pendingVerify,omitempty"  json:"-"`
}

// Book is the persistent root aggregate: one per authored story.
type Book struct {
	ID           string      `bson:"_id"          json:"id"`
	OwnerID      string      `bson:"ownerId"      json:"ownerId"`
	Config       Config      `bson:"config"       json:"config"`
	CreatedAt    int64       `bson:"createdAt"    json:"createdAt"`
	UpdatedAt    int64       `bson:"updatedAt"    json:"updatedAt"`
	Plan         *Plan       `bson:"plan,omitempty"       json:"plan,omitempty"`
	StoryState   *StoryState `bson:"storyState,omitempty" json:"storyState,omitempty"`
	PlanUpdating bool        `bson:"planUpdating" json:"planUpdating"`
}

// BranchKey formats the cache key for the continuation of pageIndex along
// either the linear "__next__" branch or a specific option id.
func BranchKey(pageIndex int, optionID string) string {
	if optionID == "" {
		optionID = "__next__"
	}
	return fmt.Sprintf("%d:%s", pageIndex, optionID)
}

// NextBranchKey is the linear-advance key for pageIndex.
func NextBranchKey(pageIndex int) string {
	return BranchKey(pageIndex, "")
}
