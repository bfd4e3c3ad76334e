package core

import (
	"strings"
	"time"
)

// CandidateProfile is the structured form of an uploaded resume produced by a
// TextExtractor.
type CandidateProfile struct {
	Name      string   `json:"name,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Titles    []string `json:"titles,omitempty"`
	Education []string `json:"education,omitempty"`
	RawText   string   `json:"raw_text,omitempty"`
}

// Empty reports whether the profile carries no usable signal for matching.
func (p CandidateProfile) Empty() bool {
	return len(p.Skills) == 0 && strings.TrimSpace(p.RawText) == ""
}

// HasSkill reports whether the profile lists the skill (case-insensitive).
func (p CandidateProfile) HasSkill(skill string) bool {
	for _, s := range p.Skills {
		if strings.EqualFold(s, skill) {
			return true
		}
	}
	return false
}

// JobMatch is one ranked entry of a MatchReport.
type JobMatch struct {
	Fingerprint    string   `json:"fingerprint"`
	Score          float64  `json:"score"`
	MatchingSkills []string `json:"matching_skills,omitempty"`
	MissingSkills  []string `json:"missing_skills,omitempty"`
}

// SkillDemand is one row of the aggregate skill heatmap: how many of the
// matched postings ask for the skill and whether the candidate covers it.
type SkillDemand struct {
	Skill   string `json:"skill"`
	Demand  int    `json:"demand"`
	Covered bool   `json:"covered"`
}

// MatchReport is the output of the Matching Engine: ranked matches with a
// skill-gap breakdown. It is owned by the pipeline run that produced it and
// read-only once attached.
type MatchReport struct {
	Matches []JobMatch    `json:"matches"`
	Heatmap []SkillDemand `json:"heatmap,omitempty"`

	// InsufficientInput distinguishes "the profile carried no signal" from
	// a genuine zero-match result.
	InsufficientInput bool `json:"insufficient_input,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ResumeDocument is the structured document handed to a Renderer after the
// rewrite stage.
type ResumeDocument struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Keywords []string `json:"keywords,omitempty"`
}
