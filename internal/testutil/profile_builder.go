package testutil

import (
	"strings"

	"github.com/jobmesh/jobmesh/core"
)

// ProfileBuilder provides a fluent helper for constructing candidate
// profiles in tests.
type ProfileBuilder struct {
	profile core.CandidateProfile
}

// NewProfileBuilder creates a builder for a named candidate.
func NewProfileBuilder(name string) *ProfileBuilder {
	return &ProfileBuilder{profile: core.CandidateProfile{Name: name}}
}

// Skill appends one or more skills (chainable).
func (b *ProfileBuilder) Skill(skills ...string) *ProfileBuilder {
	b.profile.Skills = append(b.profile.Skills, skills...)
	return b
}

// Title appends a held job title (chainable).
func (b *ProfileBuilder) Title(titles ...string) *ProfileBuilder {
	b.profile.Titles = append(b.profile.Titles, titles...)
	return b
}

// Summary sets the profile summary (chainable).
func (b *ProfileBuilder) Summary(s string) *ProfileBuilder {
	b.profile.Summary = s
	return b
}

// Build returns the profile. RawText is synthesized from the structured
// fields when not set so the profile carries matching signal.
func (b *ProfileBuilder) Build() core.CandidateProfile {
	p := b.profile
	if p.RawText == "" {
		parts := []string{p.Name, p.Summary}
		parts = append(parts, p.Titles...)
		parts = append(parts, p.Skills...)
		p.RawText = strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return p
}
