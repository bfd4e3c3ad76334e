// Package match implements the similarity engine that scores a candidate
// profile against a set of job postings. Scoring blends a semantic signal
// (profile text vs. posting text embeddings) with a structured skill-overlap
// signal; the blend is normalized to [0,1].
package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/index"
	"github.com/jobmesh/jobmesh/logging"
)

// Embedder produces embedding vectors for a batch of texts. The returned
// slice is index-aligned with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	defaultSemanticWeight = 0.65
	defaultSkillWeight    = 0.35
)

// Options configures an Engine.
type Options struct {
	// SemanticWeight and SkillWeight control the score blend. They are
	// renormalized so they always sum to 1.
	SemanticWeight float64
	SkillWeight    float64
	Logger         logging.Logger
}

// Engine scores candidate profiles against job postings. It is pure with
// respect to its inputs: no call mutates the records it is given.
type Engine struct {
	embedder       Embedder
	semanticWeight float64
	skillWeight    float64
	logger         logging.Logger
}

// NewEngine builds an Engine around an embedder.
func NewEngine(embedder Embedder, optFns ...func(o *Options)) *Engine {
	opts := Options{
		SemanticWeight: defaultSemanticWeight,
		SkillWeight:    defaultSkillWeight,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	total := opts.SemanticWeight + opts.SkillWeight
	if total <= 0 {
		opts.SemanticWeight = defaultSemanticWeight
		opts.SkillWeight = defaultSkillWeight
		total = 1
	}
	return &Engine{
		embedder:       embedder,
		semanticWeight: opts.SemanticWeight / total,
		skillWeight:    opts.SkillWeight / total,
		logger:         opts.Logger,
	}
}

// Match scores the profile against the records and returns a ranked report.
// An empty profile yields the InsufficientInput marker instead of a spurious
// zero-score ranking. When the embedder is unavailable the engine degrades
// to skill-overlap-only scoring.
func (e *Engine) Match(ctx context.Context, profile core.CandidateProfile, records []core.JobRecord) (core.MatchReport, error) {
	report := core.MatchReport{GeneratedAt: time.Now().UTC()}
	if profile.Empty() {
		report.InsufficientInput = true
		return report, nil
	}
	if len(records) == 0 {
		return report, nil
	}

	similarities := e.semanticSimilarities(ctx, profile, records)

	matches := make([]core.JobMatch, 0, len(records))
	for i, rec := range records {
		matching, missing := skillOverlap(profile, rec.Skills)

		var score float64
		switch {
		case similarities == nil && len(rec.Skills) == 0:
			// No signal at all for this posting.
			score = 0
		case similarities == nil:
			score = overlapScore(matching, rec.Skills)
		case len(rec.Skills) == 0:
			score = similarities[i]
		default:
			score = e.semanticWeight*similarities[i] + e.skillWeight*overlapScore(matching, rec.Skills)
		}

		matches = append(matches, core.JobMatch{
			Fingerprint:    rec.Fingerprint,
			Score:          clamp01(score),
			MatchingSkills: matching,
			MissingSkills:  missing,
		})
	}

	postedAt := make(map[string]time.Time, len(records))
	for _, rec := range records {
		postedAt[rec.Fingerprint] = rec.PostedAt
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return postedAt[matches[i].Fingerprint].After(postedAt[matches[j].Fingerprint])
	})

	report.Matches = matches
	report.Heatmap = BuildHeatmap(profile, records)
	return report, nil
}

// semanticSimilarities embeds the profile and every posting in one batch and
// returns per-record similarities in [0,1], or nil when the semantic signal
// is unavailable.
func (e *Engine) semanticSimilarities(ctx context.Context, profile core.CandidateProfile, records []core.JobRecord) []float64 {
	if e.embedder == nil {
		return nil
	}
	texts := make([]string, 0, len(records)+1)
	texts = append(texts, profileText(profile))
	for _, rec := range records {
		texts = append(texts, postingText(rec))
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		e.logger.Warn("embedding unavailable, falling back to skill overlap", "error", err)
		return nil
	}

	profileVec := vectors[0]
	out := make([]float64, len(records))
	for i := range records {
		sim, ok := index.Cosine(profileVec, vectors[i+1])
		if !ok {
			continue
		}
		// Cosine lands in [-1,1]; shift into [0,1].
		out[i] = clamp01((sim + 1) / 2)
	}
	return out
}

// skillOverlap splits a posting's skill list into skills the candidate has
// and skills they lack. Comparison is case-insensitive; output keeps the
// posting's casing.
func skillOverlap(profile core.CandidateProfile, required []string) (matching, missing []string) {
	for _, skill := range required {
		if profile.HasSkill(skill) {
			matching = append(matching, skill)
		} else {
			missing = append(missing, skill)
		}
	}
	return matching, missing
}

func overlapScore(matching, required []string) float64 {
	if len(required) == 0 {
		return 0
	}
	return float64(len(matching)) / float64(len(required))
}

// BuildHeatmap aggregates skill demand over the postings: how many postings
// ask for each skill and whether the candidate covers it. Rows order by
// demand descending, then alphabetically.
func BuildHeatmap(profile core.CandidateProfile, records []core.JobRecord) []core.SkillDemand {
	demand := make(map[string]int)
	casing := make(map[string]string)
	for _, rec := range records {
		seen := make(map[string]struct{}, len(rec.Skills))
		for _, skill := range rec.Skills {
			key := strings.ToLower(strings.TrimSpace(skill))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			demand[key]++
			if _, ok := casing[key]; !ok {
				casing[key] = strings.TrimSpace(skill)
			}
		}
	}
	if len(demand) == 0 {
		return nil
	}

	heatmap := make([]core.SkillDemand, 0, len(demand))
	for key, count := range demand {
		heatmap = append(heatmap, core.SkillDemand{
			Skill:   casing[key],
			Demand:  count,
			Covered: profile.HasSkill(key),
		})
	}
	sort.Slice(heatmap, func(i, j int) bool {
		if heatmap[i].Demand != heatmap[j].Demand {
			return heatmap[i].Demand > heatmap[j].Demand
		}
		return heatmap[i].Skill < heatmap[j].Skill
	})
	return heatmap
}

func profileText(p core.CandidateProfile) string {
	parts := make([]string, 0, 4)
	if p.Summary != "" {
		parts = append(parts, p.Summary)
	}
	if len(p.Titles) > 0 {
		parts = append(parts, strings.Join(p.Titles, ", "))
	}
	if len(p.Skills) > 0 {
		parts = append(parts, strings.Join(p.Skills, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, p.RawText)
	}
	return strings.Join(parts, "\n")
}

func postingText(r core.JobRecord) string {
	parts := []string{r.Title}
	if len(r.Skills) > 0 {
		parts = append(parts, strings.Join(r.Skills, ", "))
	}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	return strings.Join(parts, "\n")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
