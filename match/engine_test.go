package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/core"
)

// stubEmbedder maps each text to a fixed vector, defaulting to the zero
// value's fallback vector for unknown texts.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := s.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

func record(fp, title string, skills []string, postedAt time.Time) core.JobRecord {
	return core.JobRecord{
		Fingerprint: fp,
		Title:       title,
		Skills:      skills,
		PostedAt:    postedAt,
		Status:      core.StatusActive,
	}
}

func TestEngine_EmptyProfileIsInsufficientInput(t *testing.T) {
	engine := NewEngine(&stubEmbedder{})

	report, err := engine.Match(context.Background(), core.CandidateProfile{}, []core.JobRecord{
		record("a", "Go Engineer", []string{"go"}, time.Now()),
	})
	require.NoError(t, err)
	assert.True(t, report.InsufficientInput)
	assert.Empty(t, report.Matches)
}

func TestEngine_EmptyJobSet(t *testing.T) {
	engine := NewEngine(&stubEmbedder{})
	profile := core.CandidateProfile{Skills: []string{"go"}}

	report, err := engine.Match(context.Background(), profile, nil)
	require.NoError(t, err)
	assert.False(t, report.InsufficientInput)
	assert.Empty(t, report.Matches)
}

func TestEngine_ScoresWithinBounds(t *testing.T) {
	engine := NewEngine(&stubEmbedder{})
	profile := core.CandidateProfile{Summary: "backend engineer", Skills: []string{"go", "postgres"}}

	records := []core.JobRecord{
		record("a", "Go Engineer", []string{"go", "postgres"}, time.Now()),
		record("b", "Frontend Dev", []string{"react", "css"}, time.Now()),
		record("c", "Untagged Role", nil, time.Now()),
	}
	report, err := engine.Match(context.Background(), profile, records)
	require.NoError(t, err)
	require.Len(t, report.Matches, 3)
	for _, m := range report.Matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestEngine_RanksFullOverlapAboveNone(t *testing.T) {
	engine := NewEngine(&stubEmbedder{})
	profile := core.CandidateProfile{Summary: "backend engineer", Skills: []string{"go", "postgres"}}

	records := []core.JobRecord{
		record("none", "Designer", []string{"figma", "sketch"}, time.Now()),
		record("full", "Go Engineer", []string{"go", "postgres"}, time.Now()),
	}
	report, err := engine.Match(context.Background(), profile, records)
	require.NoError(t, err)
	require.Len(t, report.Matches, 2)

	assert.Equal(t, "full", report.Matches[0].Fingerprint)
	assert.Equal(t, []string{"go", "postgres"}, report.Matches[0].MatchingSkills)
	assert.Equal(t, []string{"figma", "sketch"}, report.Matches[1].MissingSkills)
	assert.Greater(t, report.Matches[0].Score, report.Matches[1].Score)
}

func TestEngine_TieBreaksByRecency(t *testing.T) {
	engine := NewEngine(&stubEmbedder{})
	profile := core.CandidateProfile{Summary: "backend engineer", Skills: []string{"go"}}

	older := time.Now().Add(-72 * time.Hour)
	newer := time.Now()
	records := []core.JobRecord{
		record("old", "Go Engineer", []string{"go"}, older),
		record("new", "Go Engineer", []string{"go"}, newer),
	}
	report, err := engine.Match(context.Background(), profile, records)
	require.NoError(t, err)
	require.Len(t, report.Matches, 2)
	assert.Equal(t, "new", report.Matches[0].Fingerprint)
	assert.Equal(t, "old", report.Matches[1].Fingerprint)
}

func TestEngine_DegradesWhenEmbedderFails(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("quota exceeded")}
	engine := NewEngine(embedder)
	profile := core.CandidateProfile{Skills: []string{"go"}}

	report, err := engine.Match(context.Background(), profile, []core.JobRecord{
		record("a", "Go Engineer", []string{"go"}, time.Now()),
		record("b", "Designer", []string{"figma"}, time.Now()),
	})
	require.NoError(t, err)
	require.Len(t, report.Matches, 2)
	assert.Equal(t, 1, embedder.calls)

	assert.Equal(t, "a", report.Matches[0].Fingerprint)
	assert.Equal(t, 1.0, report.Matches[0].Score)
	assert.Equal(t, 0.0, report.Matches[1].Score)
}

func TestBuildHeatmap(t *testing.T) {
	profile := core.CandidateProfile{Skills: []string{"Go"}}
	records := []core.JobRecord{
		record("a", "Go Engineer", []string{"go", "postgres"}, time.Now()),
		record("b", "Go Developer", []string{"Go", "kubernetes"}, time.Now()),
		record("c", "Platform Engineer", []string{"kubernetes"}, time.Now()),
	}

	heatmap := BuildHeatmap(profile, records)
	require.Len(t, heatmap, 3)

	assert.Equal(t, "go", heatmap[0].Skill)
	assert.Equal(t, 2, heatmap[0].Demand)
	assert.True(t, heatmap[0].Covered)

	assert.Equal(t, "kubernetes", heatmap[1].Skill)
	assert.Equal(t, 2, heatmap[1].Demand)
	assert.False(t, heatmap[1].Covered)

	assert.Equal(t, "postgres", heatmap[2].Skill)
	assert.Equal(t, 1, heatmap[2].Demand)
}
