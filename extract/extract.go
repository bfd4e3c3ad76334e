// Package extract turns uploaded resume files into structured candidate
// profiles. Binary formats go through docconv; plain text is taken as is.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
)

// defaultSkillLexicon is the keyword set scanned when no custom lexicon is
// configured. Matching is case-insensitive and word-bounded for single
// tokens.
var defaultSkillLexicon = []string{
	"Go", "Golang", "Python", "Java", "JavaScript", "TypeScript", "Rust",
	"C++", "C#", "SQL", "React", "Vue", "Angular", "Node.js",
	"Docker", "Kubernetes", "Terraform", "Linux",
	"PostgreSQL", "MySQL", "MongoDB", "Redis", "Kafka", "Elasticsearch",
	"AWS", "Azure", "GCP", "GraphQL", "REST", "gRPC", "Microservices",
	"Git", "CI/CD", "DevOps", "Machine Learning", "Data Science",
}

var titleKeywords = []string{
	"engineer", "developer", "architect", "manager", "analyst",
	"scientist", "designer", "consultant", "administrator", "lead",
}

var educationKeywords = []string{
	"university", "college", "bachelor", "master", "phd", "b.sc", "m.sc",
	"diploma", "degree",
}

// Options configures an Extractor.
type Options struct {
	// SkillLexicon overrides the default skill keyword set.
	SkillLexicon []string
	Logger       *logging.JobMeshLogger
}

// Extractor implements core.TextExtractor over docconv.
type Extractor struct {
	lexicon []string
	logger  *logging.JobMeshLogger
}

// New builds an Extractor.
func New(optFns ...func(o *Options)) *Extractor {
	opts := Options{
		SkillLexicon: defaultSkillLexicon,
		Logger:       logging.NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Extractor{
		lexicon: opts.SkillLexicon,
		logger:  opts.Logger.WithComponent("extract"),
	}
}

// Extract converts the uploaded file to text and distills a profile from
// it. Unsupported formats, empty files and conversion failures are
// classified InputInvalid.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (core.CandidateProfile, error) {
	if err := ctx.Err(); err != nil {
		return core.CandidateProfile{}, err
	}
	if len(data) == 0 {
		return core.CandidateProfile{}, core.InputInvalid("extract", fmt.Errorf("empty file %q", filename))
	}

	text, err := e.toText(filename, data)
	if err != nil {
		return core.CandidateProfile{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return core.CandidateProfile{}, core.InputInvalid("extract", fmt.Errorf("no extractable text in %q", filename))
	}

	profile := e.buildProfile(text)
	e.logger.Debug("resume extracted",
		"filename", filename,
		"skills", len(profile.Skills),
		"chars", len(text),
	)
	return profile, nil
}

func (e *Extractor) toText(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
		if !utf8.Valid(data) {
			return "", core.InputInvalid("extract", fmt.Errorf("%q is not valid text", filename))
		}
		return string(data), nil
	case ".pdf", ".docx", ".doc", ".rtf", ".odt":
		res, err := docconv.Convert(bytes.NewReader(data), docconv.MimeTypeByExtension(filename), true)
		if err != nil {
			return "", core.InputInvalid("extract", fmt.Errorf("unreadable document %q: %w", filename, err))
		}
		return res.Body, nil
	default:
		return "", core.InputInvalid("extract", fmt.Errorf("unsupported file type %q", ext))
	}
}

// buildProfile applies keyword heuristics over the extracted text. This is
// deliberately cheap; richer entity extraction belongs to a model-backed
// stage, not the upload path.
func (e *Extractor) buildProfile(text string) core.CandidateProfile {
	lines := strings.Split(text, "\n")
	lowered := strings.ToLower(text)
	tokens := tokenize(lowered)

	profile := core.CandidateProfile{RawText: text}
	profile.Name = guessName(lines)

	for _, skill := range e.lexicon {
		if matchesSkill(lowered, tokens, skill) {
			profile.Skills = append(profile.Skills, skill)
		}
	}

	seenTitles := make(map[string]struct{})
	seenEdu := make(map[string]struct{})
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > 120 {
			continue
		}
		ll := strings.ToLower(trimmed)
		if containsAny(ll, titleKeywords) {
			if _, ok := seenTitles[ll]; !ok {
				seenTitles[ll] = struct{}{}
				profile.Titles = append(profile.Titles, trimmed)
			}
		}
		if containsAny(ll, educationKeywords) {
			if _, ok := seenEdu[ll]; !ok {
				seenEdu[ll] = struct{}{}
				profile.Education = append(profile.Education, trimmed)
			}
		}
	}

	profile.Summary = firstParagraph(lines, profile.Name)
	return profile
}

// guessName takes the first short line without digits, the usual resume
// header.
func guessName(lines []string) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 60 || strings.ContainsAny(trimmed, "0123456789@") {
			return ""
		}
		return trimmed
	}
	return ""
}

// firstParagraph returns the first block of prose after the header line,
// capped to keep the profile compact.
func firstParagraph(lines []string, name string) string {
	var b strings.Builder
	started := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if started {
				break
			}
			continue
		}
		if trimmed == name {
			continue
		}
		started = true
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(trimmed)
		if b.Len() > 280 {
			break
		}
	}
	summary := b.String()
	if len(summary) > 280 {
		summary = summary[:280]
	}
	return summary
}

// tokenize splits lowered text into words, keeping the characters skill
// names depend on (c++, c#, node.js).
func tokenize(lowered string) map[string]struct{} {
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#' && r != '.' && r != '/'
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[strings.Trim(f, ".")] = struct{}{}
	}
	return tokens
}

// matchesSkill uses substring matching for multi-word skills and exact
// token matching for single words so "Go" does not fire on "Google".
func matchesSkill(lowered string, tokens map[string]struct{}, skill string) bool {
	ls := strings.ToLower(skill)
	if strings.Contains(ls, " ") {
		return strings.Contains(lowered, ls)
	}
	_, ok := tokens[ls]
	return ok
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
