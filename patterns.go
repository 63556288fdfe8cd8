package main

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Pattern vector geometry: 3 stages x 5 contexts x 5 level slots. Only the
// first 3 level slots are populated; the remaining 2 are reserved so stored
// vectors survive a future level-taxonomy extension.
const (
	vectorLevelSlots = 5
	stageBlockSize   = 25 // 5 contexts * 5 level slots
	vectorSize       = 3 * stageBlockSize
)

// IdealPattern is one reference teaching philosophy expressed as an
// independent probability factorization: stage weight x context weight
// given stage x level weight.
type IdealPattern struct {
	Name           string                        `yaml:"name"`
	Description    string                        `yaml:"description"`
	StageWeights   map[string]float64            `yaml:"stage_weights"`
	ContextWeights map[string]map[string]float64 `yaml:"context_weights"`
	LevelWeights   map[string]float64            `yaml:"level_weights"`

	vector []float64
}

type patternsFile struct {
	Patterns []IdealPattern `yaml:"patterns"`
}

// LoadIdealPatterns reads pattern definitions from a YAML file and converts
// them to normalized vectors. An empty path returns the built-in set.
func LoadIdealPatterns(path string) ([]IdealPattern, error) {
	if path == "" {
		return defaultIdealPatterns()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	var file patternsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse patterns yaml: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("patterns file '%s' defines no patterns", path)
	}
	for i := range file.Patterns {
		if err := file.Patterns[i].buildVector(); err != nil {
			return nil, fmt.Errorf("pattern '%s': %w", file.Patterns[i].Name, err)
		}
	}
	return file.Patterns, nil
}

func (p *IdealPattern) buildVector() error {
	if p.Name == "" {
		return fmt.Errorf("missing name")
	}
	v := make([]float64, vectorSize)
	for si, stage := range Stages {
		stageW := p.StageWeights[stage]
		contexts := p.ContextWeights[stage]
		for ci, context := range Contexts {
			contextW := contexts[context]
			for li, level := range Levels {
				v[vectorIndex(si, ci, li)] = stageW * contextW * p.LevelWeights[level]
			}
		}
	}
	normalized, ok := l2Normalize(v)
	if !ok {
		return fmt.Errorf("all weights zero")
	}
	p.vector = normalized
	return nil
}

func vectorIndex(stage, context, levelSlot int) int {
	return stage*stageBlockSize + context*vectorLevelSlots + levelSlot
}

// MatrixVector projects the frequency cube into the 75-dim pattern space:
// cell counts divided by utterance count, then L2-normalized.
func MatrixVector(m *LessonMatrix) []float64 {
	v := make([]float64, vectorSize)
	total := float64(len(m.Data))
	if total == 0 {
		return v
	}
	for si := range m.Counts {
		for ci := range m.Counts[si] {
			for li := range m.Counts[si][ci] {
				v[vectorIndex(si, ci, li)] = float64(m.Counts[si][ci][li]) / total
			}
		}
	}
	if normalized, ok := l2Normalize(v); ok {
		return normalized
	}
	return v
}

func l2Normalize(v []float64) ([]float64, bool) {
	sumSquares := 0.0
	for _, x := range v {
		sumSquares += x * x
	}
	if sumSquares == 0 {
		return v, false
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, true
}

// cosineSimilarity is clamped to [0,1] to absorb floating-point drift; all
// vectors here are non-negative so a true negative similarity cannot occur.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01(sim)
}

// PatternMatcher holds the loaded ideal patterns.
type PatternMatcher struct {
	patterns []IdealPattern
}

func NewPatternMatcher(patterns []IdealPattern) *PatternMatcher {
	return &PatternMatcher{patterns: patterns}
}

// Match finds the closest ideal pattern by cosine similarity and reports
// which third of the lesson diverges most via per-stage similarity slices.
func (pm *PatternMatcher) Match(matrix *LessonMatrix) (*PatternMatch, error) {
	if len(pm.patterns) == 0 {
		return nil, fmt.Errorf("no ideal patterns loaded")
	}

	actual := MatrixVector(matrix)

	best := -1
	bestSim := -1.0
	for i, p := range pm.patterns {
		sim := cosineSimilarity(actual, p.vector)
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	bestPattern := pm.patterns[best]

	stageSims := make(map[string]float64, len(Stages))
	for si, stage := range Stages {
		from, to := si*stageBlockSize, (si+1)*stageBlockSize
		stageSims[stage] = cosineSimilarity(actual[from:to], bestPattern.vector[from:to])
	}

	match := &PatternMatch{
		PatternName:       bestPattern.Name,
		Similarity:        bestSim,
		StageSimilarities: stageSims,
		MatchQuality:      matchQuality(bestSim),
	}
	match.Recommendations = buildRecommendations(match)
	return match, nil
}

// matchQuality tiers are inclusive on the lower bound.
func matchQuality(similarity float64) string {
	switch {
	case similarity >= 0.8:
		return "excellent"
	case similarity >= 0.7:
		return "good"
	case similarity >= 0.5:
		return "partial"
	default:
		return "poor"
	}
}

var stageRecommendations = map[string]string{
	StageIntroduction: "The introduction diverges from the matched pattern: consider a clearer objective statement and a short activation of prior knowledge before moving on.",
	StageDevelopment:  "The development stage diverges from the matched pattern: rebalance explanation against questioning and give students more reasoning turns.",
	StageClosing:      "The closing diverges from the matched pattern: reserve time for consolidation, a summary by students, and an outlook on the next lesson.",
}

var patternTips = map[string]string{
	"inquiry_based":      "To move closer to inquiry-based teaching, replace some direct explanations with open questions and let students defend their answers.",
	"direct_instruction": "To strengthen direct instruction, tighten explanation segments and follow each with a quick comprehension check.",
	"dialogic":           "To strengthen dialogic teaching, chain student answers into follow-up questions instead of closing each exchange with evaluation.",
	"balanced":           "To approach the balanced profile, distribute question, feedback and facilitation turns more evenly across all three stages.",
}

// buildRecommendations is rule-based: a generic message for low overall
// similarity, one message per weak stage, and a pattern-specific tip when
// the match is not yet good.
func buildRecommendations(match *PatternMatch) []string {
	var recs []string
	if match.Similarity < 0.5 {
		recs = append(recs, "Overall alignment with every ideal pattern is low; review the lesson strategy as a whole before tuning individual stages.")
	}
	for _, stage := range Stages {
		if match.StageSimilarities[stage] < 0.6 {
			recs = append(recs, stageRecommendations[stage])
		}
	}
	if match.Similarity < 0.7 {
		if tip, ok := patternTips[match.PatternName]; ok {
			recs = append(recs, tip)
		}
	}
	return recs
}

// defaultIdealPatterns is the built-in pattern set used when no YAML
// resource is configured.
func defaultIdealPatterns() ([]IdealPattern, error) {
	patterns := []IdealPattern{
		{
			Name:        "inquiry_based",
			Description: "Question-driven exploration with high cognitive demand in development",
			StageWeights: map[string]float64{
				StageIntroduction: 0.15, StageDevelopment: 0.70, StageClosing: 0.15,
			},
			ContextWeights: map[string]map[string]float64{
				StageIntroduction: {ContextExplanation: 0.30, ContextQuestion: 0.35, ContextFeedback: 0.10, ContextFacilitation: 0.15, ContextManagement: 0.10},
				StageDevelopment:  {ContextExplanation: 0.15, ContextQuestion: 0.40, ContextFeedback: 0.20, ContextFacilitation: 0.20, ContextManagement: 0.05},
				StageClosing:      {ContextExplanation: 0.20, ContextQuestion: 0.30, ContextFeedback: 0.30, ContextFacilitation: 0.15, ContextManagement: 0.05},
			},
			LevelWeights: map[string]float64{LevelL1: 0.20, LevelL2: 0.40, LevelL3: 0.40},
		},
		{
			Name:        "direct_instruction",
			Description: "Explanation-led delivery with frequent comprehension checks",
			StageWeights: map[string]float64{
				StageIntroduction: 0.15, StageDevelopment: 0.70, StageClosing: 0.15,
			},
			ContextWeights: map[string]map[string]float64{
				StageIntroduction: {ContextExplanation: 0.50, ContextQuestion: 0.15, ContextFeedback: 0.05, ContextFacilitation: 0.10, ContextManagement: 0.20},
				StageDevelopment:  {ContextExplanation: 0.50, ContextQuestion: 0.25, ContextFeedback: 0.15, ContextFacilitation: 0.05, ContextManagement: 0.05},
				StageClosing:      {ContextExplanation: 0.40, ContextQuestion: 0.25, ContextFeedback: 0.20, ContextFacilitation: 0.05, ContextManagement: 0.10},
			},
			LevelWeights: map[string]float64{LevelL1: 0.50, LevelL2: 0.35, LevelL3: 0.15},
		},
		{
			Name:        "dialogic",
			Description: "Sustained teacher-student exchanges with heavy feedback",
			StageWeights: map[string]float64{
				StageIntroduction: 0.10, StageDevelopment: 0.75, StageClosing: 0.15,
			},
			ContextWeights: map[string]map[string]float64{
				StageIntroduction: {ContextExplanation: 0.25, ContextQuestion: 0.35, ContextFeedback: 0.15, ContextFacilitation: 0.15, ContextManagement: 0.10},
				StageDevelopment:  {ContextExplanation: 0.10, ContextQuestion: 0.35, ContextFeedback: 0.30, ContextFacilitation: 0.20, ContextManagement: 0.05},
				StageClosing:      {ContextExplanation: 0.15, ContextQuestion: 0.25, ContextFeedback: 0.35, ContextFacilitation: 0.20, ContextManagement: 0.05},
			},
			LevelWeights: map[string]float64{LevelL1: 0.25, LevelL2: 0.45, LevelL3: 0.30},
		},
		{
			Name:        "balanced",
			Description: "Even mix of pedagogical functions across all stages",
			StageWeights: map[string]float64{
				StageIntroduction: 0.15, StageDevelopment: 0.65, StageClosing: 0.20,
			},
			ContextWeights: map[string]map[string]float64{
				StageIntroduction: {ContextExplanation: 0.30, ContextQuestion: 0.25, ContextFeedback: 0.15, ContextFacilitation: 0.15, ContextManagement: 0.15},
				StageDevelopment:  {ContextExplanation: 0.25, ContextQuestion: 0.25, ContextFeedback: 0.20, ContextFacilitation: 0.20, ContextManagement: 0.10},
				StageClosing:      {ContextExplanation: 0.25, ContextQuestion: 0.20, ContextFeedback: 0.25, ContextFacilitation: 0.15, ContextManagement: 0.15},
			},
			LevelWeights: map[string]float64{LevelL1: 0.33, LevelL2: 0.34, LevelL3: 0.33},
		},
	}
	for i := range patterns {
		if err := patterns[i].buildVector(); err != nil {
			return nil, fmt.Errorf("builtin pattern '%s': %w", patterns[i].Name, err)
		}
	}
	return patterns, nil
}
