package main

import (
	"math"
)

const (
	StatusOptimal          = "optimal"
	StatusGood             = "good"
	StatusNeedsImprovement = "needs_improvement"
)

// Metric categories, five in total.
const (
	CategoryTime        = "time_distribution"
	CategoryContext     = "context_distribution"
	CategoryCognitive   = "cognitive_complexity"
	CategoryInteraction = "interaction_quality"
	CategoryComposite   = "composite"
)

type metricSpec struct {
	Name        string
	Category    string
	Optimal     [2]float64
	Description string
	Compute     func(m *LessonMatrix, lessonMinutes float64) float64
}

// metricSpecs defines all fifteen metrics with their literature-derived
// optimal ranges. The list is fixed: CalculateAllMetrics always returns
// exactly these entries.
var metricSpecs = []metricSpec{
	// Time distribution
	{"intro_time_ratio", CategoryTime, [2]float64{0.10, 0.20}, "Share of utterances in the introduction stage", func(m *LessonMatrix, _ float64) float64 {
		return stageRatio(m, StageIntroduction)
	}},
	{"dev_time_ratio", CategoryTime, [2]float64{0.60, 0.80}, "Share of utterances in the development stage", func(m *LessonMatrix, _ float64) float64 {
		return stageRatio(m, StageDevelopment)
	}},
	{"closing_time_ratio", CategoryTime, [2]float64{0.10, 0.20}, "Share of utterances in the closing stage", func(m *LessonMatrix, _ float64) float64 {
		return stageRatio(m, StageClosing)
	}},
	{"utterance_density", CategoryTime, [2]float64{2.0, 5.0}, "Teacher utterances per minute of lesson time", func(m *LessonMatrix, lessonMinutes float64) float64 {
		return float64(len(m.Data)) / lessonMinutes
	}},

	// Context distribution
	{"question_ratio", CategoryContext, [2]float64{0.20, 0.40}, "Share of utterances tagged as questions", func(m *LessonMatrix, _ float64) float64 {
		return contextRatio(m, ContextQuestion)
	}},
	{"feedback_ratio", CategoryContext, [2]float64{0.15, 0.30}, "Share of utterances tagged as feedback", func(m *LessonMatrix, _ float64) float64 {
		return contextRatio(m, ContextFeedback)
	}},
	{"explanation_ratio", CategoryContext, [2]float64{0.30, 0.50}, "Share of utterances tagged as explanation", func(m *LessonMatrix, _ float64) float64 {
		return contextRatio(m, ContextExplanation)
	}},
	{"context_diversity", CategoryContext, [2]float64{1.00, 1.55}, "Shannon entropy (nats) of the context tag distribution", contextDiversity},

	// Cognitive complexity
	{"avg_cognitive_level", CategoryCognitive, [2]float64{1.8, 2.4}, "Mean cognitive level with L1=1, L2=2, L3=3", avgCognitiveLevel},
	{"higher_order_ratio", CategoryCognitive, [2]float64{0.40, 0.70}, "Share of utterances at L2 or L3", func(m *LessonMatrix, _ float64) float64 {
		if len(m.Data) == 0 {
			return 0
		}
		higher := 0
		for _, p := range m.Data {
			if p.Level != LevelL1 {
				higher++
			}
		}
		return float64(higher) / float64(len(m.Data))
	}},
	{"cognitive_progression", CategoryCognitive, [2]float64{0.50, 1.00}, "Rise of stage-average cognitive level from introduction onward", cognitiveProgression},

	// Interaction quality
	{"extended_dialogue_ratio", CategoryInteraction, [2]float64{0.20, 0.50}, "Share of 3-utterance windows sharing a common context", extendedDialogueRatio},
	{"irf_pattern_ratio", CategoryInteraction, [2]float64{0.15, 0.40}, "Share of question...feedback patterns two utterances apart", irfPatternRatio},
	{"dev_question_depth", CategoryInteraction, [2]float64{0.40, 0.70}, "Share of development-stage questions at L2 or above", devQuestionDepth},

	// Composite
	{"teaching_balance_index", CategoryComposite, [2]float64{0.60, 0.85}, "Weighted blend of cognitive diversity, instructional variety and progression quality", func(m *LessonMatrix, _ float64) float64 {
		return m.Statistics.Complexity.Overall
	}},
}

const assumedLessonMinutes = 45.0

// CalculateAllMetrics computes the fifteen metrics from a built matrix.
// Every metric is normalized to [0,100] against its optimal range.
// lessonMinutes feeds the utterance_density denominator; zero or negative
// falls back to the assumed 45-minute lesson.
func CalculateAllMetrics(matrix *LessonMatrix, lessonMinutes float64) map[string]MetricResult {
	if lessonMinutes <= 0 {
		lessonMinutes = assumedLessonMinutes
	}
	results := make(map[string]MetricResult, len(metricSpecs))
	for _, spec := range metricSpecs {
		raw := spec.Compute(matrix, lessonMinutes)
		score := normalizeScore(raw, spec.Optimal[0], spec.Optimal[1])
		results[spec.Name] = MetricResult{
			Name:            spec.Name,
			Category:        spec.Category,
			RawValue:        raw,
			NormalizedScore: score,
			OptimalRange:    spec.Optimal,
			Status:          metricStatus(score),
			Description:     spec.Description,
		}
	}
	return results
}

// normalizeScore maps a raw value onto [0,100]: inside the optimal range it
// ramps linearly from 80 at the edges to 100 at the midpoint; outside, it
// falls off at 40 points per unit of distance, floored at 0.
func normalizeScore(value, low, high float64) float64 {
	if value >= low && value <= high {
		half := (high - low) / 2
		if half == 0 {
			return 100
		}
		mid := (low + high) / 2
		return 100 - 20*math.Abs(value-mid)/half
	}
	if value < low {
		return math.Max(0, 80-40*(low-value))
	}
	return math.Max(0, 80-40*(value-high))
}

func metricStatus(score float64) string {
	switch {
	case score >= 80:
		return StatusOptimal
	case score >= 60:
		return StatusGood
	default:
		return StatusNeedsImprovement
	}
}

func stageRatio(m *LessonMatrix, stage string) float64 {
	if len(m.Data) == 0 {
		return 0
	}
	count := 0
	for _, p := range m.Data {
		if p.Stage == stage {
			count++
		}
	}
	return float64(count) / float64(len(m.Data))
}

func contextRatio(m *LessonMatrix, context string) float64 {
	if len(m.Data) == 0 {
		return 0
	}
	count := 0
	for _, p := range m.Data {
		if hasContext(p, context) {
			count++
		}
	}
	return float64(count) / float64(len(m.Data))
}

func hasContext(p MatrixPoint, context string) bool {
	for _, c := range p.Contexts {
		if c == context {
			return true
		}
	}
	return false
}

// contextDiversity is the raw Shannon entropy of context tag counts, in
// nats and deliberately unnormalized; the matrix builder's variety index
// is the normalized cousin.
func contextDiversity(m *LessonMatrix, _ float64) float64 {
	counts := make(map[string]int)
	total := 0
	for _, p := range m.Data {
		for _, c := range p.Contexts {
			counts[c]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, count := range counts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log(p)
	}
	return entropy
}

func avgCognitiveLevel(m *LessonMatrix, _ float64) float64 {
	if len(m.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range m.Data {
		sum += levelValue(p.Level)
	}
	return sum / float64(len(m.Data))
}

// cognitiveProgression measures whether cognitive demand rises after the
// introduction: (dev_avg - intro_avg) + (closing_avg - intro_avg),
// recentered so a flat lesson scores 0.5, clipped to [0,1].
func cognitiveProgression(m *LessonMatrix, _ float64) float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, p := range m.Data {
		sums[p.Stage] += levelValue(p.Level)
		counts[p.Stage]++
	}
	avg := func(stage string) float64 {
		if counts[stage] == 0 {
			return 0
		}
		return sums[stage] / float64(counts[stage])
	}
	introAvg := avg(StageIntroduction)
	delta := (avg(StageDevelopment) - introAvg) + (avg(StageClosing) - introAvg)
	return clamp01(0.5 + delta/4)
}

// extendedDialogueRatio scans length-3 windows whose utterances share at
// least one context tag. The scan is greedy and non-overlapping: it jumps
// past a matched window but advances by one otherwise. The denominator is
// N-2 regardless.
func extendedDialogueRatio(m *LessonMatrix, _ float64) float64 {
	n := len(m.Data)
	if n < 3 {
		return 0
	}
	matches := 0
	for i := 0; i <= n-3; {
		if windowSharesContext(m.Data[i], m.Data[i+1], m.Data[i+2]) {
			matches++
			i += 3
		} else {
			i++
		}
	}
	return float64(matches) / float64(n-2)
}

func windowSharesContext(a, b, c MatrixPoint) bool {
	for _, tag := range a.Contexts {
		if hasContext(b, tag) && hasContext(c, tag) {
			return true
		}
	}
	return false
}

// irfPatternRatio counts initiate-respond-feedback shapes: a question at
// position i answered by feedback at i+2, with the student turn assumed in
// between. Same asymmetric scan as extendedDialogueRatio.
func irfPatternRatio(m *LessonMatrix, _ float64) float64 {
	n := len(m.Data)
	if n < 3 {
		return 0
	}
	matches := 0
	for i := 0; i <= n-3; {
		if hasContext(m.Data[i], ContextQuestion) && hasContext(m.Data[i+2], ContextFeedback) {
			matches++
			i += 3
		} else {
			i++
		}
	}
	return float64(matches) / float64(n-2)
}

// devQuestionDepth is the share of development-stage questions pitched at
// L2 or above. With no development-stage questions the metric defaults to
// the neutral 0.5.
func devQuestionDepth(m *LessonMatrix, _ float64) float64 {
	questions, deep := 0, 0
	for _, p := range m.Data {
		if p.Stage != StageDevelopment || !hasContext(p, ContextQuestion) {
			continue
		}
		questions++
		if p.Level != LevelL1 {
			deep++
		}
	}
	if questions == 0 {
		return 0.5
	}
	return float64(deep) / float64(questions)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
