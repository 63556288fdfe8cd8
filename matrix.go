package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

// MatrixDimensions names the axes of the frequency cube.
type MatrixDimensions struct {
	Stages   []string `json:"stages"`
	Contexts []string `json:"contexts"`
	Levels   []string `json:"levels"`
}

// HeatmapSlice is the stage-by-context plane of the cube for one level,
// emitted for downstream visualization only.
type HeatmapSlice struct {
	Level string    `json:"level"`
	Cells [3][5]int `json:"cells"`
	Total int       `json:"total"`
}

type CellCombination struct {
	Stage   string  `json:"stage"`
	Context string  `json:"context"`
	Level   string  `json:"level"`
	Count   int     `json:"count"`
	Pct     float64 `json:"pct"`
}

// ComplexityIndices are the three composite indices plus their weighted
// blend, each in [0,1].
type ComplexityIndices struct {
	CognitiveDiversity   float64 `json:"cognitive_diversity"`
	InstructionalVariety float64 `json:"instructional_variety"`
	ProgressionQuality   float64 `json:"progression_quality"`
	Overall              float64 `json:"overall"`
}

type MatrixStatistics struct {
	TotalUtterances int               `json:"total_utterances"`
	TotalTags       int               `json:"total_tags"`
	Complexity      ComplexityIndices `json:"complexity"`
	StageStats      *BatchStats       `json:"stage_stats,omitempty"`
	ContextStats    *BatchStats       `json:"context_stats,omitempty"`
	LevelStats      *BatchStats       `json:"level_stats,omitempty"`
}

// LessonMatrix is the deterministic 3D aggregation of one lesson's
// classifications: a 3x5x3 frequency cube plus derived views.
type LessonMatrix struct {
	Dimensions      MatrixDimensions  `json:"dimensions"`
	Data            []MatrixPoint     `json:"data"`
	Counts          [3][5][3]int      `json:"counts"`
	Heatmaps        []HeatmapSlice    `json:"heatmap_data"`
	TopCombinations []CellCombination `json:"top_combinations"`
	Statistics      MatrixStatistics  `json:"statistics"`
}

// MatrixBuilder runs the three dimension classifiers over an utterance list
// and folds their streams into one LessonMatrix.
type MatrixBuilder struct {
	stage   *DimensionClassifier
	context *DimensionClassifier
	level   *DimensionClassifier
}

func NewMatrixBuilder(stage, context, level *DimensionClassifier) *MatrixBuilder {
	return &MatrixBuilder{stage: stage, context: context, level: level}
}

// Build classifies all utterances (stage, then context, then level, each
// dimension fanning out internally) and assembles the cube. Utterance order
// is preserved: Data[i] corresponds to utterances[i].
func (b *MatrixBuilder) Build(ctx context.Context, utterances []Utterance) (*LessonMatrix, error) {
	if len(utterances) == 0 {
		return nil, fmt.Errorf("no utterances to build matrix from")
	}

	start := time.Now()
	stageResults, stageStats, err := b.stage.ClassifyBatch(ctx, utterances)
	if err != nil {
		return nil, err
	}
	contextResults, contextStats, err := b.context.ClassifyBatch(ctx, utterances)
	if err != nil {
		return nil, err
	}
	levelResults, levelStats, err := b.level.ClassifyBatch(ctx, utterances)
	if err != nil {
		return nil, err
	}
	log.Printf("matrix classify utterances=%d elapsed=%s", len(utterances), time.Since(start).Round(time.Millisecond))

	points := make([]MatrixPoint, len(utterances))
	for i, utt := range utterances {
		points[i] = MatrixPoint{
			UtteranceID: utt.ID,
			Stage:       stageResults[i].Value(),
			Contexts:    contextResults[i].Values,
			Level:       levelResults[i].Value(),
		}
	}

	matrix := &LessonMatrix{
		Dimensions: MatrixDimensions{Stages: Stages, Contexts: Contexts, Levels: Levels},
		Data:       points,
	}
	matrix.fillCounts()
	matrix.fillHeatmaps()
	matrix.fillTopCombinations()
	matrix.Statistics = MatrixStatistics{
		TotalUtterances: len(points),
		TotalTags:       matrix.totalTags(),
		Complexity:      computeComplexity(points),
		StageStats:      stageStats,
		ContextStats:    contextStats,
		LevelStats:      levelStats,
	}
	return matrix, nil
}

// fillCounts increments (stage, context, level) once per tagged context, so
// one utterance touches one stage slice, one level slice, and >=1 context
// cells.
func (m *LessonMatrix) fillCounts() {
	for _, p := range m.Data {
		si, li := stageIndex(p.Stage), levelIndex(p.Level)
		if si < 0 || li < 0 {
			continue
		}
		for _, c := range p.Contexts {
			if ci := contextIndex(c); ci >= 0 {
				m.Counts[si][ci][li]++
			}
		}
	}
}

func (m *LessonMatrix) totalTags() int {
	total := 0
	for si := range m.Counts {
		for ci := range m.Counts[si] {
			for li := range m.Counts[si][ci] {
				total += m.Counts[si][ci][li]
			}
		}
	}
	return total
}

func (m *LessonMatrix) fillHeatmaps() {
	m.Heatmaps = make([]HeatmapSlice, len(Levels))
	for li, level := range Levels {
		slice := HeatmapSlice{Level: level}
		for si := range m.Counts {
			for ci := range m.Counts[si] {
				slice.Cells[si][ci] = m.Counts[si][ci][li]
				slice.Total += m.Counts[si][ci][li]
			}
		}
		m.Heatmaps[li] = slice
	}
}

// fillTopCombinations ranks all 45 cells by count and keeps the top 10,
// with percentages relative to the utterance count.
func (m *LessonMatrix) fillTopCombinations() {
	total := len(m.Data)
	if total == 0 {
		return
	}
	var combos []CellCombination
	for si, stage := range Stages {
		for ci, context := range Contexts {
			for li, level := range Levels {
				count := m.Counts[si][ci][li]
				if count == 0 {
					continue
				}
				combos = append(combos, CellCombination{
					Stage:   stage,
					Context: context,
					Level:   level,
					Count:   count,
					Pct:     math.Round(float64(count)/float64(total)*1000) / 10,
				})
			}
		}
	}
	sort.Slice(combos, func(i, j int) bool {
		if combos[i].Count != combos[j].Count {
			return combos[i].Count > combos[j].Count
		}
		if combos[i].Stage != combos[j].Stage {
			return stageIndex(combos[i].Stage) < stageIndex(combos[j].Stage)
		}
		if combos[i].Context != combos[j].Context {
			return contextIndex(combos[i].Context) < contextIndex(combos[j].Context)
		}
		return levelIndex(combos[i].Level) < levelIndex(combos[j].Level)
	})
	if len(combos) > 10 {
		combos = combos[:10]
	}
	m.TopCombinations = combos
}

// transitionScores is the desirability of each stage-to-stage move between
// consecutive utterances. Forward moves and staying put are natural (1.0);
// development back to introduction is plausible review (0.5); falling out
// of closing is anomalous (0.2-0.3). Unlisted moves score 0.7.
var transitionScores = map[[2]string]float64{
	{StageIntroduction, StageIntroduction}: 1.0,
	{StageIntroduction, StageDevelopment}:  1.0,
	{StageDevelopment, StageDevelopment}:   1.0,
	{StageDevelopment, StageClosing}:       1.0,
	{StageClosing, StageClosing}:           1.0,
	{StageDevelopment, StageIntroduction}:  0.5,
	{StageClosing, StageIntroduction}:      0.2,
	{StageClosing, StageDevelopment}:       0.3,
}

const defaultTransitionScore = 0.7

func transitionScore(from, to string) float64 {
	if score, ok := transitionScores[[2]string{from, to}]; ok {
		return score
	}
	return defaultTransitionScore
}

func computeComplexity(points []MatrixPoint) ComplexityIndices {
	var idx ComplexityIndices
	total := len(points)
	if total == 0 {
		return idx
	}

	// Cognitive diversity rewards higher levels beyond raw frequency.
	l2, l3 := 0, 0
	for _, p := range points {
		switch p.Level {
		case LevelL2:
			l2++
		case LevelL3:
			l3++
		}
	}
	idx.CognitiveDiversity = math.Min(1.0, (1.5*float64(l2)+2.0*float64(l3))/float64(total))

	// Instructional variety: Shannon entropy of the context distribution,
	// normalized by the 5-category maximum.
	contextCounts := make(map[string]int)
	totalContexts := 0
	for _, p := range points {
		for _, c := range p.Contexts {
			contextCounts[c]++
			totalContexts++
		}
	}
	if totalContexts > 0 {
		entropy := 0.0
		for _, count := range contextCounts {
			p := float64(count) / float64(totalContexts)
			entropy -= p * math.Log(p)
		}
		idx.InstructionalVariety = entropy / math.Log(float64(len(Contexts)))
	}

	// Progression quality: mean transition desirability over consecutive
	// pairs. A single utterance has no transitions and scores 1.0.
	if total < 2 {
		idx.ProgressionQuality = 1.0
	} else {
		sum := 0.0
		for i := 1; i < total; i++ {
			sum += transitionScore(points[i-1].Stage, points[i].Stage)
		}
		idx.ProgressionQuality = sum / float64(total-1)
	}

	idx.Overall = 0.4*idx.CognitiveDiversity + 0.3*idx.InstructionalVariety + 0.3*idx.ProgressionQuality
	return idx
}
