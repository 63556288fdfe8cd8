package main

import (
	"context"
	"math"
	"strings"
	"testing"
)

func buildMatrixFromPoints(points []MatrixPoint) *LessonMatrix {
	m := &LessonMatrix{
		Dimensions: MatrixDimensions{Stages: Stages, Contexts: Contexts, Levels: Levels},
		Data:       points,
	}
	m.fillCounts()
	m.fillHeatmaps()
	m.fillTopCombinations()
	m.Statistics = MatrixStatistics{
		TotalUtterances: len(points),
		TotalTags:       m.totalTags(),
		Complexity:      computeComplexity(points),
	}
	return m
}

func TestFillCounts_ContextMultiplicity(t *testing.T) {
	points := []MatrixPoint{
		{UtteranceID: 1, Stage: StageIntroduction, Contexts: []string{ContextExplanation}, Level: LevelL1},
		{UtteranceID: 2, Stage: StageDevelopment, Contexts: []string{ContextQuestion, ContextFeedback}, Level: LevelL2},
		{UtteranceID: 3, Stage: StageClosing, Contexts: []string{ContextFeedback}, Level: LevelL3},
	}
	m := buildMatrixFromPoints(points)

	// Total cell count equals the sum of context tags per utterance: 1+2+1.
	if m.totalTags() != 4 {
		t.Fatalf("expected 4 total tags, got %d", m.totalTags())
	}

	// The multi-context utterance increments two cells in its stage/level slice.
	si, li := stageIndex(StageDevelopment), levelIndex(LevelL2)
	if m.Counts[si][contextIndex(ContextQuestion)][li] != 1 {
		t.Fatal("expected question cell incremented for utterance 2")
	}
	if m.Counts[si][contextIndex(ContextFeedback)][li] != 1 {
		t.Fatal("expected feedback cell incremented for utterance 2")
	}

	// Collapsing context multiplicity recovers the utterance count: each
	// utterance touches exactly one (stage, level) pair.
	perUtterance := 0
	for _, p := range points {
		seen := false
		for ci := range Contexts {
			if m.Counts[stageIndex(p.Stage)][ci][levelIndex(p.Level)] > 0 {
				seen = true
			}
		}
		if seen {
			perUtterance++
		}
	}
	if perUtterance != len(points) {
		t.Fatalf("expected every utterance to land in its stage/level slice, got %d of %d", perUtterance, len(points))
	}
}

func TestFillHeatmaps(t *testing.T) {
	points := []MatrixPoint{
		{UtteranceID: 1, Stage: StageIntroduction, Contexts: []string{ContextExplanation}, Level: LevelL1},
		{UtteranceID: 2, Stage: StageDevelopment, Contexts: []string{ContextQuestion}, Level: LevelL1},
		{UtteranceID: 3, Stage: StageDevelopment, Contexts: []string{ContextQuestion}, Level: LevelL3},
	}
	m := buildMatrixFromPoints(points)

	if len(m.Heatmaps) != 3 {
		t.Fatalf("expected one heatmap slice per level, got %d", len(m.Heatmaps))
	}
	if m.Heatmaps[0].Level != LevelL1 || m.Heatmaps[0].Total != 2 {
		t.Fatalf("expected L1 slice total 2, got %s total %d", m.Heatmaps[0].Level, m.Heatmaps[0].Total)
	}
	if m.Heatmaps[2].Total != 1 {
		t.Fatalf("expected L3 slice total 1, got %d", m.Heatmaps[2].Total)
	}
	if m.Heatmaps[1].Total != 0 {
		t.Fatalf("expected empty L2 slice, got %d", m.Heatmaps[1].Total)
	}
}

func TestTopCombinations(t *testing.T) {
	var points []MatrixPoint
	for i := 0; i < 6; i++ {
		points = append(points, MatrixPoint{UtteranceID: i + 1, Stage: StageDevelopment, Contexts: []string{ContextQuestion}, Level: LevelL2})
	}
	points = append(points, MatrixPoint{UtteranceID: 7, Stage: StageIntroduction, Contexts: []string{ContextExplanation}, Level: LevelL1})
	m := buildMatrixFromPoints(points)

	if len(m.TopCombinations) == 0 {
		t.Fatal("expected non-empty top combinations")
	}
	top := m.TopCombinations[0]
	if top.Stage != StageDevelopment || top.Context != ContextQuestion || top.Level != LevelL2 || top.Count != 6 {
		t.Fatalf("unexpected top combination: %+v", top)
	}

	sum := 0.0
	for _, combo := range m.TopCombinations {
		sum += combo.Pct
	}
	if sum > 100.0+1e-9 {
		t.Fatalf("single-context combination percentages must sum to <=100, got %v", sum)
	}
}

func TestTransitionScores(t *testing.T) {
	cases := []struct {
		from, to string
		want     float64
	}{
		{StageIntroduction, StageIntroduction, 1.0},
		{StageIntroduction, StageDevelopment, 1.0},
		{StageDevelopment, StageDevelopment, 1.0},
		{StageDevelopment, StageClosing, 1.0},
		{StageClosing, StageClosing, 1.0},
		{StageDevelopment, StageIntroduction, 0.5},
		{StageClosing, StageIntroduction, 0.2},
		{StageClosing, StageDevelopment, 0.3},
		{StageIntroduction, StageClosing, defaultTransitionScore},
	}
	for _, tc := range cases {
		if got := transitionScore(tc.from, tc.to); got != tc.want {
			t.Fatalf("transitionScore(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestComputeComplexity_PerfectProgression(t *testing.T) {
	points := []MatrixPoint{
		{UtteranceID: 1, Stage: StageIntroduction, Contexts: []string{ContextExplanation}, Level: LevelL1},
		{UtteranceID: 2, Stage: StageDevelopment, Contexts: []string{ContextQuestion}, Level: LevelL2},
		{UtteranceID: 3, Stage: StageClosing, Contexts: []string{ContextFeedback}, Level: LevelL3},
	}
	idx := computeComplexity(points)

	if idx.ProgressionQuality != 1.0 {
		t.Fatalf("intro->dev->closing must score exactly 1.0, got %v", idx.ProgressionQuality)
	}

	// Diversity: (1.5*1 + 2*1)/3 = 1.1667, capped at 1.0.
	if idx.CognitiveDiversity != 1.0 {
		t.Fatalf("expected capped cognitive diversity 1.0, got %v", idx.CognitiveDiversity)
	}

	// Variety: 3 equiprobable contexts of 5 -> ln(3)/ln(5).
	wantVariety := math.Log(3) / math.Log(5)
	if math.Abs(idx.InstructionalVariety-wantVariety) > 1e-9 {
		t.Fatalf("expected variety %v, got %v", wantVariety, idx.InstructionalVariety)
	}

	wantOverall := 0.4*1.0 + 0.3*wantVariety + 0.3*1.0
	if math.Abs(idx.Overall-wantOverall) > 1e-9 {
		t.Fatalf("expected overall %v, got %v", wantOverall, idx.Overall)
	}
}

func TestComputeComplexity_Regression(t *testing.T) {
	points := []MatrixPoint{
		{UtteranceID: 1, Stage: StageClosing, Contexts: []string{ContextExplanation}, Level: LevelL1},
		{UtteranceID: 2, Stage: StageIntroduction, Contexts: []string{ContextExplanation}, Level: LevelL1},
	}
	idx := computeComplexity(points)
	if idx.ProgressionQuality != 0.2 {
		t.Fatalf("closing->introduction must score 0.2, got %v", idx.ProgressionQuality)
	}
	if idx.CognitiveDiversity != 0 {
		t.Fatalf("all-L1 lesson has zero cognitive diversity, got %v", idx.CognitiveDiversity)
	}
}

func TestMatrixBuilder_Build(t *testing.T) {
	// Scripted dimensions per utterance text.
	respond := func(_ int, systemPrompt, userPrompt string) (string, error) {
		target := extractTarget(userPrompt)
		yes := map[string]bool{}
		switch {
		case strings.Contains(target, "오늘은"):
			yes = map[string]bool{"intro": true, "expl": true, "l1": true}
		case strings.Contains(target, "왜"):
			yes = map[string]bool{"dev": true, "ques": true, "l3": true}
		default:
			yes = map[string]bool{"dev": true, "feed": true, "faci": true, "l2": true}
		}
		return answerChecklist(systemPrompt, yes), nil
	}
	backends, _ := newFakeBackendSet(respond)
	cache := newConsistencyCache(1000)
	builder := NewMatrixBuilder(
		NewStageClassifier(backends, cache, 3),
		NewContextClassifier(backends, cache, 3),
		NewLevelClassifier(backends, cache, 3),
	)

	utterances := []Utterance{
		{ID: 1, Text: "선생님: 오늘은 원의 넓이를 배워봅시다"},
		{ID: 2, Text: "학생: 원의 넓이는 왜 반지름의 제곱에 비례하나요?"},
		{ID: 3, Text: "선생님: 좋은 질문이에요, 함께 증명해봅시다"},
	}
	matrix, err := builder.Build(context.Background(), utterances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(matrix.Data) != 3 {
		t.Fatalf("expected 3 matrix points, got %d", len(matrix.Data))
	}
	if matrix.Data[0].Stage != StageIntroduction {
		t.Fatalf("expected first utterance classified as introduction, got %s", matrix.Data[0].Stage)
	}
	if !hasContext(matrix.Data[1], ContextQuestion) {
		t.Fatalf("expected second utterance to carry the question context, got %v", matrix.Data[1].Contexts)
	}
	if matrix.Data[1].Level != LevelL3 {
		t.Fatalf("expected second utterance at L3, got %s", matrix.Data[1].Level)
	}

	if len(matrix.TopCombinations) == 0 {
		t.Fatal("expected non-empty top combinations")
	}
	// Utterance 3 carries two contexts, the others one each.
	if matrix.Statistics.TotalTags != 4 {
		t.Fatalf("expected 4 context tags, got %d", matrix.Statistics.TotalTags)
	}
	if matrix.Statistics.TotalUtterances != 3 {
		t.Fatalf("expected 3 utterances, got %d", matrix.Statistics.TotalUtterances)
	}
	if matrix.Statistics.Complexity.ProgressionQuality != 1.0 {
		t.Fatalf("intro->dev->dev has no regressions, expected 1.0, got %v", matrix.Statistics.Complexity.ProgressionQuality)
	}
}
