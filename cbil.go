package main

import (
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The seven CBIL framework stages, in canonical order.
var cbilStages = []string{"Engage", "Focus", "Investigate", "Organize", "Generalize", "Transfer", "Reflect"}

// cbilStageMapping folds the seven CBIL stages onto the matrix's three
// lesson stages. Fixed table, many-to-one.
var cbilStageMapping = map[string]string{
	"Engage":      StageIntroduction,
	"Focus":       StageIntroduction,
	"Investigate": StageDevelopment,
	"Organize":    StageDevelopment,
	"Generalize":  StageDevelopment,
	"Transfer":    StageClosing,
	"Reflect":     StageClosing,
}

// cbilPatternWeights weights the seven stage scores differently per matched
// ideal pattern when blending the alignment score. Unknown patterns fall
// back to equal weights.
var cbilPatternWeights = map[string][7]float64{
	"inquiry_based":      {0.10, 0.10, 0.25, 0.15, 0.15, 0.10, 0.15},
	"direct_instruction": {0.15, 0.20, 0.15, 0.20, 0.15, 0.10, 0.05},
	"dialogic":           {0.15, 0.10, 0.20, 0.10, 0.15, 0.10, 0.20},
	"balanced":           {0.14, 0.14, 0.15, 0.15, 0.14, 0.14, 0.14},
}

// cbilStageAdvice is the fixed coaching paragraph attached for each stage
// scoring below 2 of 3. Template-based, never regenerated by a model.
var cbilStageAdvice = map[string]string{
	"Engage":      "Engage scored low: open with a hook tied to students' experience so the topic matters to them before content starts.",
	"Focus":       "Focus scored low: make the guiding question of the lesson explicit and keep it visible while activities unfold.",
	"Investigate": "Investigate scored low: hand more of the exploration to students; let them gather evidence before you interpret it for them.",
	"Organize":    "Organize scored low: build a shared record of findings (board work, student summaries) instead of moving straight to conclusions.",
	"Generalize":  "Generalize scored low: push from the worked example to the underlying rule, and have students state the rule in their own words.",
	"Transfer":    "Transfer scored low: close with an application of the new idea in an unfamiliar setting so learning does not stay example-bound.",
	"Reflect":     "Reflect scored low: reserve the final minutes for students to articulate what changed in their understanding.",
}

// cbilScorePattern matches a stage header followed by a score out of 3 on
// the same line, e.g. "Investigate: the teacher ... Score: 2/3" or
// "Engage (1/3)". The gap may contain digits ("used 3 examples"); only a
// number directly followed by "/3" is taken as the score.
var cbilScorePattern = regexp.MustCompile(`(?i)\b(Engage|Focus|Investigate|Organize|Generalize|Transfer|Reflect)\b[^\n]*?(\d+(?:\.\d+)?)\s*/\s*3`)

// ParseCBILNarrative extracts per-stage scores from an independently
// produced 7-stage narrative block. Unknown or missing stage sections are
// skipped with a logged warning; the parse succeeds with partial data.
func ParseCBILNarrative(text string) (map[string]int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty CBIL narrative")
	}

	scores := make(map[string]int)
	for _, match := range cbilScorePattern.FindAllStringSubmatch(text, -1) {
		stage := canonicalCBILStage(match[1])
		if stage == "" {
			log.Printf("cbil parse skipped unknown stage header '%s'", match[1])
			continue
		}
		if _, seen := scores[stage]; seen {
			// First score in document order wins.
			continue
		}
		value, err := strconv.ParseFloat(match[2], 64)
		if err != nil || value < 0 || value > 3 {
			log.Printf("cbil parse skipped stage %s: score '%s' out of range", stage, match[2])
			continue
		}
		scores[stage] = int(math.Round(value))
	}

	for _, stage := range cbilStages {
		if _, ok := scores[stage]; !ok {
			log.Printf("cbil parse: no score found for stage %s, skipping", stage)
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no CBIL stage scores found in narrative")
	}
	return scores, nil
}

func canonicalCBILStage(name string) string {
	for _, stage := range cbilStages {
		if strings.EqualFold(stage, name) {
			return stage
		}
	}
	return ""
}

// AlignCBIL blends the narrative scoring with the matrix-derived pattern
// match: 0.6 x pattern similarity + 0.4 x the weighted mean of the present
// stage scores scaled to [0,1]. Weights depend on the matched pattern.
func AlignCBIL(stageScores map[string]int, match *PatternMatch) *CBILAlignment {
	weights, ok := cbilPatternWeights[match.PatternName]
	if !ok {
		for i := range weights {
			weights[i] = 1.0 / float64(len(cbilStages))
		}
	}

	total := 0
	weightedSum, weightTotal := 0.0, 0.0
	for i, stage := range cbilStages {
		score, present := stageScores[stage]
		if !present {
			continue
		}
		total += score
		weightedSum += weights[i] * float64(score) / 3.0
		weightTotal += weights[i]
	}

	narrativeScore := 0.0
	if weightTotal > 0 {
		narrativeScore = weightedSum / weightTotal
	}

	alignment := &CBILAlignment{
		StageScores:       stageScores,
		TotalScore:        total,
		OverallPercentage: math.Round(float64(total)/float64(3*len(cbilStages))*1000) / 10,
		AlignmentScore:    clamp01(0.6*match.Similarity + 0.4*narrativeScore),
	}

	for _, stage := range cbilStages {
		if score, present := stageScores[stage]; present && score < 2 {
			alignment.Recommendations = append(alignment.Recommendations, cbilStageAdvice[stage])
		}
	}
	return alignment
}

// MappedStageScores folds CBIL stage scores onto the three matrix stages,
// averaging the contributing CBIL stages. Used by the coaching prompt.
func MappedStageScores(stageScores map[string]int) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for stage, score := range stageScores {
		mapped := cbilStageMapping[stage]
		sums[mapped] += float64(score)
		counts[mapped]++
	}
	out := make(map[string]float64, len(sums))
	for stage, sum := range sums {
		out[stage] = sum / float64(counts[stage])
	}
	return out
}
