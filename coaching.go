package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
)

const coachingSystemPrompt = `You are an experienced instructional coach reviewing one classroom lesson.
You receive quantitative findings from an automated analysis of the teacher's utterances.
Write an encouraging but concrete coaching narrative grounded ONLY in the numbers provided.

Respond with JSON only (no markdown):
{
  "overall_assessment": "2-4 sentences summarizing the lesson's teaching quality",
  "strengths": ["..."],
  "areas_for_growth": ["..."],
  "priority_actions": ["..."]
}
Each list needs 2-4 entries. Every entry must reference something from the findings.`

// GenerateCoaching serializes all upstream numeric outputs into one prompt
// and requests a structured narrative, retrying the full model call on
// parse or schema failure up to maxAttempts times.
func GenerateCoaching(ctx context.Context, backends *BackendSet, result *EvaluationResult, maxAttempts int) (*CoachingNarrative, error) {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	userPrompt := buildCoachingPrompt(result)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, _, err := backends.Generate(ctx, coachingSystemPrompt, userPrompt)
		if err != nil {
			lastErr = err
			log.Printf("coaching generate attempt=%d error: %v", attempt, err)
			continue
		}
		narrative, err := parseCoachingResponse(text)
		if err != nil {
			lastErr = err
			log.Printf("coaching parse attempt=%d error: %v", attempt, err)
			continue
		}
		return narrative, nil
	}
	return nil, fmt.Errorf("coaching narrative failed after %d attempts: %w", maxAttempts, lastErr)
}

func parseCoachingResponse(text string) (*CoachingNarrative, error) {
	cleaned := stripCodeFence(text)

	var narrative CoachingNarrative
	if err := json.Unmarshal([]byte(cleaned), &narrative); err != nil {
		return nil, fmt.Errorf("parsing coaching response: %w (truncated response: %s)", err, truncateForLog(cleaned, 512))
	}
	if err := validateNarrative(&narrative); err != nil {
		return nil, err
	}
	return &narrative, nil
}

// validateNarrative enforces the fixed schema: all four fields present and
// non-empty.
func validateNarrative(n *CoachingNarrative) error {
	if strings.TrimSpace(n.OverallAssessment) == "" {
		return fmt.Errorf("coaching narrative missing overall_assessment")
	}
	for name, list := range map[string][]string{
		"strengths":        n.Strengths,
		"areas_for_growth": n.AreasForGrowth,
		"priority_actions": n.PriorityActions,
	} {
		if len(list) == 0 {
			return fmt.Errorf("coaching narrative missing %s", name)
		}
		for _, entry := range list {
			if strings.TrimSpace(entry) == "" {
				return fmt.Errorf("coaching narrative has empty entry in %s", name)
			}
		}
	}
	return nil
}

// buildCoachingPrompt flattens the numeric pipeline outputs into a readable
// findings block for the model.
func buildCoachingPrompt(result *EvaluationResult) string {
	var b strings.Builder

	if result.Lesson != nil {
		fmt.Fprintf(&b, "Lesson: subject=%s grade=%s duration=%dmin\n",
			result.Lesson.Subject, result.Lesson.GradeLevel, result.Lesson.DurationMinutes)
	}
	fmt.Fprintf(&b, "Utterances analyzed: %d\n\n", result.UtteranceCnt)

	c := result.Matrix.Statistics.Complexity
	fmt.Fprintf(&b, "Educational complexity: overall=%.2f (cognitive diversity=%.2f, instructional variety=%.2f, progression quality=%.2f)\n\n",
		c.Overall, c.CognitiveDiversity, c.InstructionalVariety, c.ProgressionQuality)

	b.WriteString("Metrics (score/100, status, raw value, optimal range):\n")
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := result.Metrics[name]
		fmt.Fprintf(&b, "- %s: %.0f %s raw=%.3f optimal=[%.2f, %.2f]\n",
			m.Name, m.NormalizedScore, m.Status, m.RawValue, m.OptimalRange[0], m.OptimalRange[1])
	}

	fmt.Fprintf(&b, "\nBest-fit teaching pattern: %s (similarity=%.2f, quality=%s)\n",
		result.Pattern.PatternName, result.Pattern.Similarity, result.Pattern.MatchQuality)
	for _, stage := range Stages {
		fmt.Fprintf(&b, "- %s stage similarity: %.2f\n", stage, result.Pattern.StageSimilarities[stage])
	}
	for _, rec := range result.Pattern.Recommendations {
		fmt.Fprintf(&b, "- note: %s\n", rec)
	}

	if result.CBIL != nil {
		fmt.Fprintf(&b, "\nCBIL narrative scoring: total=%d/21 (%.1f%%), alignment with matrix analysis=%.2f\n",
			result.CBIL.TotalScore, result.CBIL.OverallPercentage, result.CBIL.AlignmentScore)
		for _, stage := range cbilStages {
			if score, ok := result.CBIL.StageScores[stage]; ok {
				fmt.Fprintf(&b, "- %s: %d/3\n", stage, score)
			}
		}
	}

	b.WriteString("\nTop stage/context/level combinations:\n")
	for _, combo := range result.Matrix.TopCombinations {
		fmt.Fprintf(&b, "- %s / %s / %s: %d (%.1f%%)\n", combo.Stage, combo.Context, combo.Level, combo.Count, combo.Pct)
	}
	return b.String()
}
