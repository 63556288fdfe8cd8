package main

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/slack-go/slack"
)

// FormatEvaluationSummary renders one finished evaluation as a Slack
// message. Pure function so the formatting is testable without a client.
func FormatEvaluationSummary(result *EvaluationResult, teamName string) string {
	var b strings.Builder

	title := "Lesson evaluation"
	if result.Lesson != nil && result.Lesson.Subject != "" {
		title = fmt.Sprintf("Lesson evaluation: %s", result.Lesson.Subject)
	}
	fmt.Fprintf(&b, "*%s* (%s)\n", title, teamName)
	fmt.Fprintf(&b, "Utterances: %d | Processing: %dms\n\n", result.UtteranceCnt, result.ProcessingMs)

	c := result.Matrix.Statistics.Complexity
	fmt.Fprintf(&b, "*Educational complexity:* %.2f (diversity %.2f / variety %.2f / progression %.2f)\n",
		c.Overall, c.CognitiveDiversity, c.InstructionalVariety, c.ProgressionQuality)
	fmt.Fprintf(&b, "*Best-fit pattern:* %s (%.0f%% similarity, %s)\n\n",
		result.Pattern.PatternName, result.Pattern.Similarity*100, result.Pattern.MatchQuality)

	best, worst := extremeMetrics(result.Metrics)
	if best.Name != "" {
		fmt.Fprintf(&b, "*Strongest metric:* %s (%.0f/100)\n", best.Name, best.NormalizedScore)
	}
	if worst.Name != "" {
		fmt.Fprintf(&b, "*Weakest metric:* %s (%.0f/100, %s)\n", worst.Name, worst.NormalizedScore, worst.Status)
	}

	if result.CBIL != nil {
		fmt.Fprintf(&b, "*CBIL alignment:* %.2f (narrative total %d/21)\n", result.CBIL.AlignmentScore, result.CBIL.TotalScore)
	}

	if result.Coaching != nil {
		fmt.Fprintf(&b, "\n*Coaching summary:* %s\n", result.Coaching.OverallAssessment)
		if len(result.Coaching.PriorityActions) > 0 {
			b.WriteString("*Priority actions:*\n")
			for _, action := range result.Coaching.PriorityActions {
				fmt.Fprintf(&b, "• %s\n", action)
			}
		}
	}
	return b.String()
}

// extremeMetrics picks the highest- and lowest-scoring metrics, breaking
// ties by name for stable output.
func extremeMetrics(metrics map[string]MetricResult) (best, worst MetricResult) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := metrics[name]
		if best.Name == "" || m.NormalizedScore > best.NormalizedScore {
			best = m
		}
		if worst.Name == "" || m.NormalizedScore < worst.NormalizedScore {
			worst = m
		}
	}
	return best, worst
}

// PostEvaluationSummary delivers a finished evaluation to the configured
// channel. Delivery failures are logged, not fatal: the result is already
// stored.
func PostEvaluationSummary(api *slack.Client, channelID string, result *EvaluationResult, teamName string) {
	msg := FormatEvaluationSummary(result, teamName)
	_, _, err := api.PostMessage(channelID, slack.MsgOptionText(msg, false))
	if err != nil {
		log.Printf("Error posting evaluation summary run=%s: %v", result.RunID, err)
		return
	}
	log.Printf("Posted evaluation summary run=%s to %s", result.RunID, channelID)
}

// FormatDigest renders a periodic roll-up of stored evaluations.
func FormatDigest(rows []EvaluationSummaryRow, teamName string) string {
	if len(rows) == 0 {
		return fmt.Sprintf("*%s weekly teaching digest*\nNo lessons evaluated this period.", teamName)
	}

	patternCounts := make(map[string]int)
	sumComplexity, sumSimilarity := 0.0, 0.0
	for _, row := range rows {
		patternCounts[row.PatternName]++
		sumComplexity += row.Complexity
		sumSimilarity += row.Similarity
	}

	var patterns []string
	for name := range patternCounts {
		patterns = append(patterns, name)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patternCounts[patterns[i]] != patternCounts[patterns[j]] {
			return patternCounts[patterns[i]] > patternCounts[patterns[j]]
		}
		return patterns[i] < patterns[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "*%s weekly teaching digest*\n", teamName)
	fmt.Fprintf(&b, "Lessons evaluated: %d | Mean complexity: %.2f | Mean pattern similarity: %.0f%%\n",
		len(rows), sumComplexity/float64(len(rows)), sumSimilarity/float64(len(rows))*100)
	b.WriteString("Pattern distribution:\n")
	for _, name := range patterns {
		fmt.Fprintf(&b, "• %s: %d\n", name, patternCounts[name])
	}
	return b.String()
}
