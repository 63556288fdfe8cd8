package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
)

// voteRun is the outcome of a single checklist call. Malformed runs keep
// the raw text so callers can log it; their answers default to all-No.
type voteRun struct {
	Answers   map[string]string
	Malformed bool
	Raw       string
	Err       error
}

type ChecklistStats struct {
	TotalQuestions int     `json:"total_questions"`
	Unanimous      int     `json:"unanimous"`
	MajorityAgree  int     `json:"majority_agree"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// ChecklistOutcome is a majority-vote consensus over N identical runs of a
// yes/no checklist prompt.
type ChecklistOutcome struct {
	Results    map[string]string   `json:"results"`
	Confidence map[string]float64  `json:"confidence"`
	RawRuns    []map[string]string `json:"raw_runs"`
	Stats      ChecklistStats      `json:"stats"`
}

// RunChecklist executes the same prompt numRuns times in parallel and
// tallies per-question majority votes. A run that errors or fails to parse
// counts as all-No rather than aborting the vote; only the case where every
// run failed at the transport level surfaces as an error.
func RunChecklist(ctx context.Context, backend *BackendSet, systemPrompt, userPrompt string, questionIDs []string, numRuns int) (*ChecklistOutcome, error) {
	if numRuns < 1 {
		numRuns = 3
	}

	runs := make([]voteRun, numRuns)
	var wg sync.WaitGroup
	for i := 0; i < numRuns; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			text, _, err := backend.Generate(ctx, systemPrompt, userPrompt)
			if err != nil {
				runs[idx] = voteRun{Malformed: true, Err: err}
				return
			}
			runs[idx] = parseChecklistRun(text, questionIDs)
		}(i)
	}
	wg.Wait()

	allFailed := true
	for _, r := range runs {
		if r.Err == nil {
			allFailed = false
		} else {
			log.Printf("checklist run error (counted as all-No): %v", r.Err)
		}
		if r.Malformed && r.Err == nil {
			log.Printf("checklist run malformed (counted as all-No): %s", truncateForLog(r.Raw, 200))
		}
	}
	if allFailed {
		return nil, fmt.Errorf("all %d checklist runs failed: %w", numRuns, runs[0].Err)
	}

	outcome := &ChecklistOutcome{
		Results:    make(map[string]string, len(questionIDs)),
		Confidence: make(map[string]float64, len(questionIDs)),
	}
	for _, r := range runs {
		outcome.RawRuns = append(outcome.RawRuns, r.Answers)
	}

	sumConfidence := 0.0
	for _, id := range questionIDs {
		yes := 0
		for _, r := range runs {
			if r.Answers[id] == "Yes" {
				yes++
			}
		}
		answer := "No"
		winnerVotes := numRuns - yes
		if yes*2 > numRuns {
			answer = "Yes"
			winnerVotes = yes
		}
		confidence := math.Round(float64(winnerVotes)/float64(numRuns)*100) / 100
		outcome.Results[id] = answer
		outcome.Confidence[id] = confidence
		sumConfidence += confidence

		if winnerVotes == numRuns {
			outcome.Stats.Unanimous++
		}
		if winnerVotes*3 >= numRuns*2 {
			outcome.Stats.MajorityAgree++
		}
	}
	outcome.Stats.TotalQuestions = len(questionIDs)
	if len(questionIDs) > 0 {
		outcome.Stats.MeanConfidence = sumConfidence / float64(len(questionIDs))
	}
	return outcome, nil
}

// parseChecklistRun parses one model response into per-question answers.
// Expected shape: {"q1": "Yes", "q2": "No", ...}. Unknown ids are dropped,
// missing ids default to No, any value other than yes/no is No.
func parseChecklistRun(text string, questionIDs []string) voteRun {
	cleaned := stripCodeFence(text)

	var parsed map[string]string
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return voteRun{Malformed: true, Raw: text}
	}

	answers := make(map[string]string, len(questionIDs))
	for _, id := range questionIDs {
		if strings.EqualFold(strings.TrimSpace(parsed[id]), "yes") {
			answers[id] = "Yes"
		} else {
			answers[id] = "No"
		}
	}
	return voteRun{Answers: answers, Raw: text}
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}
