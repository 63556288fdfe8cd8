package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Lesson stages, context tags, and cognitive levels. Order matters: array
// indices into the frequency cube follow these slices.
var (
	Stages   = []string{"introduction", "development", "closing"}
	Contexts = []string{"explanation", "question", "feedback", "facilitation", "management"}
	Levels   = []string{"L1", "L2", "L3"}
)

const (
	StageIntroduction = "introduction"
	StageDevelopment  = "development"
	StageClosing      = "closing"

	ContextExplanation  = "explanation"
	ContextQuestion     = "question"
	ContextFeedback     = "feedback"
	ContextFacilitation = "facilitation"
	ContextManagement   = "management"

	LevelL1 = "L1"
	LevelL2 = "L2"
	LevelL3 = "L3"
)

func stageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

func contextIndex(context string) int {
	for i, c := range Contexts {
		if c == context {
			return i
		}
	}
	return -1
}

func levelIndex(level string) int {
	for i, l := range Levels {
		if l == level {
			return i
		}
	}
	return -1
}

// levelValue maps L1/L2/L3 to 1/2/3 for the cognitive averages.
func levelValue(level string) float64 {
	return float64(levelIndex(level) + 1)
}

type Utterance struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
}

type LessonContext struct {
	Subject         string `json:"subject,omitempty"`
	GradeLevel      string `json:"grade_level,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// ClassificationResult is the consensus decision for one utterance on one
// dimension. Single-label dimensions (stage, level) carry exactly one value;
// context carries one or more. Immutable once produced.
type ClassificationResult struct {
	Dimension      string         `json:"dimension"`
	Values         []string       `json:"values"`
	Confidence     float64        `json:"confidence"`
	RawVotes       map[string]int `json:"raw_votes"`
	DecisionReason string         `json:"decision_reason"`
}

// Value returns the single label of a single-label result.
func (r ClassificationResult) Value() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[0]
}

// MatrixPoint is the 3-coordinate projection of one utterance: exactly one
// stage, exactly one level, at least one context.
type MatrixPoint struct {
	UtteranceID int      `json:"utterance_id"`
	Stage       string   `json:"stage"`
	Contexts    []string `json:"contexts"`
	Level       string   `json:"level"`
}

type MetricResult struct {
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	RawValue        float64    `json:"raw_value"`
	NormalizedScore float64    `json:"normalized_score"`
	OptimalRange    [2]float64 `json:"optimal_range"`
	Status          string     `json:"status"`
	Description     string     `json:"description"`
}

type PatternMatch struct {
	PatternName       string             `json:"pattern_name"`
	Similarity        float64            `json:"similarity"`
	StageSimilarities map[string]float64 `json:"stage_similarities"`
	MatchQuality      string             `json:"match_quality"`
	Recommendations   []string           `json:"recommendations"`
}

type CBILAlignment struct {
	StageScores       map[string]int `json:"stage_scores"`
	TotalScore        int            `json:"total_score"`
	OverallPercentage float64        `json:"overall_percentage"`
	AlignmentScore    float64        `json:"alignment_score"`
	Recommendations   []string       `json:"recommendations"`
}

type CoachingNarrative struct {
	OverallAssessment string   `json:"overall_assessment"`
	Strengths         []string `json:"strengths"`
	AreasForGrowth    []string `json:"areas_for_growth"`
	PriorityActions   []string `json:"priority_actions"`
}

// EvaluationResult is the final output of one pipeline run. Read-only after
// construction; storage and Slack delivery consume it by value.
type EvaluationResult struct {
	RunID        string                  `json:"run_id"`
	Lesson       *LessonContext          `json:"lesson,omitempty"`
	Matrix       *LessonMatrix           `json:"matrix"`
	Metrics      map[string]MetricResult `json:"metrics"`
	Pattern      *PatternMatch           `json:"pattern"`
	CBIL         *CBILAlignment          `json:"cbil,omitempty"`
	Coaching     *CoachingNarrative      `json:"coaching"`
	ProcessingMs int64                   `json:"processing_ms"`
	UtteranceCnt int                     `json:"utterance_count"`
	CreatedAt    time.Time               `json:"created_at"`
	LLMProvider  string                  `json:"llm_provider"`
	LLMModel     string                  `json:"llm_model"`
}

// LoadTranscript reads a JSON utterance list from a file and validates it.
func LoadTranscript(path string) ([]Utterance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return ParseTranscript(data)
}

// ParseTranscript decodes and validates an ordered utterance list. Missing
// ids are assigned from array position; empty texts are rejected.
func ParseTranscript(data []byte) ([]Utterance, error) {
	var utterances []Utterance
	if err := json.Unmarshal(data, &utterances); err != nil {
		return nil, fmt.Errorf("parse transcript json: %w", err)
	}
	if len(utterances) == 0 {
		return nil, fmt.Errorf("transcript contains no utterances")
	}
	for i := range utterances {
		if strings.TrimSpace(utterances[i].Text) == "" {
			return nil, fmt.Errorf("utterance %d has empty text", i)
		}
		if utterances[i].ID == 0 {
			utterances[i].ID = i + 1
		}
	}
	return utterances, nil
}
