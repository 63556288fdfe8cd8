package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// PipelineError names the stage that failed and carries whatever numeric
// results were completed before the failure, so callers can keep partial
// output if they choose to.
type PipelineError struct {
	Stage   string
	Err     error
	Partial *EvaluationResult
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("evaluation failed at stage '%s': %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Engine owns the full evaluation pipeline and the shared mutable state
// behind it: the backend set (with its failover flag) and the consistency
// cache, both passed by reference into every classifier.
type Engine struct {
	cfg      Config
	backends *BackendSet
	cache    *consistencyCache
	builder  *MatrixBuilder
	matcher  *PatternMatcher
}

func NewEngine(cfg Config) (*Engine, error) {
	primary, err := NewBackend(cfg.LLMProvider, cfg.LLMModel, cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	var secondary Backend
	if cfg.FallbackProvider != "" && cfg.FallbackProvider != "none" && cfg.FallbackProvider != cfg.LLMProvider {
		secondary, err = NewBackend(cfg.FallbackProvider, cfg.FallbackModel, cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
	}
	backends := NewBackendSet(primary, secondary)

	patterns, err := LoadIdealPatterns(cfg.PatternsPath)
	if err != nil {
		return nil, err
	}

	cache := newConsistencyCache(cfg.CacheSize)
	engine := &Engine{
		cfg:      cfg,
		backends: backends,
		cache:    cache,
		builder: NewMatrixBuilder(
			NewStageClassifier(backends, cache, cfg.NumRuns),
			NewContextClassifier(backends, cache, cfg.NumRuns),
			NewLevelClassifier(backends, cache, cfg.NumRuns),
		),
		matcher: NewPatternMatcher(patterns),
	}
	return engine, nil
}

// Evaluate runs the pipeline end to end: matrix build, metrics, pattern
// match, optional CBIL alignment, coaching narrative. Stages 1-4 feed each
// other and run strictly in order; concurrency lives inside the
// classifiers. cbilNarrative may be empty.
func (e *Engine) Evaluate(ctx context.Context, utterances []Utterance, lesson *LessonContext, cbilNarrative string) (*EvaluationResult, error) {
	start := time.Now()
	result := &EvaluationResult{
		RunID:        uuid.NewString(),
		Lesson:       lesson,
		UtteranceCnt: len(utterances),
		CreatedAt:    start,
		LLMProvider:  e.cfg.LLMProvider,
		LLMModel:     e.cfg.LLMModel,
	}

	matrix, err := e.builder.Build(ctx, utterances)
	if err != nil {
		return nil, &PipelineError{Stage: "matrix", Err: err}
	}
	result.Matrix = matrix

	var lessonMinutes float64
	if lesson != nil {
		lessonMinutes = float64(lesson.DurationMinutes)
	}
	result.Metrics = CalculateAllMetrics(matrix, lessonMinutes)

	match, err := e.matcher.Match(matrix)
	if err != nil {
		return nil, &PipelineError{Stage: "pattern_match", Err: err, Partial: result}
	}
	result.Pattern = match

	if cbilNarrative != "" {
		scores, err := ParseCBILNarrative(cbilNarrative)
		if err != nil {
			// Partial-data parse failures are logged inside the parser;
			// reaching here means nothing was usable at all.
			log.Printf("cbil narrative unusable, continuing without alignment: %v", err)
		} else {
			result.CBIL = AlignCBIL(scores, match)
		}
	}

	coaching, err := GenerateCoaching(ctx, e.backends, result, e.cfg.CoachingRetries)
	if err != nil {
		return nil, &PipelineError{Stage: "coaching", Err: err, Partial: result}
	}
	result.Coaching = coaching

	result.ProcessingMs = time.Since(start).Milliseconds()
	hits, misses := e.cache.Stats()
	log.Printf("evaluation complete run=%s utterances=%d pattern=%s similarity=%.2f elapsed=%dms cache_hits=%d cache_misses=%d",
		result.RunID, len(utterances), match.PatternName, match.Similarity, result.ProcessingMs, hits, misses)
	return result, nil
}
