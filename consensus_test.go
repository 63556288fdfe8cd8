package main

import (
	"context"
	"fmt"
	"math"
	"testing"
)

func TestRunChecklist_MajorityVote(t *testing.T) {
	// Item x1: Yes, Yes, No across runs -> Yes at 0.67.
	// Item x2: unanimous Yes.
	responses := []string{
		`{"x1": "Yes", "x2": "Yes"}`,
		`{"x1": "Yes", "x2": "Yes"}`,
		`{"x1": "No", "x2": "Yes"}`,
	}
	backends, _ := newFakeBackendSet(func(call int, _, _ string) (string, error) {
		return responses[call-1], nil
	})

	outcome, err := RunChecklist(context.Background(), backends, "sys", "user", []string{"x1", "x2"}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Results["x1"] != "Yes" {
		t.Fatalf("expected x1=Yes by 2-of-3 majority, got %s", outcome.Results["x1"])
	}
	if outcome.Confidence["x1"] != 0.67 {
		t.Fatalf("expected x1 confidence 0.67, got %v", outcome.Confidence["x1"])
	}
	if outcome.Results["x2"] != "Yes" || outcome.Confidence["x2"] != 1.0 {
		t.Fatalf("expected x2 unanimous Yes, got %s at %v", outcome.Results["x2"], outcome.Confidence["x2"])
	}

	if outcome.Stats.TotalQuestions != 2 {
		t.Fatalf("expected 2 total questions, got %d", outcome.Stats.TotalQuestions)
	}
	if outcome.Stats.Unanimous != 1 {
		t.Fatalf("expected 1 unanimous item, got %d", outcome.Stats.Unanimous)
	}
	if outcome.Stats.MajorityAgree != 2 {
		t.Fatalf("expected 2 items at 2-of-3 or better, got %d", outcome.Stats.MajorityAgree)
	}
	wantMean := (0.67 + 1.0) / 2
	if math.Abs(outcome.Stats.MeanConfidence-wantMean) > 1e-9 {
		t.Fatalf("expected mean confidence %v, got %v", wantMean, outcome.Stats.MeanConfidence)
	}
}

func TestRunChecklist_MalformedRunCountsAsNo(t *testing.T) {
	// Two runs say Yes, one run returns garbage. The garbage run votes No,
	// so the majority is still Yes but not unanimous.
	responses := []string{
		`{"x1": "Yes"}`,
		"I think the answer is probably yes?",
		`{"x1": "Yes"}`,
	}
	backends, _ := newFakeBackendSet(func(call int, _, _ string) (string, error) {
		return responses[call-1], nil
	})

	outcome, err := RunChecklist(context.Background(), backends, "sys", "user", []string{"x1"}, 3)
	if err != nil {
		t.Fatalf("malformed run must not abort the vote: %v", err)
	}
	if outcome.Results["x1"] != "Yes" {
		t.Fatalf("expected Yes despite one malformed run, got %s", outcome.Results["x1"])
	}
	if outcome.Confidence["x1"] != 0.67 {
		t.Fatalf("expected confidence 0.67, got %v", outcome.Confidence["x1"])
	}
}

func TestRunChecklist_SingleRunErrorCountsAsNo(t *testing.T) {
	backends, _ := newFakeBackendSet(func(call int, _, _ string) (string, error) {
		if call == 2 {
			return "", fmt.Errorf("transient network error")
		}
		return `{"x1": "No"}`, nil
	})

	outcome, err := RunChecklist(context.Background(), backends, "sys", "user", []string{"x1"}, 3)
	if err != nil {
		t.Fatalf("single run error must not abort the vote: %v", err)
	}
	if outcome.Results["x1"] != "No" || outcome.Confidence["x1"] != 1.0 {
		t.Fatalf("expected unanimous No, got %s at %v", outcome.Results["x1"], outcome.Confidence["x1"])
	}
}

func TestRunChecklist_AllRunsFailed(t *testing.T) {
	backends, _ := newFakeBackendSet(func(int, string, string) (string, error) {
		return "", fmt.Errorf("connection refused")
	})

	if _, err := RunChecklist(context.Background(), backends, "sys", "user", []string{"x1"}, 3); err == nil {
		t.Fatal("expected error when every run fails at the transport level")
	}
}

func TestParseChecklistRun(t *testing.T) {
	ids := []string{"a", "b", "c"}

	run := parseChecklistRun("```json\n{\"a\": \"yes\", \"b\": \"No\", \"extra\": \"Yes\"}\n```", ids)
	if run.Malformed {
		t.Fatalf("fenced JSON should parse, raw: %s", run.Raw)
	}
	if run.Answers["a"] != "Yes" {
		t.Fatalf("expected case-insensitive yes, got %s", run.Answers["a"])
	}
	if run.Answers["b"] != "No" {
		t.Fatalf("expected b=No, got %s", run.Answers["b"])
	}
	if run.Answers["c"] != "No" {
		t.Fatalf("expected missing id to default to No, got %s", run.Answers["c"])
	}
	if _, ok := run.Answers["extra"]; ok {
		t.Fatal("expected unknown id to be dropped")
	}

	if run := parseChecklistRun("not json at all", ids); !run.Malformed {
		t.Fatal("expected malformed flag for unparsable response")
	}
}
