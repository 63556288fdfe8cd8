package main

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
)

// fakeBackend scripts model responses for tests. respond receives the
// 1-based call number so tests can fail early calls and succeed later ones.
type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, systemPrompt, userPrompt string) (string, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Generate(_ context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	text, err := f.respond(n, systemPrompt, userPrompt)
	return text, LLMUsage{}, err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var questionIDPattern = regexp.MustCompile(`(?m)^- ([a-z0-9_]+): `)

// extractQuestionIDs pulls the checklist question ids out of a classifier
// system prompt.
func extractQuestionIDs(systemPrompt string) []string {
	var ids []string
	for _, m := range questionIDPattern.FindAllStringSubmatch(systemPrompt, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// extractTarget returns the TARGET utterance text from a classifier user
// prompt.
func extractTarget(userPrompt string) string {
	for _, line := range strings.Split(userPrompt, "\n") {
		if strings.HasPrefix(line, "TARGET utterance: ") {
			return strings.TrimPrefix(line, "TARGET utterance: ")
		}
	}
	return ""
}

func idPrefix(id string) string {
	if i := strings.LastIndex(id, "_"); i > 0 {
		return id[:i]
	}
	return id
}

// answerChecklist builds a well-formed checklist JSON response answering
// Yes for every id whose prefix is in yesPrefixes.
func answerChecklist(systemPrompt string, yesPrefixes map[string]bool) string {
	answers := make(map[string]string)
	for _, id := range extractQuestionIDs(systemPrompt) {
		if yesPrefixes[idPrefix(id)] {
			answers[id] = "Yes"
		} else {
			answers[id] = "No"
		}
	}
	data, _ := json.Marshal(answers)
	return string(data)
}

// checklistResponder scripts a classifier backend whose answers depend only
// on the candidate rubric being asked about.
func checklistResponder(yesPrefixes map[string]bool) func(int, string, string) (string, error) {
	return func(_ int, systemPrompt, _ string) (string, error) {
		return answerChecklist(systemPrompt, yesPrefixes), nil
	}
}

func newFakeBackendSet(respond func(int, string, string) (string, error)) (*BackendSet, *fakeBackend) {
	fake := &fakeBackend{respond: respond}
	return NewBackendSet(fake, nil), fake
}

const validCoachingJSON = `{
	"overall_assessment": "A solid development-heavy lesson with rising cognitive demand.",
	"strengths": ["Strong questioning in development", "Clear progression"],
	"areas_for_growth": ["Short closing stage"],
	"priority_actions": ["Reserve five minutes for consolidation"]
}`
