package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

type checklistItem struct {
	ID       string
	Question string
}

// candidateRubric is one candidate label with its checklist items and the
// yes-count needed to qualify.
type candidateRubric struct {
	Value     string
	Items     []checklistItem
	Threshold int
}

// DimensionClassifier turns a noisy per-utterance LLM judgment into a
// stable label decision: consensus checklist per candidate, threshold
// qualification, deterministic tie-break, consistency cache in front.
type DimensionClassifier struct {
	dimension  string
	candidates []candidateRubric
	priority   []string
	fallback   string
	multiLabel bool

	backends *BackendSet
	cache    *consistencyCache
	numRuns  int
}

func NewStageClassifier(backends *BackendSet, cache *consistencyCache, numRuns int) *DimensionClassifier {
	return &DimensionClassifier{
		dimension:  "stage",
		candidates: stageRubrics(),
		priority:   []string{StageDevelopment, StageIntroduction, StageClosing},
		fallback:   StageDevelopment,
		backends:   backends,
		cache:      cache,
		numRuns:    numRuns,
	}
}

func NewContextClassifier(backends *BackendSet, cache *consistencyCache, numRuns int) *DimensionClassifier {
	return &DimensionClassifier{
		dimension:  "context",
		candidates: contextRubrics(),
		fallback:   ContextExplanation,
		multiLabel: true,
		backends:   backends,
		cache:      cache,
		numRuns:    numRuns,
	}
}

func NewLevelClassifier(backends *BackendSet, cache *consistencyCache, numRuns int) *DimensionClassifier {
	return &DimensionClassifier{
		dimension:  "level",
		candidates: levelRubrics(),
		priority:   []string{LevelL1, LevelL2, LevelL3},
		fallback:   LevelL1,
		backends:   backends,
		cache:      cache,
		numRuns:    numRuns,
	}
}

// Classify decides the label(s) for one utterance, threading the previous
// and next utterance text as local context. Identical input within a run
// returns the identical cached result without a model call.
func (d *DimensionClassifier) Classify(ctx context.Context, text, prevText, nextText string) (ClassificationResult, error) {
	signature := contextSignature(prevText, nextText)
	key := cacheKey(text, d.dimension, signature)
	return d.cache.getOrCompute(key, func() (ClassificationResult, error) {
		return d.classifyUncached(ctx, text, prevText, nextText)
	})
}

func (d *DimensionClassifier) classifyUncached(ctx context.Context, text, prevText, nextText string) (ClassificationResult, error) {
	scores := make([]candidateScore, 0, len(d.candidates))
	rawVotes := make(map[string]int, len(d.candidates))

	for _, candidate := range d.candidates {
		systemPrompt, userPrompt, ids := d.buildChecklistPrompts(candidate, text, prevText, nextText)
		outcome, err := RunChecklist(ctx, d.backends, systemPrompt, userPrompt, ids, d.numRuns)
		if err != nil {
			return ClassificationResult{}, fmt.Errorf("%s checklist for '%s': %w", d.dimension, candidate.Value, err)
		}

		yes := 0
		sumConf := 0.0
		for _, id := range ids {
			if outcome.Results[id] == "Yes" {
				yes++
			}
			sumConf += outcome.Confidence[id]
		}
		rawVotes[candidate.Value] = yes
		scores = append(scores, candidateScore{
			value:      candidate.Value,
			yesCount:   yes,
			confidence: sumConf / float64(len(ids)),
		})
	}

	var qualifying []candidateScore
	for i, candidate := range d.candidates {
		if scores[i].yesCount >= candidate.Threshold {
			qualifying = append(qualifying, scores[i])
		}
	}

	result := ClassificationResult{
		Dimension: d.dimension,
		RawVotes:  rawVotes,
	}

	if d.multiLabel {
		if len(qualifying) == 0 {
			result.Values = []string{d.fallback}
			result.Confidence = 0.5
			result.DecisionReason = fmt.Sprintf("no context qualified, defaulting to %s", d.fallback)
			return result, nil
		}
		sumConf := 0.0
		for _, q := range qualifying {
			result.Values = append(result.Values, q.value)
			sumConf += q.confidence
		}
		result.Confidence = roundConfidence(sumConf / float64(len(qualifying)))
		result.DecisionReason = fmt.Sprintf("%d contexts qualified", len(qualifying))
		return result, nil
	}

	switch len(qualifying) {
	case 0:
		result.Values = []string{d.fallback}
		result.Confidence = 0.5
		result.DecisionReason = fmt.Sprintf("no %s qualified, falling back to %s", d.dimension, d.fallback)
	case 1:
		result.Values = []string{qualifying[0].value}
		result.Confidence = roundConfidence(qualifying[0].confidence)
		result.DecisionReason = "single qualifier"
	default:
		chosen := d.pickByPriority(qualifying)
		var names []string
		for _, q := range qualifying {
			names = append(names, q.value)
		}
		result.Values = []string{chosen.value}
		result.Confidence = roundConfidence(chosen.confidence)
		result.DecisionReason = fmt.Sprintf("priority tie-break among [%s]", strings.Join(names, ", "))
	}
	return result, nil
}

type candidateScore struct {
	value      string
	yesCount   int
	confidence float64
}

func (d *DimensionClassifier) pickByPriority(qualifying []candidateScore) candidateScore {
	for _, preferred := range d.priority {
		for _, q := range qualifying {
			if q.value == preferred {
				return q
			}
		}
	}
	return qualifying[0]
}

func (d *DimensionClassifier) buildChecklistPrompts(candidate candidateRubric, text, prevText, nextText string) (string, string, []string) {
	var questionLines strings.Builder
	ids := make([]string, 0, len(candidate.Items))
	for _, item := range candidate.Items {
		ids = append(ids, item.ID)
		questionLines.WriteString(fmt.Sprintf("- %s: %s\n", item.ID, item.Question))
	}

	systemPrompt := fmt.Sprintf(`You analyze a single teacher utterance from a classroom lesson transcript.
The transcript may be in any language; judge the pedagogical function, not the language.
Answer each question below with exactly "Yes" or "No" about the TARGET utterance only.

Questions:
%s
Respond with JSON only (no markdown):
{%q: "Yes", ...} using every question id exactly once.`, questionLines.String(), ids[0])

	var userPrompt strings.Builder
	if prevText != "" {
		userPrompt.WriteString("Previous utterance: " + prevText + "\n")
	}
	userPrompt.WriteString("TARGET utterance: " + text + "\n")
	if nextText != "" {
		userPrompt.WriteString("Next utterance: " + nextText + "\n")
	}
	return systemPrompt, userPrompt.String(), ids
}

// contextSignature serializes neighbor texts into the cache key component.
func contextSignature(prevText, nextText string) string {
	return "prev:" + prevText + "|next:" + nextText
}

func roundConfidence(c float64) float64 {
	return math.Round(c*100) / 100
}

// BatchStats summarizes the label distribution of one classifier over an
// utterance list.
type BatchStats struct {
	Distribution    map[string]float64 `json:"distribution"`
	MultiLabelRate  float64            `json:"multi_label_rate"`
	TopCombinations []LabelCombination `json:"top_combinations"`
}

type LabelCombination struct {
	Labels string  `json:"labels"`
	Count  int     `json:"count"`
	Pct    float64 `json:"pct"`
}

// ClassifyBatch classifies an ordered utterance list, issuing per-utterance
// calls concurrently while preserving array order in the output.
func (d *DimensionClassifier) ClassifyBatch(ctx context.Context, utterances []Utterance) ([]ClassificationResult, *BatchStats, error) {
	results := make([]ClassificationResult, len(utterances))
	errs := make([]error, len(utterances))

	var wg sync.WaitGroup
	for i := range utterances {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			prev, next := "", ""
			if idx > 0 {
				prev = utterances[idx-1].Text
			}
			if idx < len(utterances)-1 {
				next = utterances[idx+1].Text
			}
			results[idx], errs[idx] = d.Classify(ctx, utterances[idx].Text, prev, next)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("classify %s utterance %d: %w", d.dimension, utterances[i].ID, err)
		}
	}
	return results, d.batchStats(results), nil
}

func (d *DimensionClassifier) batchStats(results []ClassificationResult) *BatchStats {
	stats := &BatchStats{Distribution: make(map[string]float64)}
	if len(results) == 0 {
		return stats
	}

	labelCounts := make(map[string]int)
	comboCounts := make(map[string]int)
	multiLabel := 0
	for _, r := range results {
		for _, v := range r.Values {
			labelCounts[v]++
		}
		if len(r.Values) > 1 {
			multiLabel++
		}
		combo := append([]string(nil), r.Values...)
		sort.Strings(combo)
		comboCounts[strings.Join(combo, "+")]++
	}

	total := float64(len(results))
	for label, count := range labelCounts {
		stats.Distribution[label] = math.Round(float64(count)/total*1000) / 10
	}
	stats.MultiLabelRate = math.Round(float64(multiLabel)/total*1000) / 10

	for labels, count := range comboCounts {
		stats.TopCombinations = append(stats.TopCombinations, LabelCombination{
			Labels: labels,
			Count:  count,
			Pct:    math.Round(float64(count)/total*1000) / 10,
		})
	}
	sort.Slice(stats.TopCombinations, func(i, j int) bool {
		if stats.TopCombinations[i].Count != stats.TopCombinations[j].Count {
			return stats.TopCombinations[i].Count > stats.TopCombinations[j].Count
		}
		return stats.TopCombinations[i].Labels < stats.TopCombinations[j].Labels
	})
	if len(stats.TopCombinations) > 5 {
		stats.TopCombinations = stats.TopCombinations[:5]
	}
	return stats
}

// --- Rubrics ---

func stageRubrics() []candidateRubric {
	return []candidateRubric{
		{
			Value: StageIntroduction,
			Items: []checklistItem{
				{"intro_1", "Does the utterance open the lesson or orient students to a new topic?"},
				{"intro_2", "Does it state learning objectives, activate prior knowledge, or motivate the coming content?"},
				{"intro_3", "Does it use opening moves such as greetings, 'today we will learn', or an attention-getting hook?"},
			},
			Threshold: 2,
		},
		{
			Value: StageDevelopment,
			Items: []checklistItem{
				{"dev_1", "Does the utterance deliver, explore, or practice the main instructional content?"},
				{"dev_2", "Does it involve explaining, questioning, problem solving, or a guided activity on the topic?"},
				{"dev_3", "Does it assume the topic is already underway rather than being opened or wrapped up?"},
			},
			Threshold: 2,
		},
		{
			Value: StageClosing,
			Items: []checklistItem{
				{"close_1", "Does the utterance summarize, review, or consolidate what was learned?"},
				{"close_2", "Does it assign follow-up work, give an outlook on the next lesson, or check final understanding?"},
				{"close_3", "Does it use wrap-up moves such as 'to sum up', cleanup instructions, or a farewell?"},
			},
			Threshold: 2,
		},
	}
}

func contextRubrics() []candidateRubric {
	return []candidateRubric{
		{
			Value: ContextExplanation,
			Items: []checklistItem{
				{"expl_1", "Does the utterance present, define, or describe subject-matter content?"},
				{"expl_2", "Is the teacher transmitting information rather than eliciting it?"},
				{"expl_3", "Would removing this utterance remove content knowledge from the lesson?"},
			},
			Threshold: 2,
		},
		{
			Value: ContextQuestion,
			Items: []checklistItem{
				{"ques_1", "Does the utterance ask students something, explicitly or implicitly?"},
				{"ques_2", "Does it invite a verbal or mental response from students?"},
				{"ques_3", "Is its primary purpose to elicit student thinking rather than to inform?"},
			},
			Threshold: 2,
		},
		{
			Value: ContextFeedback,
			Items: []checklistItem{
				{"feed_1", "Does the utterance react to something a student said or did?"},
				{"feed_2", "Does it evaluate, praise, correct, or elaborate on a student contribution?"},
				{"feed_3", "Would this utterance make no sense without a preceding student action?"},
			},
			Threshold: 2,
		},
		{
			Value: ContextFacilitation,
			Items: []checklistItem{
				{"faci_1", "Does the utterance encourage participation, discussion, or collaboration?"},
				{"faci_2", "Does it guide how students work (pairs, groups, turns) rather than what content to learn?"},
				{"faci_3", "Does it scaffold or prompt student activity without giving the answer?"},
			},
			Threshold: 2,
		},
		{
			Value: ContextManagement,
			Items: []checklistItem{
				{"mgmt_1", "Does the utterance handle procedures, materials, time, or transitions?"},
				{"mgmt_2", "Does it address behavior, attention, or classroom order?"},
				{"mgmt_3", "Is it about running the classroom rather than the lesson content?"},
			},
			Threshold: 2,
		},
	}
}

func levelRubrics() []candidateRubric {
	return []candidateRubric{
		{
			Value: LevelL1,
			Items: []checklistItem{
				{"l1_1", "Does the utterance demand only recall, recognition, or repetition of facts?"},
				{"l1_2", "Could a student respond correctly from memory without reasoning?"},
				{"l1_3", "Is the expected response a single short fact, name, or yes/no?"},
			},
			Threshold: 2,
		},
		{
			Value: LevelL2,
			Items: []checklistItem{
				{"l2_1", "Does the utterance ask for explanation, comparison, or application of a known idea?"},
				{"l2_2", "Does it require connecting concepts or applying a procedure to a new case?"},
				{"l2_3", "Does it go beyond recall but stop short of open-ended analysis or creation?"},
			},
			Threshold: 2,
		},
		{
			Value: LevelL3,
			Items: []checklistItem{
				{"l3_1", "Does the utterance demand analysis, justification, evaluation, or proof?"},
				{"l3_2", "Does it pose an open problem with multiple defensible answers?"},
				{"l3_3", "Does it ask students to construct, generalize, or critique an idea?"},
			},
			Threshold: 2,
		},
	}
}
