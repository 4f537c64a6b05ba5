// Package eval measures canonicalization quality against labelled triplets.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/schemacanon"
)

// Canonicalizer is the call under evaluation.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, inputText string, triplet schemacanon.Triplet, definitions map[string]string, enrich bool) (*schemacanon.Result, error)
}

// Evaluator runs datasets through a Canonicalizer. Cases never enrich, so
// the schema stays fixed across a run.
type Evaluator struct {
	c Canonicalizer
}

// NewEvaluator returns an Evaluator for c.
func NewEvaluator(c Canonicalizer) *Evaluator {
	return &Evaluator{c: c}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	States          map[schemacanon.State]int   `json:"states"`
	Calibration     []Calibration               `json:"calibration"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics summarizes a set of results. Precision and recall treat
// "no match" as the negative class.
type AggregateMetrics struct {
	Accuracy           float64 `json:"accuracy"`
	Precision          float64 `json:"precision"`
	Recall             float64 `json:"recall"`
	F1                 float64 `json:"f1"`
	Coverage           float64 `json:"coverage"`            // share of cases with a prediction
	AbstentionAccuracy float64 `json:"abstention_accuracy"` // no-match cases correctly left unmatched
	AvgConfidence      float64 `json:"avg_confidence"`
}

// TestResult is the outcome of one case.
type TestResult struct {
	ID         string            `json:"id"`
	Category   string            `json:"category,omitempty"`
	Triplet    [3]string         `json:"triplet"`
	Gold       string            `json:"gold"`
	Predicted  string            `json:"predicted"`
	Correct    bool              `json:"correct"`
	State      schemacanon.State `json:"state,omitempty"`
	Confidence float64           `json:"confidence"`

	// GoldRank is the 1-based rank of the gold relation among the retrieved
	// candidates, 0 when it was not retrieved or the case has no gold.
	GoldRank   int      `json:"gold_rank"`
	Candidates []string `json:"candidates,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Error      string   `json:"error,omitempty"`
	ElapsedMs  int64    `json:"elapsed_ms"`
}

// Run evaluates every case of dataset in order. Per-case backend errors are
// recorded on the result and excluded from the metrics.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		TotalTests:      len(dataset.Tests),
		CategoryMetrics: make(map[string]AggregateMetrics),
		States:          make(map[schemacanon.State]int),
	}

	var all tally
	cats := make(map[string]*tally)
	buckets := make([]Calibration, len(CalibrationBuckets))
	for i, lo := range CalibrationBuckets {
		buckets[i].MinConfidence = lo
	}

	for i, test := range dataset.Tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := e.runTest(ctx, test)
		report.Results = append(report.Results, result)

		status := "PASS"
		switch {
		case result.Error != "":
			status = "ERROR"
			report.Errors++
		case !result.Correct:
			status = "FAIL"
		}
		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Tests)),
			"status", status,
			"gold", result.Gold,
			"predicted", result.Predicted,
			"gold_rank", result.GoldRank,
			"confidence", fmt.Sprintf("%.2f", result.Confidence),
			"elapsed_ms", result.ElapsedMs)

		if result.Correct {
			report.Passed++
		} else {
			report.Failed++
		}
		if result.Error != "" {
			continue
		}

		report.States[result.State]++
		all.add(result)
		if test.Category != "" {
			t := cats[test.Category]
			if t == nil {
				t = &tally{}
				cats[test.Category] = t
			}
			t.add(result)
		}
		if result.Predicted != "" {
			b := &buckets[bucketIndex(result.Confidence)]
			b.Count++
			if result.Correct {
				b.Correct++
			}
		}
	}

	report.Metrics = all.metrics()
	for cat, t := range cats {
		report.CategoryMetrics[cat] = t.metrics()
	}
	for i := range buckets {
		buckets[i].Accuracy = ratio(buckets[i].Correct, buckets[i].Count)
	}
	report.Calibration = buckets
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, test TestCase) TestResult {
	testStart := time.Now()
	result := TestResult{
		ID:       test.ID,
		Category: test.Category,
		Triplet:  test.Triplet,
		Gold:     test.Gold,
	}

	var defs map[string]string
	if test.Definition != "" {
		defs = map[string]string{test.Triplet[1]: test.Definition}
	}
	res, err := e.c.Canonicalize(ctx, test.Text, schemacanon.Triplet(test.Triplet), defs, false)
	result.ElapsedMs = time.Since(testStart).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.State = res.State
	result.Confidence = res.Confidence
	result.Reasoning = res.Reasoning
	if res.Triplet != nil {
		result.Predicted = res.Triplet.Relation()
	}
	result.Correct = sameRelation(result.Predicted, test.Gold)
	for i, c := range res.Candidates {
		result.Candidates = append(result.Candidates, c.Name)
		if test.Gold != "" && result.GoldRank == 0 && sameRelation(c.Name, test.Gold) {
			result.GoldRank = i + 1
		}
	}
	return result
}

// FormatReport renders r as a human-readable summary.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d | Errors: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed, r.Errors)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	writeMetrics(&b, "  ", r.Metrics)
	fmt.Fprintln(&b)

	if len(r.States) > 0 {
		states := make([]string, 0, len(r.States))
		for st := range r.States {
			states = append(states, string(st))
		}
		sort.Strings(states)
		fmt.Fprintf(&b, "States:\n")
		for _, st := range states {
			fmt.Fprintf(&b, "  %-18s %d\n", st, r.States[schemacanon.State(st)])
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintf(&b, "Calibration:\n")
	for _, c := range r.Calibration {
		if c.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  conf>=%.1f  n=%-4d acc=%.1f%%\n", c.MinConfidence, c.Count, c.Accuracy*100)
	}
	fmt.Fprintln(&b)

	// Per-category breakdown (sorted for deterministic output)
	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s]\n", cat)
			fmt.Fprintf(&b, "    Acc=%.2f P=%.2f R=%.2f F1=%.2f Cov=%.2f Abst=%.2f Conf=%.2f\n",
				m.Accuracy, m.Precision, m.Recall, m.F1, m.Coverage, m.AbstentionAccuracy, m.AvgConfidence)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Correct {
			status = "FAIL"
		}
		if res.Error != "" {
			status = "ERROR"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, truncate(strings.Join(res.Triplet[:], " | "), 80))
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  gold=%q predicted=%q state=%s conf=%.2f rank=%d  (%dms)\n",
			res.Gold, res.Predicted, res.State, res.Confidence, res.GoldRank, res.ElapsedMs)
	}

	return b.String()
}

func writeMetrics(b *strings.Builder, indent string, m AggregateMetrics) {
	fmt.Fprintf(b, "%sAccuracy:             %.2f\n", indent, m.Accuracy)
	fmt.Fprintf(b, "%sPrecision:            %.2f\n", indent, m.Precision)
	fmt.Fprintf(b, "%sRecall:               %.2f\n", indent, m.Recall)
	fmt.Fprintf(b, "%sF1:                   %.2f\n", indent, m.F1)
	fmt.Fprintf(b, "%sCoverage:             %.2f\n", indent, m.Coverage)
	fmt.Fprintf(b, "%sAbstention Accuracy:  %.2f\n", indent, m.AbstentionAccuracy)
	fmt.Fprintf(b, "%sConfidence:           %.2f\n", indent, m.AvgConfidence)
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
