package eval

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalizeRelation folds a relation name for comparison: NFKC, lower case,
// Unicode hyphens and whitespace collapsed, zero-width characters dropped.
func normalizeRelation(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || r == '_':
			space = true
			continue
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014':
			r = '-'
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// sameRelation reports whether predicted matches gold. Two empty values
// match: the case expected no canonical relation and got none.
func sameRelation(predicted, gold string) bool {
	return normalizeRelation(predicted) == normalizeRelation(gold)
}

// CalibrationBuckets are the lower bounds of the confidence bands reported
// for predictions.
var CalibrationBuckets = []float64{0, 0.5, 0.7, 0.9}

// Calibration is the accuracy of predictions within one confidence band.
type Calibration struct {
	MinConfidence float64 `json:"min_confidence"`
	Count         int     `json:"count"`
	Correct       int     `json:"correct"`
	Accuracy      float64 `json:"accuracy"`
}

func bucketIndex(confidence float64) int {
	idx := 0
	for i, lo := range CalibrationBuckets {
		if confidence >= lo {
			idx = i
		}
	}
	return idx
}

// tally accumulates classification counts over results.
type tally struct {
	evaluated     int
	correct       int
	predicted     int // non-empty predictions
	truePositive  int // non-empty predictions equal to gold
	withGold      int // cases whose gold is non-empty
	noMatch       int // cases whose gold is empty
	abstainedOK   int // empty gold, empty prediction
	confidenceSum float64
}

func (t *tally) add(r TestResult) {
	t.evaluated++
	t.confidenceSum += r.Confidence
	if r.Correct {
		t.correct++
	}
	if r.Predicted != "" {
		t.predicted++
		if r.Correct {
			t.truePositive++
		}
	}
	if r.Gold != "" {
		t.withGold++
	} else {
		t.noMatch++
		if r.Predicted == "" {
			t.abstainedOK++
		}
	}
}

func (t *tally) metrics() AggregateMetrics {
	m := AggregateMetrics{
		Accuracy:           ratio(t.correct, t.evaluated),
		Precision:          ratio(t.truePositive, t.predicted),
		Recall:             ratio(t.truePositive, t.withGold),
		Coverage:           ratio(t.predicted, t.evaluated),
		AbstentionAccuracy: ratio(t.abstainedOK, t.noMatch),
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if t.evaluated > 0 {
		m.AvgConfidence = t.confidenceSum / float64(t.evaluated)
	}
	return m
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
