package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Confidence tiers attached to a chain-of-thought answer.
const (
	ConfidenceFinalAnswer = 1.0
	ConfidenceAnswer      = 0.9
	ConfidenceLastLine    = 0.7
	ConfidenceFullText    = 0.5
	ConfidenceNone        = 0.0
)

// tieredRule is a marker pattern paired with the confidence it earns.
type tieredRule struct {
	name       string
	pattern    *regexp.Regexp
	confidence float64
}

// markerRules are tried before any positional heuristic. The Chinese final
// answer marker is listed first because 答案 is a suffix of 最终答案.
var markerRules = []tieredRule{
	{"final_answer_zh", regexp.MustCompile(`(?i)最终答案\s*[:：]\s*([A-Z])`), ConfidenceFinalAnswer},
	{"final_answer_en", regexp.MustCompile(`(?i)final answer\s*[:：]\s*([A-Z])`), ConfidenceFinalAnswer},
	{"answer_zh", regexp.MustCompile(`(?i)答案\s*[:：]\s*([A-Z])`), ConfidenceAnswer},
	{"answer_en", regexp.MustCompile(`(?i)answer\s*[:：]\s*([A-Z])`), ConfidenceAnswer},
}

// CoTAnswer is the parsed form of a chain-of-thought verifier response.
type CoTAnswer struct {
	Reasoning  string
	Letter     string // empty when no letter could be extracted
	Confidence float64
	Rule       string
}

// Found reports whether a letter was extracted.
func (a CoTAnswer) Found() bool { return a.Letter != "" }

// ExtractCoTAnswer splits reasoning prose from the final option letter and
// grades the extraction:
//
//	1.0  explicit "Final Answer: X" / "最终答案: X"
//	0.9  explicit "Answer: X" / "答案: X"
//	0.7  letter found on the last non-empty line
//	0.5  letter found anywhere in the text
//	0.0  nothing found
func ExtractCoTAnswer(text string) CoTAnswer {
	folded := fold(text)
	for _, r := range markerRules {
		loc := r.pattern.FindStringSubmatchIndex(folded)
		if loc == nil {
			continue
		}
		// fold keeps one rune per rune, so the marker's rune offset in
		// folded is also its offset in text.
		start := utf8.RuneCountInString(folded[:loc[0]])
		return CoTAnswer{
			Reasoning:  strings.TrimSpace(string([]rune(text)[:start])),
			Letter:     strings.ToUpper(folded[loc[2]:loc[3]]),
			Confidence: r.confidence,
			Rule:       r.name,
		}
	}

	lines := nonEmptyLines(text)
	if len(lines) > 0 {
		if m, ok := MatchLetterStrict(lines[len(lines)-1]); ok {
			return CoTAnswer{
				Reasoning:  strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n")),
				Letter:     m.Letter,
				Confidence: ConfidenceLastLine,
				Rule:       "last_line:" + m.Rule,
			}
		}
	}

	if m, ok := MatchLetterStrict(text); ok {
		return CoTAnswer{
			Reasoning:  text,
			Letter:     m.Letter,
			Confidence: ConfidenceFullText,
			Rule:       "full_text:" + m.Rule,
		}
	}
	return CoTAnswer{Reasoning: text, Confidence: ConfidenceNone}
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
