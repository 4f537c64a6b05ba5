// Package extract turns free-form verifier output into a discrete option
// letter. Two strategies live here: the plain one used when the model is
// asked for a bare letter, and the chain-of-thought one which also grades how
// explicitly the model committed to its answer.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// rule is a single entry in an ordered first-match-wins table. The first
// capture group of pattern holds the option letter.
type rule struct {
	name    string
	pattern *regexp.Regexp
}

// plainRules is the resolution order for ExtractLetter after the single
// character check. Order matters: localized markers beat positional guesses.
var plainRules = []rule{
	{"option_prefix", regexp.MustCompile(`(?i)选项\s*([A-Z])`)},
	{"option_suffix", regexp.MustCompile(`(?i)([A-Z])\s*选项`)},
	{"choose", regexp.MustCompile(`(?i)选择\s*([A-Z])`)},
	{"answer_en", regexp.MustCompile(`(?i)answer\s*[:：]\s*([A-Z])`)},
	{"answer_zh", regexp.MustCompile(`(?i)答案\s*[:：]\s*([A-Z])`)},
	{"leading_letter", regexp.MustCompile(`(?i)^([A-Z])[.,。，\s]`)},
	{"isolated_letter", regexp.MustCompile(`(?i)[^A-Z]([A-Z])[^A-Z]`)},
	{"more_suitable", regexp.MustCompile(`(?i)([A-Z])\s*更合适`)},
}

// strictRules is the single-letter table used by the chain-of-thought
// strategy. It differs from plainRules in ordering: the "more suitable"
// construct is tried before the isolated-letter scan.
var strictRules = []rule{
	{"single_letter", regexp.MustCompile(`(?i)^([A-Z])$`)},
	{"option_prefix", regexp.MustCompile(`(?i)选项\s*([A-Z])`)},
	{"option_suffix", regexp.MustCompile(`(?i)([A-Z])\s*选项`)},
	{"choose", regexp.MustCompile(`(?i)选择\s*([A-Z])`)},
	{"answer_en", regexp.MustCompile(`(?i)answer\s*[:：]\s*([A-Z])`)},
	{"answer_zh", regexp.MustCompile(`(?i)答案\s*[:：]\s*([A-Z])`)},
	{"leading_letter", regexp.MustCompile(`(?i)^([A-Z])[.,。，\s]`)},
	{"more_suitable", regexp.MustCompile(`(?i)([A-Z])\s*更合适`)},
	{"isolated_letter", regexp.MustCompile(`(?i)[^A-Z]([A-Z])[^A-Z]`)},
}

// Match describes which rule produced a letter.
type Match struct {
	Letter string
	Rule   string
}

// ExtractLetter returns the option letter found in text using the plain
// strategy. ok is false when the text contains no ASCII letter at all.
func ExtractLetter(text string) (string, bool) {
	m, ok := MatchLetter(text)
	return m.Letter, ok
}

// MatchLetter is ExtractLetter that also reports the rule that fired.
func MatchLetter(text string) (Match, bool) {
	text = fold(text)

	if r := []rune(text); len(r) == 1 && isASCIILetter(r[0]) {
		return Match{Letter: strings.ToUpper(text), Rule: "single_letter"}, true
	}

	for _, r := range plainRules {
		subject := text
		if r.name == "isolated_letter" {
			subject = " " + text + " "
		}
		if sm := r.pattern.FindStringSubmatch(subject); sm != nil {
			return Match{Letter: strings.ToUpper(sm[1]), Rule: r.name}, true
		}
	}

	letters := asciiLetters(text)
	if len(letters) == 0 {
		return Match{}, false
	}
	for _, l := range letters {
		if l >= 'A' && l <= 'F' {
			return Match{Letter: string(l), Rule: "scan_a_to_f"}, true
		}
	}
	return Match{Letter: string(letters[0]), Rule: "scan_first"}, true
}

// ExtractLetterStrict is the single-letter strategy used on chain-of-thought
// output. The input is trimmed first, and unlike ExtractLetter the final scan
// only accepts letters A–F.
func ExtractLetterStrict(text string) (string, bool) {
	m, ok := MatchLetterStrict(text)
	return m.Letter, ok
}

// MatchLetterStrict is ExtractLetterStrict that also reports the rule.
func MatchLetterStrict(text string) (Match, bool) {
	text = strings.TrimSpace(fold(text))

	for _, r := range strictRules {
		subject := text
		if r.name == "isolated_letter" {
			subject = " " + text + " "
		}
		if sm := r.pattern.FindStringSubmatch(subject); sm != nil {
			return Match{Letter: strings.ToUpper(sm[1]), Rule: r.name}, true
		}
	}

	for _, l := range asciiLetters(text) {
		if l >= 'A' && l <= 'F' {
			return Match{Letter: string(l), Rule: "scan_a_to_f"}, true
		}
	}
	return Match{}, false
}

// fold maps the full-width ASCII block (Ａ, ：, ，) and the ideographic
// space onto their narrow forms. Nothing else is touched, so compatibility
// symbols such as ℃ or ㎏ never turn into letters. The result has the same
// rune count as s.
func fold(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '\uFF01' && r <= '\uFF5E') || r == '\u3000' {
			if n := width.LookupRune(r).Narrow(); n != 0 {
				return n
			}
		}
		return r
	}, s)
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// asciiLetters returns the upper-cased ASCII letters of s in order. Other
// alphabetic runes (CJK, accented) are skipped since they can never be an
// option letter.
func asciiLetters(s string) []rune {
	var out []rune
	for _, r := range s {
		if isASCIILetter(r) {
			out = append(out, unicode.ToUpper(r))
		}
	}
	return out
}
