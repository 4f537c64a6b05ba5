package source

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SelectPassage narrows a long document to the sentences around the
// triplet's subject and object, at most maxLen characters. Text that
// already fits, or a maxLen below one, is returned unchanged. When no
// sentence mentions the triplet the leading maxLen characters are used.
func SelectPassage(text string, triplet [3]string, maxLen int) string {
	text = strings.TrimSpace(text)
	if maxLen < 1 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	entities := []string{strings.ToLower(triplet[0]), strings.ToLower(triplet[2])}
	keywords := significantWords(triplet[0] + " " + triplet[1] + " " + triplet[2])

	scores := make([]int, len(sentences))
	best := -1
	for i, s := range sentences {
		scores[i] = sentenceScore(s, entities, keywords)
		if scores[i] > 0 && (best < 0 || scores[i] > scores[best]) {
			best = i
		}
	}
	if best < 0 {
		return truncateRunes(text, maxLen)
	}

	// Grow the window one neighbour at a time, preferring the higher
	// scoring side, until the next sentence would not fit.
	lo, hi := best, best
	size := utf8.RuneCountInString(sentences[best])
	if size > maxLen {
		return truncateRunes(sentences[best], maxLen)
	}
	for {
		next := -1
		switch {
		case lo > 0 && hi+1 < len(sentences):
			next = lo - 1
			if scores[hi+1] > scores[lo-1] {
				next = hi + 1
			}
		case lo > 0:
			next = lo - 1
		case hi+1 < len(sentences):
			next = hi + 1
		}
		if next < 0 {
			break
		}
		add := utf8.RuneCountInString(sentences[next]) + 1
		if size+add > maxLen {
			break
		}
		size += add
		if next < lo {
			lo = next
		} else {
			hi = next
		}
	}
	return strings.Join(sentences[lo:hi+1], " ")
}

func sentenceScore(sentence string, entities []string, keywords map[string]bool) int {
	lower := strings.ToLower(sentence)
	score := 0
	for _, e := range entities {
		if e = strings.TrimSpace(e); e != "" && strings.Contains(lower, e) {
			score += 3
		}
	}
	for w := range significantWords(sentence) {
		if keywords[w] {
			score++
		}
	}
	return score
}

// significantWords returns the set of lowercased words of four or more
// characters, excluding common stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(w) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

// splitSentences splits at ., ? and ! followed by whitespace or the end of
// text, and after every full-width 。！？ terminator.
func splitSentences(text string) []string {
	var (
		sentences []string
		cur       strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		switch r {
		case '\u3002', '\uFF01', '\uFF1F':
			flush()
		case '.', '?', '!':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return sentences
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"your": true, "more": true, "some": true, "such": true,
	"only": true, "also": true, "very": true, "just": true,
	"into": true, "over": true, "each": true, "does": true,
	"most": true, "after": true, "before": true, "other": true,
	"being": true, "same": true, "both": true, "between": true,
}
