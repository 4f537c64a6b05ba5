package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLetter(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     string
		wantOK   bool
		wantRule string
	}{
		{"single upper", "B", "B", true, "single_letter"},
		{"single lower", "c", "C", true, "single_letter"},
		{"full width single", "Ｄ", "D", true, "single_letter"},
		{"option prefix zh", "我认为选项 C 最合适", "C", true, "option_prefix"},
		{"option suffix zh", "应该是B选项", "B", true, "option_suffix"},
		{"choose zh", "选择D", "D", true, "choose"},
		{"answer en", "Answer: E", "E", true, "answer_en"},
		{"answer en lower", "answer:a", "A", true, "answer_en"},
		{"answer zh full width colon", "答案：C", "C", true, "answer_zh"},
		{"leading letter", "A. 'located in' fits best", "A", true, "leading_letter"},
		{"isolated letter", "the best is (B) here", "B", true, "isolated_letter"},
		{"isolated before more suitable", "这里C更合适", "C", true, "isolated_letter"},
		{"more suitable", "xC更合适", "C", true, "more_suitable"},
		{"scan prefers A to F", "xyzEq", "E", true, "scan_a_to_f"},
		{"scan first letter", "xyz", "X", true, "scan_first"},
		{"no letters", "1234 \u2014\u2014 \uFF01", "", false, ""},
		{"celsius sign is not a letter", "30\u2103", "", false, ""},
		{"kilogram sign is not a letter", "5\u338F", "", false, ""},
		{"trade mark and roman numeral", "\u2122 \u2163", "", false, ""},
		{"full width answer marker", "\uFF21\uFF4E\uFF53\uFF57\uFF45\uFF52\uFF1A\uFF42", "B", true, "answer_en"},
		{"empty", "", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MatchLetter(tt.text)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, m.Letter)
			assert.Equal(t, tt.wantRule, m.Rule)

			letter, ok2 := ExtractLetter(tt.text)
			assert.Equal(t, ok, ok2)
			assert.Equal(t, m.Letter, letter)
		})
	}
}

// The localized markers must win over positional guesses even when an
// isolated letter appears earlier in the text.
func TestExtractLetterPrecedence(t *testing.T) {
	letter, ok := ExtractLetter("I think, Answer: D")
	require.True(t, ok)
	assert.Equal(t, "D", letter)
}

func TestExtractLetterStrict(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     string
		wantOK   bool
		wantRule string
	}{
		{"single letter trimmed", "  b \n", "B", true, "single_letter"},
		{"answer zh", "答案: F", "F", true, "answer_zh"},
		{"more suitable before isolated", "(B) 但是xA更合适", "A", true, "more_suitable"},
		{"isolated", "so (C) it is", "C", true, "isolated_letter"},
		{"scan only a to f", "xyz", "", false, ""},
		{"scan a to f", "xyzb", "B", true, "scan_a_to_f"},
		{"nothing", "！？", "", false, ""},
		{"temperature", "\u6e29\u5ea6\u4e3a300\u2103", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MatchLetterStrict(tt.text)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, m.Letter)
			assert.Equal(t, tt.wantRule, m.Rule)
		})
	}
}

func TestExtractCoTAnswer(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantLetter     string
		wantConfidence float64
		wantReasoning  string
	}{
		{
			name:           "final answer en",
			text:           "The relation describes location.\nBoth candidates are close.\nFinal Answer: D\n",
			wantLetter:     "D",
			wantConfidence: 1.0,
			wantReasoning:  "The relation describes location.\nBoth candidates are close.",
		},
		{
			name:           "final answer zh",
			text:           "分析：两者含义相同。\n最终答案：B",
			wantLetter:     "B",
			wantConfidence: 1.0,
			wantReasoning:  "分析：两者含义相同。",
		},
		{
			name:           "answer en",
			text:           "Reasoning goes here.\nAnswer: c",
			wantLetter:     "C",
			wantConfidence: 0.9,
			wantReasoning:  "Reasoning goes here.",
		},
		{
			name:           "answer zh",
			text:           "理由如上。答案: A",
			wantLetter:     "A",
			wantConfidence: 0.9,
			wantReasoning:  "理由如上。",
		},
		{
			name:           "last line",
			text:           "First thought.\nSecond thought.\n\nB",
			wantLetter:     "B",
			wantConfidence: 0.7,
			wantReasoning:  "First thought.\nSecond thought.",
		},
		{
			name:           "full text",
			text:           "(E) seems right\n我不确定",
			wantLetter:     "E",
			wantConfidence: 0.5,
			wantReasoning:  "(E) seems right\n我不确定",
		},
		{
			name:           "full width final answer",
			text:           "推理过程。\n最终答案：\uFF22",
			wantLetter:     "B",
			wantConfidence: 1.0,
			wantReasoning:  "推理过程。",
		},
		{
			name:           "reasoning keeps full width text",
			text:           "分析：\uFF21和\uFF22相近。\nFinal Answer\uFF1A\uFF23",
			wantLetter:     "C",
			wantConfidence: 1.0,
			wantReasoning:  "分析：\uFF21和\uFF22相近。",
		},
		{
			name:           "celsius sign",
			text:           "温度为300\u2103",
			wantLetter:     "",
			wantConfidence: 0.0,
			wantReasoning:  "温度为300\u2103",
		},
		{
			name:           "kilogram sign",
			text:           "重量约5\u338F\n无法判断",
			wantLetter:     "",
			wantConfidence: 0.0,
			wantReasoning:  "重量约5\u338F\n无法判断",
		},
		{
			name:           "no letter",
			text:           "无法判断。\n？",
			wantLetter:     "",
			wantConfidence: 0.0,
			wantReasoning:  "无法判断。\n？",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCoTAnswer(tt.text)
			assert.Equal(t, tt.wantLetter, got.Letter)
			assert.Equal(t, tt.wantLetter != "", got.Found())
			assert.InDelta(t, tt.wantConfidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantReasoning, got.Reasoning)
		})
	}
}

// Without an explicit marker the answer can only come from the positional
// tiers, never from the 1.0 or 0.9 marker tiers.
func TestExtractCoTAnswerWithoutMarker(t *testing.T) {
	got := ExtractCoTAnswer("I think option B is correct because...")
	require.True(t, got.Found())
	assert.Contains(t, []float64{ConfidenceLastLine, ConfidenceFullText}, got.Confidence)
}

func TestExtractCoTAnswerPrefersFinalOverAnswer(t *testing.T) {
	got := ExtractCoTAnswer("Answer: A might be tempting.\nFinal Answer: C")
	assert.Equal(t, "C", got.Letter)
	assert.Equal(t, ConfidenceFinalAnswer, got.Confidence)
	assert.Equal(t, "Answer: A might be tempting.", got.Reasoning)
}
