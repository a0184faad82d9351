package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokensKnownInputs(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 2},    // 3 alpha / 3 = 1, *1.04 = 1.04 -> ceil 2
		{"!!!", 4},    // 3 symbols * 1 = 3, *1.04 = 3.12 -> ceil 4
	}
	for _, tc := range cases {
		got := EstimateTokens(tc.text)
		assert.Equal(t, tc.want, got, "text=%q", tc.text)
	}
}

func TestEstimateTokensScalesWithLength(t *testing.T) {
	short := EstimateTokens("hello world")
	long := EstimateTokens("hello world hello world hello world")
	assert.Greater(t, long, short)
}

func TestEstimateTokensWhitespaceAbsorbedWithAlpha(t *testing.T) {
	// 9 letters + 2 spaces absorb at the same 3-per-unit rate as 11
	// letters alone: both total 11/3 before scaling.
	withSpaces := EstimateTokens("aaa aaa aaa")
	elevenLetters := EstimateTokens("aaaaaaaaaaa")
	assert.Equal(t, elevenLetters, withSpaces)
}
