package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestShrinkingRespectsBudgetAndPriorityOrder covers 10 sub-prompts,
// priorities 10..100 step 10, budget 300. After shrinking, the total
// must fit budget+margin, and no priority-100 sub-prompt may be
// removed while a priority-10 one survives.
func TestShrinkingRespectsBudgetAndPriorityOrder(t *testing.T) {
	var p Prompt
	for i := 1; i <= 10; i++ {
		p.SubPrompts = append(p.SubPrompts, SubPrompt{
			Kind:     KindContent,
			Role:     RoleUser,
			Text:     strings.Repeat("a", 144), // exactly 50 estimated tokens
			Priority: i * 10,
		})
	}
	require.Equal(t, 50, EstimateTokens(strings.Repeat("a", 144)))

	p.RemoveSubPromptsUntilUnderMax(300)

	assert.LessOrEqual(t, p.EstimateTotal()+SafetyMargin, 500)
	assert.NotEmpty(t, p.SubPrompts, "shrinking must not remove every sub-prompt when some combination fits")

	survivingPriorities := map[int]bool{}
	for _, sp := range p.SubPrompts {
		survivingPriorities[sp.Priority] = true
	}
	maxRemoved := 0
	for i := 10; i <= 100; i += 10 {
		if !survivingPriorities[i] {
			maxRemoved = i
		}
	}
	for i := maxRemoved + 10; i <= 100; i += 10 {
		assert.True(t, survivingPriorities[i], "priority %d removed before a lower priority survived", i)
	}
}

func TestRemoveSubPromptsUntilUnderMaxNoOpWhenAlreadyFits(t *testing.T) {
	p := Prompt{SubPrompts: []SubPrompt{{Kind: KindContent, Text: "hi", Priority: 50}}}
	before := len(p.SubPrompts)
	p.RemoveSubPromptsUntilUnderMax(10000)
	assert.Equal(t, before, len(p.SubPrompts))
}

func TestRemoveSubPromptsTiesBreakTowardEnd(t *testing.T) {
	p := Prompt{SubPrompts: []SubPrompt{
		{Kind: KindContent, Text: strings.Repeat("x", 3000), Priority: 5},
		{Kind: KindContent, Text: strings.Repeat("y", 3000), Priority: 5},
	}}
	// one sub-prompt alone fits the budget, both together do not, so
	// exactly one must be removed; the tie resolves toward the end.
	p.RemoveSubPromptsUntilUnderMax(1300)
	require.Len(t, p.SubPrompts, 1)
	assert.Contains(t, p.SubPrompts[0].Text, "x")
}

func TestEnforceAssetLimitsDropsOldestBeyondLimit(t *testing.T) {
	p := Prompt{SubPrompts: []SubPrompt{{
		Kind: KindOmni,
		Role: RoleUser,
		Assets: map[string]string{
			"a": "1", "b": "2", "c": "3", "d": "4", "e": "5",
		},
	}}}

	var dropped []string
	p.EnforceAssetLimits(func(idx int, name string) {
		dropped = append(dropped, name)
	})

	assert.Len(t, p.SubPrompts[0].Assets, TraceAssetLimit)
	assert.Equal(t, []string{"a"}, dropped)
}
