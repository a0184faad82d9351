package prompt

import "sort"

// RemoveSubPromptsUntilUnderMax repeatedly removes the sub-prompt with
// the lowest priority from the end of the list, subtracting its
// estimated token contribution, until the total plus the safety margin
// fits under budget. Equal-priority ties break toward the sub-prompt
// closer to the end of the list, matching "from the end" verbatim.
func (p *Prompt) RemoveSubPromptsUntilUnderMax(budget int) {
	for len(p.SubPrompts) > 0 && p.EstimateTotal()+SafetyMargin > budget {
		idx := lowestPriorityFromEnd(p.SubPrompts)
		p.SubPrompts = append(p.SubPrompts[:idx], p.SubPrompts[idx+1:]...)
	}
}

// lowestPriorityFromEnd scans back-to-front so a tie resolves to the
// sub-prompt nearest the end of the list.
func lowestPriorityFromEnd(subPrompts []SubPrompt) int {
	lowest := len(subPrompts) - 1
	for i := len(subPrompts) - 1; i >= 0; i-- {
		if subPrompts[i].Priority < subPrompts[lowest].Priority {
			lowest = i
		}
	}
	return lowest
}

// enforceAssetLimit drops a SubPrompt's oldest assets beyond
// TraceAssetLimit, logging a warning for each drop. Map iteration order
// is not meaningful as an age signal, so callers that care about asset
// age should track insertion order themselves; here "oldest" falls back
// to the lexicographically smallest key for determinism.
func enforceAssetLimit(sp *SubPrompt, warn func(name string)) {
	if len(sp.Assets) <= TraceAssetLimit {
		return
	}
	keys := make([]string, 0, len(sp.Assets))
	for k := range sp.Assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-TraceAssetLimit] {
		warn(k)
		delete(sp.Assets, k)
	}
}

// EnforceAssetLimits applies enforceAssetLimit to every Omni sub-prompt
// in p.
func (p *Prompt) EnforceAssetLimits(warn func(subPromptIndex int, droppedAsset string)) {
	for i := range p.SubPrompts {
		if p.SubPrompts[i].Kind != KindOmni {
			continue
		}
		idx := i
		enforceAssetLimit(&p.SubPrompts[i], func(name string) {
			if warn != nil {
				warn(idx, name)
			}
		})
	}
}
