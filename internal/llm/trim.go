package llm

import "github.com/chris/wikichat/internal/conversation"

// TrimTurns trims a turn log to fit within a token budget.
//
// A leading system turn is always kept and its cost is charged against
// the budget first. The budget should already leave room for the model's
// output.
//
// Strategy:
//  1. Group turns into logical units (a plain turn on its own, or an
//     assistant call turn together with its result turn).
//  2. Always keep the most recent group (the active turn).
//  3. Drop the oldest groups first until the total fits within budget.
//
// Call/result pairs are never split: either the whole exchange stays or goes.
func TrimTurns(turns []conversation.Turn, maxTokens int) []conversation.Turn {
	if len(turns) == 0 {
		return turns
	}

	var system []conversation.Turn
	rest := turns
	if turns[0].Role == conversation.RoleSystem {
		system = turns[:1]
		rest = turns[1:]
		maxTokens -= EstimateTurnTokens(turns[0])
	}
	if len(rest) == 0 {
		return turns
	}

	groups := groupTurns(rest)

	total := 0
	for _, g := range groups {
		total += g.tokens
	}

	if total <= maxTokens {
		return turns
	}

	// Always keep the last group (active turn). Trim from the front.
	kept := total
	dropUntil := 0
	for dropUntil < len(groups)-1 && kept > maxTokens {
		kept -= groups[dropUntil].tokens
		dropUntil++
	}

	trimmed := append([]conversation.Turn{}, system...)
	for _, g := range groups[dropUntil:] {
		trimmed = append(trimmed, g.turns...)
	}
	return trimmed
}

// turnGroup is a logical unit of conversation that must be kept or
// dropped as a whole.
type turnGroup struct {
	turns  []conversation.Turn
	tokens int
}

// groupTurns splits a turn slice into logical groups:
//
//   - An assistant call turn plus the result turns carrying the same
//     call id form a single group.
//   - Any other turn is its own group.
func groupTurns(turns []conversation.Turn) []turnGroup {
	var groups []turnGroup
	i := 0
	for i < len(turns) {
		t := turns[i]

		if t.IsCall() {
			group := turnGroup{}
			group.turns = append(group.turns, t)
			group.tokens += EstimateTurnTokens(t)
			i++
			for i < len(turns) && turns[i].IsToolResult() && turns[i].CallID == t.CallID {
				group.turns = append(group.turns, turns[i])
				group.tokens += EstimateTurnTokens(turns[i])
				i++
			}
			groups = append(groups, group)
			continue
		}

		groups = append(groups, turnGroup{
			turns:  []conversation.Turn{t},
			tokens: EstimateTurnTokens(t),
		})
		i++
	}
	return groups
}
