package llm

import "github.com/chris/wikichat/internal/conversation"

// charsPerToken is the average number of characters per token.
// Real tokenizers vary; 4 chars/token is close enough for English text
// and for context budgeting.
const charsPerToken = 4

// EstimateTokens returns a rough token count for a string.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken // round up
}

// EstimateTurnTokens returns the estimated token count for a single turn,
// including per-turn overhead (role, framing).
func EstimateTurnTokens(t conversation.Turn) int {
	tokens := 4 // role tokens, delimiters
	tokens += EstimateTokens(t.Content)
	if t.CallID > 0 {
		tokens += 2 // call id framing
	}
	return tokens
}

// EstimateTurnsTokens returns the total estimated tokens for a slice of turns.
func EstimateTurnsTokens(turns []conversation.Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTurnTokens(t)
	}
	return total
}
