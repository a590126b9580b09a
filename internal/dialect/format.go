package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/chris/wikichat/internal/conversation"
	"github.com/chris/wikichat/internal/tools"
)

// FormatResult wraps a tool result in the profile's response envelope.
// None of the supported envelopes repeat the function name.
func (p *Profile) FormatResult(_ ParsedCall, resultJSON string, callID int) conversation.Turn {
	return conversation.Turn{
		Role:    p.ResultRole,
		Content: p.ResultOpen + resultJSON + p.ResultClose,
		CallID:  callID,
	}
}

// WireTurns returns turns as the server should receive them. A result the
// profile already wrapped in its envelope goes out as a user turn, so the
// server's chat template neither wraps it again nor looks for a native
// tool_calls entry to pair it with. Envelope-less results (llama3's
// ipython) keep their role.
func (p *Profile) WireTurns(turns []conversation.Turn) []conversation.Turn {
	if p.ResultOpen == "" {
		return turns
	}
	out := make([]conversation.Turn, len(turns))
	for i, t := range turns {
		if t.IsToolResult() {
			t.Role = conversation.RoleUser
		}
		out[i] = t
	}
	return out
}

// FormatParseError renders a parse failure as a result turn so the model
// can correct itself.
func (p *Profile) FormatParseError(perr *ParseError, callID int) conversation.Turn {
	res := tools.ErrorResult(fmt.Sprintf("%s. Reply with a single %s{\"name\": ..., \"%s\": {...}}%s envelope.",
		perr.Error(), p.CallOpen, p.ArgumentsKey, p.CallClose))
	return p.FormatResult(ParsedCall{}, res.JSON(), callID)
}

// FormatCall renders a call the way the profile's prompt teaches it.
func (p *Profile) FormatCall(call ParsedCall) (string, error) {
	name, err := json.Marshal(call.Name)
	if err != nil {
		return "", err
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding arguments: %w", err)
	}
	key, _ := json.Marshal(p.ArgumentsKey)

	var body string
	if p.NameFirst {
		body = fmt.Sprintf(`{"name": %s, %s: %s}`, name, key, argsJSON)
	} else {
		body = fmt.Sprintf(`{%s: %s, "name": %s}`, key, argsJSON, name)
	}
	return p.CallOpen + p.CallPadding + body + p.CallPadding + p.CallClose, nil
}
