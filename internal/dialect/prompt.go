package dialect

import (
	"fmt"
	"strings"

	"github.com/chris/wikichat/internal/tools"
)

const qwen2Template = `You are Qwen, created by Alibaba Cloud. You are a helpful assistant.

# Tools

You may call a function to assist with the user query.

You are provided with function signatures within <tools></tools> XML tags:
<tools>
{{.Tools}}
</tools>

For a function call, return a json object with function name and arguments within {{.CallOpen}}{{.CallClose}} XML tags:
{{.CallOpen}}
{"name": <function-name>, "{{.ArgumentsKey}}": <args-json-object>}
{{.CallClose}}

Call at most one function per turn and wait for its result before continuing.
Never invent function results. If no function is needed, answer directly.
`

const hermesStyleTemplate = `You are a helpful assistant.

# Tools

You may call a function to assist with the user query.

You are provided with function signatures within <tools></tools> XML tags:
<tools>
{{.Tools}}
</tools>

For a function call, return a json object with function name and arguments within {{.CallOpen}}{{.CallClose}} XML tags:
{{.CallOpen}}
{"name": <function-name>, "{{.ArgumentsKey}}": <args-json-object>}
{{.CallClose}}

Call at most one function per turn and wait for its result before continuing.
Never invent function results. If no function is needed, answer directly.
`

const hermesTemplate = `You are a function calling AI model. You are provided with function signatures within <tools></tools> XML tags. You may call one of these functions to assist with the user query. Don't make assumptions about what values to plug into functions. Here are the available tools: <tools>
{{.Tools}}
</tools>
Use the following pydantic model json schema for each tool call you will make: {"properties": {"{{.ArgumentsKey}}": {"title": "Arguments", "type": "object"}, "name": {"title": "Name", "type": "string"}}, "required": ["{{.ArgumentsKey}}", "name"], "title": "FunctionCall", "type": "object"}
For a function call return a json object with function name and arguments within {{.CallOpen}}{{.CallClose}} XML tags as follows:
{{.CallOpen}}
{"{{.ArgumentsKey}}": <args-dict>, "name": <function-name>}
{{.CallClose}}
Only call one function per turn and wait for the {{.ResultOpen}} before answering. Never fabricate a function result.
`

const llama3Template = `Environment: ipython

You have access to the following functions:

{{.Tools}}

If you choose to call a function ONLY reply in the following format with no prefix or suffix:

{{.CallOpen}}{"name": function name, "{{.ArgumentsKey}}": dictionary of argument name and its value}{{.CallClose}}

Reminder:
- Function calls MUST follow the specified format, start with {{.CallOpen}} and end with {{.CallClose}}
- Required parameters MUST be specified
- Only call one function at a time
- Put the entire function call reply on one line
- Never make up a function result; wait for it to be returned
- If there is no function call available, answer the question like normal with your current knowledge and do not tell the user about function calls
`

type promptData struct {
	Tools        string
	CallOpen     string
	CallClose    string
	ArgumentsKey string
	ResultOpen   string
}

// BuildSystemPrompt substitutes the serialized catalog into the profile's template.
func BuildSystemPrompt(p *Profile, catalog *tools.Catalog) (string, error) {
	resultOpen := strings.TrimSpace(p.ResultOpen)
	if resultOpen == "" {
		resultOpen = "function result"
	}
	var b strings.Builder
	err := p.tmpl.Execute(&b, promptData{
		Tools:        catalog.Serialize(p.CatalogStyle),
		CallOpen:     p.CallOpen,
		CallClose:    p.CallClose,
		ArgumentsKey: p.ArgumentsKey,
		ResultOpen:   resultOpen,
	})
	if err != nil {
		return "", fmt.Errorf("rendering %s system prompt: %w", p.ID, err)
	}
	return b.String(), nil
}
