package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chris/wikichat/internal/llm"
)

func TestUsageLine(t *testing.T) {
	if got := usageLine(llm.Usage{}); got != "" {
		t.Errorf("empty usage = %q", got)
	}

	got := usageLine(llm.Usage{PromptTokens: 1234, CompletionTokens: 56, PrefillTokensPerSec: 2048.5, DecodeTokensPerSec: 21.5})
	want := "prompt: 1,234 tokens, completion: 56 tokens, prefill: 2,048.5 tokens/sec, decoding: 21.5 tokens/sec"
	if got != want {
		t.Errorf("usageLine = %q\nwant %q", got, want)
	}

	got = usageLine(llm.Usage{PromptTokens: 10, CompletionTokens: 2})
	if strings.Contains(got, "tokens/sec") {
		t.Errorf("throughput shown without measurements: %q", got)
	}
}

func TestTerminalPresenterStreamsSuffixes(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPresenter(&out)

	p.BeginTurn()
	p.Delta("Rome ")
	p.Delta("Rome is ")
	p.Delta("Rome is old.")
	p.FinishTurn("Rome is old.", llm.Usage{})

	if got := out.String(); strings.Count(got, "Rome") != 1 {
		t.Errorf("streamed text repeated:\n%s", got)
	}
	if !strings.Contains(out.String(), "Rome is old.") {
		t.Errorf("output missing reply:\n%s", out.String())
	}
}

func TestTerminalPresenterCallDisplay(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPresenter(&out)

	p.BeginTurn()
	p.Delta("<tool_call>{}</tool_call>")
	p.FinishTurn(`func call: fetch_wikipedia_content({"search_query":"Rome"})`, llm.Usage{})
	p.Working()
	p.ToolResult("fetch_wikipedia_content", strings.Repeat("x", resultPreview+50))

	got := out.String()
	for _, want := range []string{
		"func call: fetch_wikipedia_content",
		"working...",
		"func result (fetch_wikipedia_content):",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, strings.Repeat("x", resultPreview+1)) {
		t.Error("long result was not truncated")
	}
}

func TestTerminalPresenterAppendedNotice(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPresenter(&out)

	p.BeginTurn()
	p.Delta("partial answer")
	p.FinishTurn("partial answer\n\nI hit the limit.", llm.Usage{})

	got := out.String()
	if strings.Count(got, "partial answer") != 1 {
		t.Errorf("streamed text repeated:\n%s", got)
	}
	if !strings.Contains(got, "I hit the limit.") {
		t.Errorf("notice missing:\n%s", got)
	}
}
