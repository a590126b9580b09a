package dialect

import "strings"

type Kind int

const (
	KindNone Kind = iota
	KindCall
)

func (k Kind) String() string {
	if k == KindCall {
		return "call"
	}
	return "none"
}

// Detection classifies a completed assistant message.
type Detection struct {
	Kind Kind
	Raw  string // the call envelope, from the open marker to the end
	// Trailing is set when conversational text precedes the call.
	Trailing  bool
	Preamble  string
	Reasoning string
}

// Detect classifies a finished message. It runs in two stages: an optional
// leading reasoning block is split off, then the remainder is tested for a
// call at its start, or for a complete call envelope anchored at its end.
func (p *Profile) Detect(text string) Detection {
	reasoning, rest := p.splitReasoning(text)
	rest = p.stripLeadingMarkers(strings.TrimSpace(rest))
	d := Detection{Reasoning: reasoning}

	if strings.HasPrefix(rest, p.CallOpen) {
		d.Kind = KindCall
		d.Raw = rest
		return d
	}

	tail := p.stripEndMarkers(rest)
	if !strings.HasSuffix(tail, p.CallClose) {
		return d
	}
	body := tail[:len(tail)-len(p.CallClose)]
	open := strings.LastIndex(body, p.CallOpen)
	if open < 0 {
		return d
	}
	d.Kind = KindCall
	d.Trailing = true
	d.Raw = tail[open:]
	d.Preamble = p.stripTrailingMarkers(strings.TrimSpace(tail[:open]))
	return d
}

// splitReasoning removes one leading reasoning block.
func (p *Profile) splitReasoning(text string) (reasoning, rest string) {
	if p.reasoning == nil {
		return "", text
	}
	m := p.reasoning.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text
	}
	return strings.TrimSpace(text[m[2]:m[3]]), text[m[1]:]
}

func (p *Profile) stripLeadingMarkers(s string) string {
	for {
		trimmed := s
		for _, m := range p.LeadingMarkers {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, m))
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// stripTrailingMarkers drops leading markers that ended up at the end of a
// preamble, i.e. right before a trailing call.
func (p *Profile) stripTrailingMarkers(s string) string {
	for {
		trimmed := s
		for _, m := range p.LeadingMarkers {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, m))
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

func (p *Profile) stripEndMarkers(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := s
		for _, m := range p.EndMarkers {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, m))
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}
