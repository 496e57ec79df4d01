// Package links splits message text into plain and hyperlink spans.
package links

import (
	"regexp"
	"strings"
)

// Span is either plain text or a hyperlink. Href is empty for plain text.
type Span struct {
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// IsLink reports whether the span is a hyperlink.
func (s Span) IsLink() bool {
	return s.Href != ""
}

// bareDomainTLDs is the allow-list of top-level domains linked without a scheme.
var bareDomainTLDs = []string{
	"gov", "com", "org", "net", "edu", "mil", "us", "ca", "uk", "info", "io", "co",
	"ai", "app", "dev", "tech", "online", "site", "website", "blog", "shop", "store",
	"biz", "me",
}

var (
	protocolPattern   = regexp.MustCompile(`https?://[^\s]+`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9._-]+\.[a-zA-Z0-9_-]+`)
	bareDomainPattern = regexp.MustCompile(`(?i)\b[a-zA-Z0-9][-a-zA-Z0-9]*\.(?:` + strings.Join(bareDomainTLDs, "|") + `)(?:/[^\s]*)?\b`)
)

type pass struct {
	pattern *regexp.Regexp
	href    func(match string) string
}

// Passes run in order; each one only scans text no earlier pass claimed.
var passes = []pass{
	{pattern: protocolPattern, href: func(m string) string { return m }},
	{pattern: emailPattern, href: func(m string) string { return "mailto:" + m }},
	{pattern: bareDomainPattern, href: func(m string) string { return "https://" + m }},
}

// Format splits text into spans. Concatenating the Text of every span yields
// the input unchanged. Empty input yields no spans.
func Format(text string) []Span {
	spans := []Span{{Text: text}}
	for _, p := range passes {
		spans = p.apply(spans)
	}
	return spans
}

func (p pass) apply(in []Span) []Span {
	out := make([]Span, 0, len(in))
	for _, span := range in {
		if span.IsLink() {
			out = append(out, span)
			continue
		}

		last := 0
		for _, loc := range p.pattern.FindAllStringIndex(span.Text, -1) {
			if loc[0] > last {
				out = append(out, Span{Text: span.Text[last:loc[0]]})
			}
			match := span.Text[loc[0]:loc[1]]
			out = append(out, Span{Text: match, Href: p.href(match)})
			last = loc[1]
		}
		if last < len(span.Text) {
			out = append(out, Span{Text: span.Text[last:]})
		}
	}
	return out
}
