package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/civaigentics/widget/backend/internal/analysis/links"
	"github.com/civaigentics/widget/backend/internal/model/transcript"
	"github.com/civaigentics/widget/backend/internal/service/session"
)

var (
	userStyle   = color.New(color.FgCyan, color.Bold)
	agentStyle  = color.New(color.FgGreen)
	systemStyle = color.New(color.FgHiBlack, color.Italic)
	errorStyle  = color.New(color.FgRed)
	linkStyle   = color.New(color.FgBlue, color.Underline)
	statusStyle = color.New(color.FgYellow)
)

type renderer struct {
	out       io.Writer
	agentName string
}

func (r renderer) entry(index int, e transcript.Entry) {
	switch e.Kind {
	case transcript.KindUser:
		fmt.Fprintf(r.out, "[%d] %s %s\n", index, userStyle.Sprint("you:"), e.Content)
	case transcript.KindAgent:
		fmt.Fprintf(r.out, "[%d] %s %s\n", index, agentStyle.Sprint(r.agentName+":"), formatLinks(e.Content))
	case transcript.KindError:
		fmt.Fprintf(r.out, "[%d] %s\n", index, errorStyle.Sprint(e.Content))
	default:
		fmt.Fprintf(r.out, "[%d] %s\n", index, systemStyle.Sprint(e.Content))
	}
}

func (r renderer) state(s session.State) {
	line := fmt.Sprintf("-- %s", s.Status)
	if activity := s.AgentActivity(); activity != "" {
		line += fmt.Sprintf(" (%s is %s)", r.agentName, activity)
	}
	fmt.Fprintln(r.out, statusStyle.Sprint(line))
}

func (r renderer) errorf(format string, args ...any) {
	fmt.Fprintln(r.out, errorStyle.Sprintf(format, args...))
}

// formatLinks renders detected links as "text <href>" when the href differs
// from the visible text.
func formatLinks(text string) string {
	var b strings.Builder
	for _, span := range links.Format(text) {
		if !span.IsLink() {
			b.WriteString(span.Text)
			continue
		}
		b.WriteString(linkStyle.Sprint(span.Text))
		if span.Href != span.Text {
			b.WriteString(" <" + span.Href + ">")
		}
	}
	return b.String()
}
