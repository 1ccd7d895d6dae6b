package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/parley/internal/cli"
	"github.com/drewfead/parley/internal/groupchat"
	"github.com/drewfead/parley/internal/protocol"
	"github.com/drewfead/parley/internal/transcript"
)

var senderBadge = map[string]lipgloss.Style{
	"claude": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
	"codex":  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
	"gemini": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
}

var defaultBadge = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))

func badge(agent, name string) string {
	style, ok := senderBadge[agent]
	if !ok {
		style = defaultBadge
	}
	return style.Render(cli.SpeakerTag + " " + name)
}

func printDelivery(d groupchat.Delivery) {
	fmt.Println()
	fmt.Println(badge(d.Agent, d.Sender))
	fmt.Println(d.Text)
	if d.Usage != nil {
		fmt.Println(cli.GrayText(fmt.Sprintf("  %d tokens", d.Usage.TotalTokens())))
	}
}

// printParsed renders one normalized event for the single-session view.
// Partial text streams inline; everything else gets its own line.
func printParsed(ev *protocol.Event) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case protocol.EventText:
		if ev.IsPartial {
			fmt.Print(ev.Text)
		} else if ev.Text != "" {
			fmt.Println(ev.Text)
		}
	case protocol.EventToolUse:
		switch ev.ToolStatus {
		case protocol.ToolRunning:
			fmt.Println(cli.CyanText(fmt.Sprintf("%s %s running", cli.Circle, ev.ToolName)))
		case protocol.ToolCompleted:
			fmt.Println(cli.GreenText(fmt.Sprintf("%s %s done", cli.CheckMark, ev.ToolName)))
		}
	case protocol.EventInit:
		if ev.SessionID != "" {
			fmt.Println(cli.GrayText("session " + ev.SessionID))
		}
	case protocol.EventResult:
		if ev.IsError && ev.Text != "" {
			fmt.Println(cli.RedText(ev.Text))
		}
	case protocol.EventError:
		fmt.Println(cli.RedText(ev.Text))
	}
}

func printUsageSummary(u *protocol.UsageStats) {
	if u == nil || (u.TotalTokens() == 0 && u.CostUSD == 0) {
		return
	}
	line := fmt.Sprintf("tokens: %d in / %d out", u.InputTokens, u.OutputTokens)
	if u.CacheReadTokens > 0 {
		line += fmt.Sprintf(" / %d cached", u.CacheReadTokens)
	}
	if u.CostUSD > 0 {
		line += fmt.Sprintf("  cost: $%.4f", u.CostUSD)
	}
	fmt.Println(cli.GrayText(line))
}

// renderTranscript formats stored messages as markdown and renders it for
// the terminal.
func renderTranscript(msgs []*transcript.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", msg.Sender, msg.Text)
	}
	return renderMarkdown(b.String())
}

func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
