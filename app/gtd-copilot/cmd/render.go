package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/cchalm/gtd-copilot/internal/chat"
	"github.com/cchalm/gtd-copilot/internal/items"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	proposalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	confirmationStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)
)

// renderer writes thread changes to a terminal. Streaming text is written as it grows; every other message is written
// once.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	printed  map[string]int    // Bytes of assistant text already written, by message id
	finished map[string]bool   // Assistant text messages that stopped streaming
	statuses map[string]string // Last written state of other messages, by message id
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:      out,
		printed:  map[string]int{},
		finished: map[string]bool{},
		statuses: map[string]string{},
	}
}

// replay writes a restored history, including the user's own messages
func (r *renderer) replay(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if m.Kind == chat.KindUserText {
			fmt.Fprintf(r.out, "%s %s\n", userStyle.Render("you:"), m.Text)
			continue
		}
		r.renderMessage(msgs, m)
	}
}

// render is subscribed to the thread
func (r *renderer) render(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.renderMessage(msgs, m)
	}
}

func (r *renderer) renderMessage(msgs []chat.Message, m chat.Message) {
	switch m.Kind {
	case chat.KindAssistantText:
		if r.finished[m.ID] {
			return
		}
		done, started := r.printed[m.ID]
		if !started {
			fmt.Fprintf(r.out, "%s ", assistantStyle.Render("assistant:"))
		}
		if len(m.Text) > done {
			io.WriteString(r.out, m.Text[done:])
			r.printed[m.ID] = len(m.Text)
		} else if !started {
			r.printed[m.ID] = 0
		}
		if !m.Streaming {
			io.WriteString(r.out, "\n")
			r.finished[m.ID] = true
		}
	case chat.KindProposal:
		if r.statuses[m.ID] == string(m.Status) {
			return
		}
		r.statuses[m.ID] = string(m.Status)
		fmt.Fprintln(r.out, formatProposal(proposalNumber(msgs, m.ID), m))
	case chat.KindConfirmation:
		r.once(m.ID, confirmationStyle.Render("✓ "+m.Text))
	case chat.KindErrorNotice:
		r.once(m.ID, errorStyle.Render("! "+m.Text))
	}
}

func (r *renderer) once(id string, line string) {
	if _, ok := r.statuses[id]; ok {
		return
	}
	r.statuses[id] = "shown"
	fmt.Fprintln(r.out, line)
}

func formatProposal(n int, m chat.Message) string {
	title := ""
	kind := ""
	if m.Suggestion != nil {
		title = m.Suggestion.Title()
		kind = string(m.Suggestion.Kind)
	}
	line := fmt.Sprintf("[%d] %s %s", n, title, mutedStyle.Render("("+kind+")"))
	switch m.Status {
	case chat.StatusPending:
		return proposalStyle.Render("proposal") + " " + line
	case chat.StatusAccepted:
		return confirmationStyle.Render("accepted") + " " + line
	default:
		return mutedStyle.Render(string(m.Status)) + " " + line
	}
}

// proposalNumber returns the 1-based position of a proposal among all proposals of the thread
func proposalNumber(msgs []chat.Message, id string) int {
	n := 0
	for _, m := range msgs {
		if m.Kind != chat.KindProposal {
			continue
		}
		n++
		if m.ID == id {
			return n
		}
	}
	return 0
}

// proposalByNumber is the inverse of proposalNumber
func proposalByNumber(msgs []chat.Message, n int) (chat.Message, bool) {
	i := 0
	for _, m := range msgs {
		if m.Kind != chat.KindProposal {
			continue
		}
		i++
		if i == n {
			return m, true
		}
	}
	return chat.Message{}, false
}

func formatItem(it items.Item) string {
	var flags []string
	if it.IsFocused {
		flags = append(flags, "★")
	}
	if it.Completed {
		flags = append(flags, "✓")
	}
	if items.IsTempID(it.ID) {
		flags = append(flags, "saving")
	}
	line := fmt.Sprintf("%-10s %-9s %s", it.Bucket, it.Type, it.Name)
	if len(flags) > 0 {
		line += " " + strings.Join(flags, " ")
	}
	return mutedStyle.Render(it.ID) + "  " + line
}
