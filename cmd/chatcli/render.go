package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/thereayou/clubchat/internal/client"
	"github.com/thereayou/clubchat/internal/models"
)

// renderer prints a view incrementally: only lines it has not printed in
// exactly this form are written.
type renderer struct {
	out       io.Writer
	now       func() time.Time
	printed   map[string]bool
	lastGroup string
	typing    string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, now: time.Now, printed: make(map[string]bool)}
}

func (r *renderer) render(v client.View) {
	for _, g := range v.Groups(r.now()) {
		for _, e := range g.Entries {
			line := formatEntry(e)
			if r.printed[line] {
				continue
			}
			if g.Key != r.lastGroup {
				fmt.Fprintf(r.out, "-- %s --\n", g.Label)
				r.lastGroup = g.Key
			}
			fmt.Fprintln(r.out, line)
			r.printed[line] = true
		}
	}

	typing := strings.Join(v.Typing, ", ")
	if typing != r.typing {
		r.typing = typing
		switch len(v.Typing) {
		case 0:
		case 1:
			fmt.Fprintf(r.out, "* %s is typing\n", typing)
		default:
			fmt.Fprintf(r.out, "* %s are typing\n", typing)
		}
	}
}

func (r *renderer) notice(n client.Notice) {
	msg := n.Message
	if n.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry in %s)", msg, n.RetryAfter)
	}
	fmt.Fprintf(r.out, "! %s\n", msg)
}

func formatEntry(e client.Entry) string {
	m := e.Message
	prefix := "   "
	if ref, ok := e.Ref.(client.ServerRef); ok {
		prefix = fmt.Sprintf("#%d", ref.ID)
	}

	body := m.Body
	switch models.LifecycleState(m.State) {
	case models.StateUnsent:
		body = "(message unsent)"
	case models.StateEdited:
		body += " (edited)"
	}
	if m.ReplyTo != nil {
		body = fmt.Sprintf("[re #%d %s] %s", m.ReplyTo.ID, m.ReplyTo.AuthorName, body)
	}

	switch e.Status {
	case client.StatusSending:
		body += " (sending)"
	case client.StatusFailed:
		body += " (failed, /retry)"
	}

	return fmt.Sprintf("%s [%s] %s: %s", prefix, m.CreatedAt.Local().Format("15:04"), m.AuthorName, body)
}
