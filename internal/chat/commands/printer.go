package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/kgellert/hodatay-classroom/internal/chat/dategroup"
	"github.com/kgellert/hodatay-classroom/internal/messages"
)

func printGroups(w io.Writer, groups []dategroup.Group) {
	for i, g := range groups {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "── %s ──\n", g.Label)
		for _, m := range g.Messages {
			_, _ = fmt.Fprintln(w, formatMessage(m))
		}
	}
}

func formatMessage(m messages.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  #%d  %s", m.CreatedAt.Local().Format("15:04"), m.AuthorID, m.Text)

	for _, a := range m.Attachments {
		fmt.Fprintf(&b, " [%s]", a.Filename)
	}
	if m.Edited {
		b.WriteString(" (edited)")
	}
	switch m.Status {
	case messages.StatusPending:
		b.WriteString(" …")
	case messages.StatusFailed:
		b.WriteString(" (failed)")
	}

	var order []string
	counts := make(map[string]int)
	for _, r := range m.Reactions {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}
	for _, emoji := range order {
		fmt.Fprintf(&b, " %s%d", emoji, counts[emoji])
	}

	return b.String()
}
