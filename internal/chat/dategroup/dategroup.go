// Package dategroup buckets an ascending message list by local calendar day.
package dategroup

import (
	"strconv"
	"time"

	"github.com/kgellert/hodatay-classroom/internal/messages"
)

const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"
)

type Group struct {
	Date     time.Time          `json:"date"`
	Label    string             `json:"label"`
	Messages []messages.Message `json:"messages"`
}

// Grouper labels days relative to Now in Location. Zero values fall back to
// time.Now and time.Local.
type Grouper struct {
	Now      func() time.Time
	Location *time.Location
}

func (g Grouper) loc() *time.Location {
	if g.Location == nil {
		return time.Local
	}
	return g.Location
}

func (g Grouper) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Group expects list in ascending order and keeps it within each bucket.
func (g Grouper) Group(list []messages.Message) []Group {
	if len(list) == 0 {
		return []Group{}
	}

	loc := g.loc()
	today := day(g.now(), loc)

	var out []Group
	for _, m := range list {
		d := day(m.CreatedAt, loc)
		if n := len(out); n > 0 && out[n-1].Date.Equal(d) {
			out[n-1].Messages = append(out[n-1].Messages, m)
			continue
		}
		out = append(out, Group{
			Date:     d,
			Label:    Label(d, today),
			Messages: []messages.Message{m},
		})
	}
	return out
}

func day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Label names d relative to today, both truncated to midnight.
func Label(d, today time.Time) string {
	switch {
	case d.Equal(today):
		return LabelToday
	case d.Equal(today.AddDate(0, 0, -1)):
		return LabelYesterday
	}
	return d.Format("Monday, January ") + strconv.Itoa(d.Day()) + ordinal(d.Day())
}

func ordinal(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
