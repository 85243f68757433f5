package client

import "time"

// DateGroup is one day of messages.
type DateGroup struct {
	Key     string // date-YYYY-MM-DD
	Label   string // Today, Yesterday or "January 2, 2006"
	Entries []Entry
}

// GroupByDate splits entries into consecutive days in now's location. Entries
// are expected oldest first, and groups come out the same way.
func GroupByDate(entries []Entry, now time.Time) []DateGroup {
	loc := now.Location()
	today := dayStart(now)
	yesterday := today.AddDate(0, 0, -1)

	var groups []DateGroup
	for _, e := range entries {
		day := dayStart(e.Message.CreatedAt.In(loc))
		key := "date-" + day.Format("2006-01-02")

		if n := len(groups); n > 0 && groups[n-1].Key == key {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}

		label := day.Format("January 2, 2006")
		switch {
		case day.Equal(today):
			label = "Today"
		case day.Equal(yesterday):
			label = "Yesterday"
		}
		groups = append(groups, DateGroup{Key: key, Label: label, Entries: []Entry{e}})
	}
	return groups
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
