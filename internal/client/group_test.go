package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupByDate(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, loc)

	at := func(s string) Entry {
		ts, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
		require.NoError(t, err)
		return Entry{Message: message(1, bob, s, ts.UTC())}
	}

	entries := []Entry{
		at("2024-02-28 23:59"),
		at("2024-03-09 00:00"),
		at("2024-03-09 23:30"),
		at("2024-03-10 00:01"),
		at("2024-03-10 08:59"),
	}

	groups := GroupByDate(entries, now)
	require.Len(t, groups, 3)

	assert.Equal(t, "date-2024-02-28", groups[0].Key)
	assert.Equal(t, "February 28, 2024", groups[0].Label)
	assert.Len(t, groups[0].Entries, 1)

	assert.Equal(t, "date-2024-03-09", groups[1].Key)
	assert.Equal(t, "Yesterday", groups[1].Label)
	assert.Len(t, groups[1].Entries, 2)

	assert.Equal(t, "date-2024-03-10", groups[2].Key)
	assert.Equal(t, "Today", groups[2].Label)
	assert.Len(t, groups[2].Entries, 2)
}

func TestGroupByDateUsesViewerZone(t *testing.T) {
	// 22:30 UTC is already the next day in UTC+3
	ts := time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*60*60))

	groups := View{Entries: []Entry{{Message: message(1, bob, "late", ts)}}}.Groups(now)
	require.Len(t, groups, 1)
	assert.Equal(t, "Today", groups[0].Label)
	assert.Equal(t, "date-2024-03-10", groups[0].Key)
}

func TestGroupByDateEmpty(t *testing.T) {
	assert.Empty(t, GroupByDate(nil, time.Now()))
}
