package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/clubchat/internal/handlers/dto"
)

func TestCacheExpires(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Hour, 10)
	c.now = func() time.Time { return clock }

	c.Put(testRoom, []dto.MessageResponse{message(1, bob, "a", clock)})
	require.Len(t, c.Get(testRoom), 1)

	clock = clock.Add(59 * time.Minute)
	require.Len(t, c.Get(testRoom), 1)

	clock = clock.Add(2 * time.Minute)
	assert.Nil(t, c.Get(testRoom))

	// the expired entry is gone for good
	clock = clock.Add(-time.Hour)
	assert.Nil(t, c.Get(testRoom))
}

func TestCacheKeepsNewest(t *testing.T) {
	c := NewCache(0, 0)
	now := time.Now()

	var msgs []dto.MessageResponse
	for id := uint64(1); id <= 250; id++ {
		msgs = append(msgs, message(id, bob, "m", now))
	}
	c.Put(testRoom, msgs)

	got := c.Get(testRoom)
	require.Len(t, got, DefaultCacheSize)
	assert.Equal(t, uint64(51), got[0].ID)
	assert.Equal(t, uint64(250), got[len(got)-1].ID)
}

func TestCachePerRoom(t *testing.T) {
	c := NewCache(time.Hour, 10)
	now := time.Now()

	c.Put(testRoom, []dto.MessageResponse{message(1, bob, "a", now)})
	assert.Nil(t, c.Get(testRoom+1))

	got := c.Get(testRoom)
	require.Len(t, got, 1)
	got[0].Body = "mutated"
	assert.Equal(t, "a", c.Get(testRoom)[0].Body)

	c.Invalidate(testRoom)
	assert.Nil(t, c.Get(testRoom))
}

func TestCacheRoomsExpireIndependently(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Hour, 10)
	c.now = func() time.Time { return clock }

	c.Put(testRoom, []dto.MessageResponse{message(1, bob, "old", clock)})
	clock = clock.Add(50 * time.Minute)
	c.Put(testRoom+1, []dto.MessageResponse{message(2, bob, "new", clock)})
	clock = clock.Add(20 * time.Minute)

	assert.Nil(t, c.Get(testRoom))
	got := c.Get(testRoom + 1)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Body)
}
