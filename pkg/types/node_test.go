package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	short := "Alice met Bob."
	assert.Equal(t, short, DisplayName(short))

	long := ""
	for i := 0; i < 80; i++ {
		long += "x"
	}
	assert.Len(t, DisplayName(long), 50)
}

func TestRetroactiveDaysOf(t *testing.T) {
	validAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, RetroactiveDaysOf(validAt, validAt))
	assert.Equal(t, 2, RetroactiveDaysOf(validAt.Add(50*time.Hour), validAt))
	// created before valid (clock skew) clamps to zero, never negative.
	assert.Equal(t, 0, RetroactiveDaysOf(validAt.Add(-24*time.Hour), validAt))
}

func TestEntityEdgeInvariants(t *testing.T) {
	e := &EntityEdge{Uuid: "e1"}
	assert.False(t, e.IsHistorical())
	assert.False(t, e.IsDisputed())

	e.AddEpisode("ep1")
	e.AddEpisode("ep1")
	e.AddEpisode("ep2")
	assert.Equal(t, []string{"ep1", "ep2"}, e.Episodes)

	now := time.Now()
	e.InvalidAt = &now
	assert.True(t, e.IsHistorical())

	e.AddDisputedBy("ep3")
	assert.True(t, e.IsDisputed())
}
