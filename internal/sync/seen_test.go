package sync_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tvu/mailcache/internal/sync"
)

func TestSeenSetAddReportsNew(t *testing.T) {
	s := sync.NewSeenSet(10)

	assert.True(t, s.Add("m1"))
	assert.False(t, s.Add("m1"), "second add of the same id")
	assert.True(t, s.Has("m1"))
	assert.False(t, s.Has("m2"))
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEvictsOldestPastBound(t *testing.T) {
	s := sync.NewSeenSet(3)

	for i := 0; i < 5; i++ {
		s.Add(fmt.Sprintf("m%d", i))
	}

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Has("m0"))
	assert.False(t, s.Has("m1"))
	assert.True(t, s.Has("m2"))
	assert.True(t, s.Has("m4"))
}

func TestSeenSetTrim(t *testing.T) {
	s := sync.NewSeenSet(10)
	for i := 0; i < 5; i++ {
		s.Add(fmt.Sprintf("m%d", i))
	}

	s.Trim([]string{"m1", "m3", "never-seen"})

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("m1"))
	assert.True(t, s.Has("m3"))
	assert.False(t, s.Has("m0"))
	assert.False(t, s.Has("never-seen"), "trim keeps, it does not add")
}

func TestSeenSetDefaultBound(t *testing.T) {
	s := sync.NewSeenSet(0)
	for i := 0; i < 1001; i++ {
		s.Add(fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, 1000, s.Len())
	assert.False(t, s.Has("m0"))
}
