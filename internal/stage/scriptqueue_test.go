package stage

import (
	"testing"

	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptQueue(t *testing.T) {
	scenes := []blackboard.Scene{testScene("s1", 2, "a"), testScene("s2", 2, "a"), testScene("s3", 2, "a")}
	q := NewScriptQueue(scenes)

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Remaining())
	_, ok := q.Current()
	assert.False(t, ok)

	first, ok := q.Start()
	require.True(t, ok)
	assert.Equal(t, "s1", first.ID)

	next, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "s2", next.ID)

	// Started scenes are frozen
	err := q.Replace("s1", testScene("s1", 5, "a"))
	require.Error(t, err)
	assert.True(t, blackboard.IsInvariantViolation(err))

	revised := testScene("s2", 7, "a")
	revised.Description = "revised"
	require.NoError(t, q.Replace("s2", revised))
	revised.Description = "mutated after replace"

	upcoming := q.Upcoming()
	require.Len(t, upcoming, 2)
	assert.Equal(t, "revised", upcoming[0].Description)
	assert.Equal(t, 7, upcoming[0].MaxTurns)

	assert.Error(t, q.Replace("missing", revised))

	q.Start()
	q.Start()
	_, ok = q.Start()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Remaining())

	current, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "s3", current.ID)
}

func TestScriptQueueCopiesInput(t *testing.T) {
	scenes := []blackboard.Scene{testScene("s1", 2, "a", "b")}
	q := NewScriptQueue(scenes)
	scenes[0].Actors[0] = "mallory"

	s, _ := q.Next()
	assert.Equal(t, []string{"a", "b"}, s.Actors)

	s.Actors[1] = "eve"
	again, _ := q.Next()
	assert.Equal(t, []string{"a", "b"}, again.Actors)
}
