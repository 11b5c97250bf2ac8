package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	sessions []blackboard.SessionMeta
	err      error
}

func (f *fakeLister) ListSessions(ctx context.Context) ([]blackboard.SessionMeta, error) {
	return f.sessions, f.err
}

func TestResolveSessionID(t *testing.T) {
	lister := &fakeLister{sessions: []blackboard.SessionMeta{
		{ID: "550e8400-e29b-41d4-a716-446655440000"},
		{ID: "550e8411-e29b-41d4-a716-446655440000"},
		{ID: "abcdef12-0000-0000-0000-000000000000"},
	}}
	ctx := context.Background()

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolveSessionID(ctx, lister, "abcdef")
		require.NoError(t, err)
		assert.Equal(t, "abcdef12-0000-0000-0000-000000000000", id)
	})

	t.Run("full id", func(t *testing.T) {
		id, err := ResolveSessionID(ctx, lister, "550e8400-e29b-41d4-a716-446655440000")
		require.NoError(t, err)
		assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id)
	})

	t.Run("unknown full id", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, lister, "00000000-0000-0000-0000-000000000000")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, lister, "550e84")
		require.Error(t, err)
		require.True(t, IsAmbiguousError(err))

		var ae *AmbiguousError
		require.True(t, errors.As(err, &ae))
		msg := FormatAmbiguousError(ae)
		assert.Contains(t, msg, "matches 2 sessions")
		assert.True(t, strings.HasSuffix(msg, "uniquely identify the session."))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, lister, "abc")
		assert.ErrorContains(t, err, "at least 6 characters")
	})

	t.Run("store failure", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, &fakeLister{err: errors.New("down")}, "abcdef")
		assert.ErrorContains(t, err, "down")
	})
}

func TestFormatAmbiguousError_Truncates(t *testing.T) {
	matches := make([]string, 12)
	for i := range matches {
		matches[i] = strings.Repeat("a", 8)
	}
	msg := FormatAmbiguousError(&AmbiguousError{ShortID: "aaaaaa", Matches: matches})
	assert.Contains(t, msg, "...and 2 more")
}
