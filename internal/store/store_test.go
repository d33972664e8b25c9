package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inputs := []Turn{
		{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "hello", CreatedAt: base},
		{UserID: "u-1", SessionID: "s-1", Role: "assistant", Content: "hi!", CreatedAt: base.Add(time.Second)},
		{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "weather?", CreatedAt: base.Add(2 * time.Second)},
		{UserID: "u-1", SessionID: "s-2", Role: "user", Content: "other session", CreatedAt: base},
		{UserID: "u-2", SessionID: "s-1", Role: "user", Content: "other user", CreatedAt: base},
	}
	for _, turn := range inputs {
		require.NoError(t, s.SaveTurn(ctx, turn))
	}

	turns, err := s.Turns(ctx, "u-1", "s-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "hello", turns[0].Content, "turns come back in chronological order")
	assert.Equal(t, "weather?", turns[2].Content)
	for _, turn := range turns {
		assert.NotEmpty(t, turn.ID, "missing ids are generated")
	}

	// limit keeps the newest turns
	turns, err = s.Turns(ctx, "u-1", "s-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hi!", turns[0].Content)
	assert.Equal(t, "weather?", turns[1].Content)
}

func TestIntentUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveIntent(ctx, Intent{UserID: "u-1", SessionID: "s-1", Intent: "smalltalk"}))
	require.NoError(t, s.SaveIntent(ctx, Intent{UserID: "u-1", SessionID: "s-1", Intent: "set_reminder"}))

	got, err := s.IntentFor(ctx, "u-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "set_reminder", got.Intent)

	_, err = s.IntentFor(ctx, "u-1", "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPreferenceUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePreference(ctx, Preference{UserID: "u-1", Key: "voice", Value: "alloy"}))
	require.NoError(t, s.SavePreference(ctx, Preference{UserID: "u-1", Key: "language", Value: "en"}))
	require.NoError(t, s.SavePreference(ctx, Preference{UserID: "u-1", Key: "voice", Value: "river"}))

	prefs, err := s.Preferences(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, "language", prefs[0].Key)
	assert.Equal(t, "river", prefs[1].Value)

	empty, err := s.Preferences(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClearSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTurn(ctx, Turn{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "a"}))
	require.NoError(t, s.SaveTurn(ctx, Turn{UserID: "u-1", SessionID: "s-2", Role: "user", Content: "b"}))
	require.NoError(t, s.SaveIntent(ctx, Intent{UserID: "u-1", SessionID: "s-1", Intent: "x"}))
	require.NoError(t, s.SavePreference(ctx, Preference{UserID: "u-1", Key: "k", Value: "v"}))

	require.NoError(t, s.ClearSession(ctx, "u-1", "s-1"))

	turns, err := s.Turns(ctx, "u-1", "s-1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	_, err = s.IntentFor(ctx, "u-1", "s-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// other sessions and preferences survive
	turns, err = s.Turns(ctx, "u-1", "s-2", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	prefs, err := s.Preferences(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, prefs, 1)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, s.SaveTurn(ctx, Turn{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "ancient", CreatedAt: old}))
	require.NoError(t, s.SaveTurn(ctx, Turn{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "fresh"}))

	removed, err := s.PruneBefore(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	turns, err := s.Turns(ctx, "u-1", "s-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "fresh", turns[0].Content)
}
