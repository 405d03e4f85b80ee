package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsersLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetUser(ctx, "5730")
	assert.ErrorIs(t, err, ErrNotFound)

	created, err := s.InsertUser(ctx, &User{Address: "5730", DisplayName: "Ana", Role: "pending"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.InsertUser(ctx, &User{Address: "5730", DisplayName: "Other", Role: "ADMIN"})
	require.NoError(t, err)
	assert.False(t, created, "existing users are not overwritten")

	u, err := s.GetUser(ctx, "5730")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.DisplayName)
	assert.Equal(t, "pending", u.Role)

	ok, err := s.UpdateRole(ctx, "5730", "VIEWER")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpdateRole(ctx, "missing", "VIEWER")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateDisplayName(ctx, "5730", "Ana María"))
	u, err = s.GetUser(ctx, "5730")
	require.NoError(t, err)
	assert.Equal(t, "Ana María", u.DisplayName)
	assert.Equal(t, "VIEWER", u.Role)
}

func TestListAndCountUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, u := range []User{
		{Address: "1", Role: "pending"},
		{Address: "2", Role: "VIEWER"},
		{Address: "tg_3", Role: "pending"},
	} {
		_, err := s.InsertUser(ctx, &u)
		require.NoError(t, err)
	}

	all, err := s.ListUsers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := s.ListUsers(ctx, "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	total, n, err := s.CountUsers(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, n)
}

func TestInteractions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendInteraction(ctx, &Interaction{
		Address: "1", Channel: "whatsapp", Direction: DirectionIncoming, Kind: "text", Content: "hola", OK: true,
	}))
	require.NoError(t, s.AppendInteraction(ctx, &Interaction{
		Address: "1", Channel: "whatsapp", Direction: DirectionOutgoing, Kind: "buttons", Content: "¿Aceptas?", OK: false,
	}))

	got, err := s.RecentInteractions(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
}

func TestReportRunsAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.StartRun(ctx, &ReportRun{ID: "r1", Address: "1", Kind: "standard"}))
	require.NoError(t, s.StartRun(ctx, &ReportRun{ID: "r2", Address: "1", Kind: "standard", Zone: "ROZO"}))
	require.NoError(t, s.FinishRun(ctx, "r1", RunSucceeded, ""))

	n, err := s.CountRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	// a new process abandons what the previous one left running
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err = s.CountRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
