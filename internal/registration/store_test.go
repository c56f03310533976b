package registration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pulsecare/pulsecare/internal/database/testutil"
)

func openStagingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t)
}

func TestStageAndGet(t *testing.T) {
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store, err := NewStore(openStagingTestDB(t), WithClock(func() time.Time { return current }))
	require.NoError(t, err)

	require.NoError(t, store.Stage(context.Background(), " Ann@X.com ", "Ann", "hashed-credential"))

	staged, err := store.Get(context.Background(), "ann@x.com")
	require.NoError(t, err)
	require.NotNil(t, staged)
	require.Equal(t, "Ann", staged.DisplayName)
	require.Equal(t, "hashed-credential", staged.Credential)
	require.Equal(t, current, staged.CreatedAt.UTC())
}

func TestStageOverwritesExisting(t *testing.T) {
	store, err := NewStore(openStagingTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Stage(context.Background(), "ann@x.com", "Ann", "first"))
	require.NoError(t, store.Stage(context.Background(), "ann@x.com", "Annie", "second"))

	staged, err := store.Get(context.Background(), "ann@x.com")
	require.NoError(t, err)
	require.Equal(t, "Annie", staged.DisplayName)
	require.Equal(t, "second", staged.Credential)
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, err := NewStore(openStagingTestDB(t))
	require.NoError(t, err)

	staged, err := store.Get(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	require.Nil(t, staged)
}

func TestDeleteStale(t *testing.T) {
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store, err := NewStore(openStagingTestDB(t), WithClock(func() time.Time { return current }))
	require.NoError(t, err)

	require.NoError(t, store.Stage(context.Background(), "old@x.com", "Old", "x"))

	current = current.Add(48 * time.Hour)
	require.NoError(t, store.Stage(context.Background(), "new@x.com", "New", "y"))

	purged, err := store.DeleteStale(context.Background(), current.Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	staged, err := store.Get(context.Background(), "old@x.com")
	require.NoError(t, err)
	require.Nil(t, staged)

	staged, err = store.Get(context.Background(), "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, staged)
}
