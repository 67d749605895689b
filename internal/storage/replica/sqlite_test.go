package replica

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestFileStore_UniqueAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replica.db")
	at := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	s, err := OpenFile(path)
	require.NoError(t, err)
	first := sub("A", at)
	first.Reasons = []string{"Punctuality", "Politeness"}
	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, sub("B", at.Add(-time.Minute))))
	require.NoError(t, s.Close())

	s, err = OpenFile(path)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Exists(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Exists(ctx, "C")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, s.Insert(ctx, sub("A", at.Add(time.Hour))), models.ErrDuplicateOrder)

	rows, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "B", rows[0].OrderID)
	require.Equal(t, first.RequestID, rows[1].RequestID)
	require.Equal(t, []string{"Punctuality", "Politeness"}, rows[1].Reasons)
	require.True(t, rows[1].Timestamp.Equal(at))
}

func TestMirror_FileReplica(t *testing.T) {
	ctx := context.Background()
	local, err := OpenFile(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	defer local.Close()

	primary := New()
	m := NewMirror(primary, local)
	require.NoError(t, m.Insert(ctx, sub("M1", time.Now())))
	require.ErrorIs(t, m.Insert(ctx, sub("M1", time.Now())), models.ErrDuplicateOrder)

	ok, err := local.Exists(ctx, "M1")
	require.NoError(t, err)
	require.True(t, ok)
}
