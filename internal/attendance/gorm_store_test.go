package attendance

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/classmesh/internal/database"
)

func TestGormStore(t *testing.T) {
	url := os.Getenv("CLASSMESH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLASSMESH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := database.Open(ctx, url, nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	store := NewGormStore(db)

	session := "test-" + uuid.NewString()
	_, err = store.Get(ctx, session, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)

	joinedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Upsert(ctx, Record{SessionID: session, StudentID: "s-2", IsPresent: true, JoinedAt: &joinedAt}))
	require.NoError(t, store.Upsert(ctx, Record{SessionID: session, StudentID: "s-1", IsPresent: true}))
	require.NoError(t, store.Upsert(ctx, Record{SessionID: session, StudentID: "s-1", IsPresent: false, Manual: true, MarkedBy: "t-1"}))

	rec, err := store.Get(ctx, session, "s-1")
	require.NoError(t, err)
	assert.False(t, rec.IsPresent)
	assert.True(t, rec.Manual)

	recs, err := store.List(ctx, session)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s-1", recs[0].StudentID)
	assert.True(t, joinedAt.Equal(*recs[1].JoinedAt))
}
