package termstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhonslife/giro-license-server/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAssignsMonotonicVersionPerEntity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1, err := s.Upsert(ctx, models.SyncKindProduct, "sku-1", models.SyncOpCreate, []byte(`{"name":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := s.Upsert(ctx, models.SyncKindProduct, "sku-1", models.SyncOpUpdate, []byte(`{"name":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	v3, err := s.Upsert(ctx, models.SyncKindProduct, "sku-2", models.SyncOpCreate, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v3, "versions are scoped per (kind, entity_id)")
}

func TestStore_FetchDeltaReturnsOnlyRowsPastCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _ = s.Upsert(ctx, models.SyncKindProduct, "sku-1", models.SyncOpCreate, []byte(`{}`))
	_, _ = s.Upsert(ctx, models.SyncKindProduct, "sku-1", models.SyncOpUpdate, []byte(`{}`))
	_, _ = s.Upsert(ctx, models.SyncKindProduct, "sku-2", models.SyncOpCreate, []byte(`{}`))

	entities, maxVersions, err := s.FetchDelta(ctx, []models.SyncEntityKind{models.SyncKindProduct}, map[models.SyncEntityKind]int64{models.SyncKindProduct: 1})
	require.NoError(t, err)
	assert.Len(t, entities, 1, "only sku-1's v2 is greater than cursor=1; sku-2 is at v1")
	assert.Equal(t, int64(2), maxVersions[models.SyncKindProduct])
}

func TestStore_AdvanceCursorNeverMovesBackward(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AdvanceCursor(ctx, "hw-1", models.SyncKindProduct, 5))
	require.NoError(t, s.AdvanceCursor(ctx, "hw-1", models.SyncKindProduct, 3))

	v, err := s.Cursor(ctx, "hw-1", models.SyncKindProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestStore_OriginIdempotence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seen, err := s.SeenOrigin(ctx, "origin-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.RecordOrigin(ctx, "origin-1"))
	seen, err = s.SeenOrigin(ctx, "origin-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
