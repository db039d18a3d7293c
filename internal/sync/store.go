package sync

import (
	"context"

	"github.com/jhonslife/giro-license-server/internal/models"
)

// Store is the storage seam the Master and Satellite dispatch against. The
// terminal-side implementation (internal/termstore) backs it with an
// embedded SQLite file; nothing in this package assumes a concrete engine.
type Store interface {
	FetchFull(ctx context.Context, kinds []models.SyncEntityKind) ([]models.SyncEntity, int64, error)
	FetchDelta(ctx context.Context, kinds []models.SyncEntityKind, cursors map[models.SyncEntityKind]int64) ([]models.SyncEntity, map[models.SyncEntityKind]int64, error)
	Upsert(ctx context.Context, kind models.SyncEntityKind, entityID string, op models.SyncOperation, data []byte) (int64, error)
	AdvanceCursor(ctx context.Context, hardwareID string, kind models.SyncEntityKind, version int64) error
	// Cursor returns the stored high-watermark for (hardwareID, kind); 0 if
	// the satellite has never synced that kind. The Master is the source of
	// truth for this value — callers must not substitute a client-submitted one.
	Cursor(ctx context.Context, hardwareID string, kind models.SyncEntityKind) (int64, error)
	SeenOrigin(ctx context.Context, originID string) (bool, error)
	RecordOrigin(ctx context.Context, originID string) error
}
