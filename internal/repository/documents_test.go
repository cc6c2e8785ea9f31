package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/common"
	"github.com/docupipe/contractscan/internal/config"
)

func testStore(t *testing.T) *DocumentStore {
	t.Helper()
	db, sb, err := Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "repo.db"),
		MaxConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Bootstrap(context.Background(), db))
	return NewDocumentStore(db, sb, nil)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, _, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := &Document{
		ContentHash: "abc123",
		FilePath:    "/in/contract.pdf",
		FileName:    "contract.pdf",
		Status:      constants.DocStatusRunning,
	}
	id, err := s.Upsert(ctx, doc)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc.Status = constants.DocStatusCompleted
	doc.Confidence = 87.5
	doc.FieldsJSON = `{"party":"Acme Corporation"}`
	id2, err := s.Upsert(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, id, id2, "same content hash keeps the same row")

	got, err := s.GetByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusCompleted, got.Status)
	assert.Equal(t, 87.5, got.Confidence)
	assert.Contains(t, got.FieldsJSON, "Acme Corporation")
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestGetByHashNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListByStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, st := range []constants.DocStatus{
		constants.DocStatusCompleted, constants.DocStatusFailed, constants.DocStatusCompleted,
	} {
		_, err := s.Upsert(ctx, &Document{
			ContentHash: string(rune('a' + i)),
			FilePath:    "/in/doc.pdf",
			FileName:    "doc.pdf",
			Status:      st,
		})
		require.NoError(t, err)
	}

	completed, err := s.ListByStatus(ctx, constants.DocStatusCompleted, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	limited, err := s.ListByStatus(ctx, constants.DocStatusCompleted, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	failed, err := s.ListByStatus(ctx, constants.DocStatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, constants.DocStatusFailed, failed[0].Status)
}
