package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collaboration-client/internal/journal"
	"collaboration-client/internal/notify"
	"collaboration-client/internal/rest"
	"collaboration-client/pkg/op"
)

func TestOpLog_JournalsAcknowledgedOperations(t *testing.T) {
	ts := newTestServer(t)

	j, err := journal.Open(filepath.Join(t.TempDir(), "ops.db"), zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	cfg := DefaultConfig(ts.wsBase())
	cfg.CursorTTL = 0
	api := rest.NewClient(ts.srv.URL, "", ts.srv.Client(), zap.NewNop())
	r := NewRegistry(cfg, api, j, &notify.Recorder{}, zap.NewNop())
	defer r.Shutdown()

	require.NoError(t, r.Connect(context.Background(), "doc-1"))
	_, err = r.InsertText("doc-1", 0, "hello")
	require.NoError(t, err)

	n, err := j.Len("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the acknowledged operation must reach the journal")

	records, err := j.List("doc-1")
	require.NoError(t, err)
	assert.Contains(t, string(records[0]), `"insert"`)
}

func TestApplyOperation_FailureSurfacedNotRolledBack(t *testing.T) {
	ts := newTestServer(t)
	r, recorder := newTestRegistry(t, ts, nil)

	ts.mu.Lock()
	ts.failOps = true
	ts.mu.Unlock()

	_, err := r.Operations().ApplyOperation(context.Background(), "doc-1", op.NewInsert(0, "x", 1))
	require.Error(t, err)

	assert.Empty(t, r.Operations().History("doc-1"), "failed operations never enter the history")
	assert.Error(t, r.LastError())

	var notified bool
	for _, n := range recorder.All() {
		if n.Level == notify.LevelError {
			notified = true
		}
	}
	assert.True(t, notified, "REST failures must surface as user-visible notifications")
}

func TestOpLog_VersionTracking(t *testing.T) {
	ts := newTestServer(t)
	r, _ := newTestRegistry(t, ts, nil)

	assert.Equal(t, 0, r.Operations().Version("doc-1"), "unknown documents start at version zero")

	_, err := r.RefreshDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 7, r.Operations().Version("doc-1"))

	doc, ok := r.Document("doc-1")
	require.True(t, ok)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, 7, doc.Version)
}
