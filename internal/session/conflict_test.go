package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaboration-client/internal/notify"
)

func TestConflict_PushedAndWarned(t *testing.T) {
	ts := newTestServer(t)
	r, recorder := newTestRegistry(t, ts, nil)

	require.NoError(t, r.Connect(context.Background(), "doc-1"))
	ts.push("doc-1", `{"type":"conflict","operations":[{"operation_type":"insert","position":0}],"server_version":9}`)

	require.Eventually(t, func() bool {
		return len(r.Conflicts().Pending("doc-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conflict := r.Conflicts().Pending("doc-1")[0]
	assert.NotEmpty(t, conflict.ID)
	assert.Equal(t, "doc-1", conflict.DocumentID)
	assert.Contains(t, string(conflict.Payload), "server_version")

	var warned bool
	for _, n := range recorder.All() {
		if n.Level == notify.LevelWarning {
			warned = true
		}
	}
	assert.True(t, warned, "a pushed conflict must warn the user")
}

func TestResolve_ClearsAllConflictsForDocument(t *testing.T) {
	ts := newTestServer(t)
	r, recorder := newTestRegistry(t, ts, nil)

	require.NoError(t, r.Connect(context.Background(), "doc-1"))
	require.NoError(t, r.Connect(context.Background(), "doc-2"))

	ts.push("doc-1", `{"type":"conflict","op":"a"}`)
	ts.push("doc-1", `{"type":"conflict","op":"b"}`)
	ts.push("doc-1", `{"type":"conflict","op":"c"}`)
	ts.push("doc-2", `{"type":"conflict","op":"d"}`)

	require.Eventually(t, func() bool {
		return len(r.Conflicts().Pending("doc-1")) == 3 && len(r.Conflicts().Pending("doc-2")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// resolving with a subset still clears every pending conflict for doc-1
	resolution, err := r.Conflicts().Resolve(context.Background(), "doc-1", []string{"op-a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"merged"}`, string(resolution))

	assert.Empty(t, r.Conflicts().Pending("doc-1"))
	assert.Len(t, r.Conflicts().Pending("doc-2"), 1, "other documents keep their conflicts")

	body := ts.restBodyFor("/conflicts/resolve")
	require.NotNil(t, body)
	assert.Contains(t, body, "conflicting_operations")

	var succeeded bool
	for _, n := range recorder.All() {
		if n.Level == notify.LevelSuccess {
			succeeded = true
		}
	}
	assert.True(t, succeeded)
}

func TestResolve_FailureLeavesConflicts(t *testing.T) {
	ts := newTestServer(t)
	r, _ := newTestRegistry(t, ts, nil)

	require.NoError(t, r.Connect(context.Background(), "doc-1"))
	ts.push("doc-1", `{"type":"conflict","op":"a"}`)
	require.Eventually(t, func() bool {
		return len(r.Conflicts().Pending("doc-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.mu.Lock()
	ts.failResolve = true
	ts.mu.Unlock()

	_, err := r.Conflicts().Resolve(context.Background(), "doc-1", []string{"op-a"})
	require.Error(t, err)
	assert.Len(t, r.Conflicts().Pending("doc-1"), 1, "failed resolution must not drop conflicts")
	assert.Error(t, r.LastError())
}

func TestCreateSnapshot_AppendsMetadata(t *testing.T) {
	ts := newTestServer(t)
	r, recorder := newTestRegistry(t, ts, nil)

	snapshot, err := r.Conflicts().CreateSnapshot(context.Background(), "doc-1", "before refactor")
	require.NoError(t, err)
	assert.Equal(t, "before refactor", snapshot.Description)
	assert.JSONEq(t, `{"id":"snap-1"}`, string(snapshot.Metadata))

	body := ts.restBodyFor("/collaboration/documents/doc-1/snapshots")
	require.NotNil(t, body)
	assert.Equal(t, "before refactor", body["description"])

	snapshots := r.Conflicts().Snapshots("doc-1")
	require.Len(t, snapshots, 1)
	assert.False(t, snapshots[0].Timestamp.IsZero())

	var succeeded bool
	for _, n := range recorder.All() {
		if n.Level == notify.LevelSuccess {
			succeeded = true
		}
	}
	assert.True(t, succeeded)
}
