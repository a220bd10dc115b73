package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJournal_AppendAndList(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "ops.db"), zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append("doc-1", []byte(`{"op":"insert"}`)))
	require.NoError(t, j.Append("doc-1", []byte(`{"op":"delete"}`)))
	require.NoError(t, j.Append("doc-2", []byte(`{"op":"insert"}`)))

	records, err := j.List("doc-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"op":"insert"}`, string(records[0]))
	assert.JSONEq(t, `{"op":"delete"}`, string(records[1]))

	n, err := j.Len("doc-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// unknown document is empty, not an error
	records, err = j.List("doc-404")
	require.NoError(t, err)
	assert.Empty(t, records)
}
