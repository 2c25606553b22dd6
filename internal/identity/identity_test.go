package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	return NewStore(filepath.Join(t.TempDir(), DefaultDir, FileName))
}

func TestSaveLoadClear(t *testing.T) {
	s := newStore(t)

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, s.Save("  node-123 \n"))
	id, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "node-123", id)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Save("node-456"))
	id, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "node-456", id)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestSaveRejectsEmpty(t *testing.T) {
	assert.Error(t, newStore(t).Save("   "))
}

func TestResolve(t *testing.T) {
	s := newStore(t)

	id, err := s.Resolve(ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, id.Anonymous)
	assert.NotEmpty(t, id.SessionID)
	assert.Contains(t, id.DistinctID(), "anonymous-")

	require.NoError(t, s.Save("stored"))

	id, err = s.Resolve(ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, id.Anonymous)
	assert.Equal(t, "stored", id.NodeID)
	assert.Equal(t, "stored", id.DistinctID())

	id, err = s.Resolve(ResolveOptions{NodeID: "override"})
	require.NoError(t, err)
	assert.Equal(t, "override", id.NodeID)

	id, err = s.Resolve(ResolveOptions{NodeID: "override", Anonymous: true})
	require.NoError(t, err)
	assert.True(t, id.Anonymous)
	assert.Empty(t, id.NodeID)
}

func TestResolveCorruptedFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o700))

	require.NoError(t, os.WriteFile(s.Path(), []byte("node_id: [unclosed"), 0o600))
	_, err := s.Resolve(ResolveOptions{})
	assert.ErrorContains(t, err, "corrupted")

	require.NoError(t, os.WriteFile(s.Path(), []byte("other: x\n"), 0o600))
	_, err = s.Resolve(ResolveOptions{})
	assert.ErrorContains(t, err, "no node_id")
}
