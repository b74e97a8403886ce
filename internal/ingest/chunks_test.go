package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkReassembly(t *testing.T) {
	dir := t.TempDir()
	parts := [][]byte{[]byte("invoice,amount\n"), []byte("INV-1,100.00\n"), []byte("INV-2,200.00\n")}

	var whole []byte
	for i, p := range parts {
		require.NoError(t, WriteChunk(dir, i, p))
		whole = append(whole, p...)
	}
	sum := sha256.Sum256(whole)

	complete, err := ChunkSetComplete(dir, len(parts))
	require.NoError(t, err)
	assert.True(t, complete)

	out := filepath.Join(dir, "assembled.csv")
	require.NoError(t, AssembleChunks(dir, len(parts), hex.EncodeToString(sum[:]), out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, whole, got)

	// Parts are cleaned up after a verified assembly.
	complete, err = ChunkSetComplete(dir, len(parts))
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestChunkSetIncomplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteChunk(dir, 0, []byte("a")))
	require.NoError(t, WriteChunk(dir, 2, []byte("c")))

	complete, err := ChunkSetComplete(dir, 3)
	require.NoError(t, err)
	assert.False(t, complete)

	err = AssembleChunks(dir, 3, "", filepath.Join(dir, "out"))
	assert.Error(t, err)
}

func TestChunkIndexOutOfRange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteChunk(dir, 5, []byte("x")))

	_, err := ChunkSetComplete(dir, 3)
	assert.Error(t, err)
}

func TestAssembleRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteChunk(dir, 0, []byte("payload")))

	out := filepath.Join(dir, "out")
	err := AssembleChunks(dir, 1, "deadbeef", out)
	require.Error(t, err)

	// The partial assembly must not be left behind.
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))

	// Parts survive so the client can retry.
	complete, err := ChunkSetComplete(dir, 1)
	require.NoError(t, err)
	assert.True(t, complete)
}
