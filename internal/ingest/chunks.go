package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// chunkNamePattern matches the upload part files: chunk_0000 and so on.
var chunkNamePattern = regexp.MustCompile(`^chunk_(\d{4})$`)

// ChunkSetComplete reports whether the chunk directory holds exactly the
// parts 0..totalChunks-1. Extra or missing indexes both fail.
func ChunkSetComplete(dir string, totalChunks int) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	present := make(map[int]bool)
	for _, e := range entries {
		m := chunkNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		if idx >= totalChunks {
			return false, fmt.Errorf("chunk index %d out of range for %d chunks", idx, totalChunks)
		}
		if present[idx] {
			return false, fmt.Errorf("duplicate chunk %d", idx)
		}
		present[idx] = true
	}
	return len(present) == totalChunks, nil
}

// AssembleChunks concatenates the parts in index order and verifies the
// result against the SHA-256 the client declared at upload start. The
// assembled file is written next to the chunks; the parts are removed
// only after a successful verification.
func AssembleChunks(dir string, totalChunks int, expectedSHA256, outPath string) error {
	complete, err := ChunkSetComplete(dir, totalChunks)
	if err != nil {
		return err
	}
	if !complete {
		return fmt.Errorf("chunk set incomplete: want %d parts", totalChunks)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	hash := sha256.New()
	for i := 0; i < totalChunks; i++ {
		part := filepath.Join(dir, fmt.Sprintf("chunk_%04d", i))
		data, err := os.ReadFile(part)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		hash.Write(data)
	}

	got := hex.EncodeToString(hash.Sum(nil))
	if expectedSHA256 != "" && got != expectedSHA256 {
		os.Remove(outPath)
		return fmt.Errorf("file hash mismatch: got %s, want %s", got, expectedSHA256)
	}

	for i := 0; i < totalChunks; i++ {
		os.Remove(filepath.Join(dir, fmt.Sprintf("chunk_%04d", i)))
	}
	return nil
}

// WriteChunk stores one upload part under its zero-padded index.
func WriteChunk(dir string, index int, data []byte) error {
	if index < 0 || index > 9999 {
		return fmt.Errorf("chunk index %d out of range", index)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("chunk_%04d", index)), data, 0o644)
}
