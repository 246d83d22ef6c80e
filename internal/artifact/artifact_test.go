package artifact

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPack_WalksFilesRelativeToOutDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_runner.txt"), []byte("job=x\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "result.txt"), []byte("hello\n"), 0o644))

	encoded, err := Pack(dir)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	require.True(t, names["_runner.txt"])
	require.True(t, names["nested/result.txt"])
}

func TestPack_MissingOutDirProducesValidEmptyArchive(t *testing.T) {
	encoded, err := Pack(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Empty(t, zr.File)
}
