// Package artifact walks a job's output directory and packs it into a
// compressed archive, base64-encoded for embedding in a RunResponse.
package artifact

import (
	"archive/zip"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Pack walks outDir recursively and returns a base64-encoded zip archive
// with entries keyed by path relative to outDir. A missing outDir is
// treated as an empty archive rather than an error, since the Job Runner
// always creates it before any step runs.
func Pack(outDir string) (string, error) {
	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		outDir = ""
	}

	tmp, err := os.CreateTemp("", "matrixlab-runner-artifact-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeZip(tmp, outDir); err != nil {
		tmp.Close()
		return "", fmt.Errorf("packing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp archive: %w", err)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", fmt.Errorf("reading temp archive: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

func writeZip(w io.Writer, outDir string) error {
	zw := zip.NewWriter(w)

	if outDir != "" {
		err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(outDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			entry, err := zw.Create(rel)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = io.Copy(entry, f)
			return err
		})
		if err != nil {
			_ = zw.Close()
			return err
		}
	}

	return zw.Close()
}
