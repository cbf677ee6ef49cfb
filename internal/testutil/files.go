package testutil

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// TempDir creates a temporary directory and returns a cleanup func.
func TempDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", nil, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateTestFile writes size bytes (zeros or random) to dir/name.
func CreateTestFile(dir, name string, size int64, random bool) (string, error) {
	data := make([]byte, size)
	if random {
		if _, err := rand.Read(data); err != nil {
			return "", err
		}
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// VerifyFileSize checks the size of path.
func VerifyFileSize(path string, expected int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != expected {
		return fmt.Errorf("file %s: expected %d bytes, got %d", path, expected, info.Size())
	}
	return nil
}

// ConcatFiles returns the contents of paths joined in order.
func ConcatFiles(paths ...string) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
