package bronze

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const checksumChunkSize = 64 * 1024

var (
	ErrNotFound    = errors.New("file not found")
	ErrIsDirectory = errors.New("path is a directory")
	ErrPermission  = errors.New("permission denied")
)

// FileChecksum returns the hex sha256 of the resolved absolute path, a NUL
// separator, and the file content. The same bytes at another path hash differently.
func FileChecksum(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", classifyFileErr(path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("checksum %s: %w", path, ErrIsDirectory)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", classifyFileErr(path, err)
	}
	defer f.Close()

	h := sha256.New()
	h.Write([]byte(resolvePath(path)))
	h.Write([]byte{0})

	buf := make([]byte, checksumChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", classifyFileErr(path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// resolvePath follows symlinks when possible and otherwise falls back to the absolute path.
func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func classifyFileErr(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checksum %s: %w", path, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("checksum %s: %w", path, ErrPermission)
	default:
		return fmt.Errorf("checksum %s: %w", path, err)
	}
}

// ChecksumSet holds the checksums already present in the store for one run.
type ChecksumSet map[string]struct{}

func (s ChecksumSet) Has(sum string) bool {
	_, ok := s[sum]
	return ok
}

func (s ChecksumSet) Add(sum string) {
	s[sum] = struct{}{}
}
