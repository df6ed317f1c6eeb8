package bronze

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteFileAtomic writes data to a temp file next to dstPath and renames it
// into place. An existing dstPath is never overwritten: a -<unixnano> suffix
// is added instead. The final path is returned.
func WriteFileAtomic(dstPath string, data []byte) (string, error) {
	dir := filepath.Dir(dstPath)
	if strings.TrimSpace(dstPath) == "" || strings.TrimSpace(filepath.Base(dstPath)) == "" {
		return "", fmt.Errorf("destination path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if _, err := os.Stat(dstPath); err == nil {
		base := filepath.Base(dstPath)
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), ext))
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dstPath)+"-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(data)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	for _, err := range []error{writeErr, syncErr, closeErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return "", err
		}
	}

	// Try fast rename first.
	if err := os.Rename(tmpPath, dstPath); err == nil {
		return dstPath, nil
	}

	// Fallback: copy + remove.
	if err := copyFile(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	_ = os.Remove(tmpPath)
	return dstPath, nil
}

func copyFile(srcPath string, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return closeErr
	}
	return nil
}
