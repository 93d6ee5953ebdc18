package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	filePermissions      = 0o644
	directoryPermissions = 0o755
	tempFileSuffix       = ".tmp"
)

// WriteJSONAtomic serializes value and replaces path with it in a single rename.
// Readers of path observe either the previous content or the new content.
func WriteJSONAtomic(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, payload)
}

// WriteFileAtomic replaces path with payload using a temp file in the same directory.
func WriteFileAtomic(path string, payload []byte) error {
	tempPath, err := stageFile(path, payload)
	if err != nil {
		return err
	}
	return commitFile(tempPath, path)
}

// stageFile writes payload to a uniquely named sibling of path and returns its location.
// The target itself is not touched.
func stageFile(path string, payload []byte) (string, error) {
	tempPath := tempPathFor(path)
	handle, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return "", fmt.Errorf("storage: create temp file for %s: %w", path, err)
	}
	if _, err := handle.Write(payload); err != nil {
		_ = handle.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("storage: write temp file for %s: %w", path, err)
	}
	if err := handle.Sync(); err != nil {
		_ = handle.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("storage: sync temp file for %s: %w", path, err)
	}
	if err := handle.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("storage: close temp file for %s: %w", path, err)
	}
	return tempPath, nil
}

func commitFile(tempPath, path string) error {
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("storage: rename into %s: %w", path, err)
	}
	return nil
}

func tempPathFor(path string) string {
	directory, name := filepath.Split(path)
	stamp := strconv.FormatInt(time.Now().UnixNano(), 36)
	random := uuid.NewString()[:8]
	return filepath.Join(directory, "."+name+"."+stamp+"-"+random+tempFileSuffix)
}

// readOrInitJSON decodes path into target. A missing file is created with initial,
// which callers pass as the same value target already holds.
func readOrInitJSON(path string, target any, initial any) error {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return WriteJSONAtomic(path, initial)
	}
	if err != nil {
		return fmt.Errorf("storage: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return nil
}

// readJSON decodes path into target and reports false when the file does not exist.
func readJSON(path string, target any) (bool, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return true, nil
}
