package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomicReplacesTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "records.json")

	if err := WriteJSONAtomic(target, []string{"first"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteJSONAtomic(target, []string{"second"}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	var decoded []string
	found, err := readJSON(target, &decoded)
	if err != nil || !found {
		t.Fatalf("expected readable target, found=%v err=%v", found, err)
	}
	if len(decoded) != 1 || decoded[0] != "second" {
		t.Fatalf("unexpected content %v", decoded)
	}
	assertNoTempFiles(t, filepath.Dir(target))
}

func TestStagedWriteLeavesTargetUntilCommit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "users.json")
	if err := WriteFileAtomic(target, []byte(`["before"]`)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	tempPath, err := stageFile(target, []byte(`["after"]`))
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if filepath.Dir(tempPath) != filepath.Dir(target) {
		t.Fatalf("temp file %s must live next to %s", tempPath, target)
	}

	// A crash here leaves the staged file behind but the target intact.
	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(content) != `["before"]` {
		t.Fatalf("target changed before commit: %s", content)
	}

	if err := commitFile(tempPath, target); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	content, err = os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(content) != `["after"]` {
		t.Fatalf("unexpected committed content: %s", content)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone, stat err=%v", err)
	}
}

func TestWriteFileAtomicFailureCleansUpTempFile(t *testing.T) {
	directory := t.TempDir()
	target := filepath.Join(directory, "occupied")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := WriteFileAtomic(target, []byte("payload")); err == nil {
		t.Fatalf("expected rename onto a directory to fail")
	}
	assertNoTempFiles(t, directory)

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected original target to remain a directory, err=%v", err)
	}
}

func TestWriteFileAtomicMissingDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing", "file.json")
	if err := WriteFileAtomic(target, []byte("{}")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestReadOrInitJSONCreatesMissingFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "supporters.json")
	supporters := []Supporter{}

	if err := readOrInitJSON(target, &supporters, supporters); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}
	if string(content) != "[]" {
		t.Fatalf("expected empty list, got %s", content)
	}

	if err := readOrInitJSON(target, &supporters, supporters); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if len(supporters) != 0 {
		t.Fatalf("expected no supporters, got %d", len(supporters))
	}
}

func assertNoTempFiles(t *testing.T, directory string) {
	t.Helper()
	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == tempFileSuffix {
			t.Fatalf("unexpected temp file left behind: %s", entry.Name())
		}
	}
}
