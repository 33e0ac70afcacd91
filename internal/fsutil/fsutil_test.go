package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashHexDeterministic(t *testing.T) {
	if HashHex("queue-a") != HashHex("queue-a") {
		t.Fatal("HashHex must be deterministic")
	}
	if HashHex("queue-a") == HashHex("queue-b") {
		t.Fatal("different inputs should hash differently (with overwhelming probability)")
	}
	if len(HashHex("x")) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(HashHex("x")))
	}
}

func TestQueueDirAndMessagePath(t *testing.T) {
	dir := QueueDir("/root/bbq", "orders")
	want := filepath.Join("/root/bbq", HashHex("orders"))
	if dir != want {
		t.Fatalf("QueueDir = %q, want %q", dir, want)
	}

	msgPath := MessagePath("msg-1")
	want = filepath.Join("msgs", HashHex("msg-1")+".knmbbq")
	if msgPath != want {
		t.Fatalf("MessagePath = %q, want %q", msgPath, want)
	}
}

func TestWriteFileAtomicAndReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "data.json")

	if err := WriteFileAtomic(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || e.Name()[0] == '.' && e.Name() != filepath.Base(path) {
			if e.Name() != filepath.Base(path) {
				t.Fatalf("leftover temp file: %s", e.Name())
			}
		}
	}
}

func TestWriteFileAtomicOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}

func TestRemoveFileIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := RemoveFile(path); err != nil {
		t.Fatalf("removing a nonexistent file should be a no-op: %v", err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if Exists(path) {
		t.Fatal("expected file not to exist yet")
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !Exists(path) {
		t.Fatal("expected file to exist")
	}
}

func TestEnsureDirAndRemoveDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := EnsureDir(nested); err != nil {
		t.Fatal(err)
	}
	if !Exists(nested) {
		t.Fatal("expected nested dir to exist")
	}
	if err := RemoveDir(filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	if Exists(nested) {
		t.Fatal("expected nested dir to be gone")
	}
}
