// Package fsutil implements the "filesystem primitives" BBQ's persistence
// layer depends on: the out-of-scope collaborator named in spec.md §1.
// Every path this package returns follows the on-disk layout in spec.md §6
// (md5-named queue directories, md5-named payload files, fixed metadata file
// names).
//
// No filesystem-abstraction library (afero and similar) appears anywhere in
// the retrieval pack, so this is a thin layer directly over os and
// path/filepath.
package fsutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// MetaFileName is the fixed queue metadata snapshot file name (spec.md §6).
const MetaFileName = "metaq.json"

// DispatcherMetaFileName is the fixed dispatcher metadata snapshot file name.
const DispatcherMetaFileName = "metabbq.json"

// MsgFileExt is the extension of a per-message payload file.
const MsgFileExt = ".knmbbq"

// HashHex returns the lowercase hex-encoded md5 digest of s, used to derive
// deterministic queue and message file names from their logical ids/names.
func HashHex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// QueueDir returns the directory a queue named name lives under, given a
// dispatcher root: "<root>/<md5(name)>".
func QueueDir(root, name string) string {
	return filepath.Join(root, HashHex(name))
}

// MessagePath returns the on-disk path of a message's payload file relative
// to its queue directory: "msgs/<md5(id)>.knmbbq".
func MessagePath(id string) string {
	return filepath.Join("msgs", HashHex(id)+MsgFileExt)
}

// EnsureDir creates dir (and any missing parents) if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: mkdir %s: %w", dir, err)
	}
	return nil
}

// WriteFileAtomic writes data to path by writing to a temp file in the same
// directory and renaming over path, so a concurrent reader never observes a
// partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("fsutil: create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// ReadFile reads the entire contents of path. The error from os.ReadFile is
// returned unwrapped, so a caller can test it with os.IsNotExist.
func ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveFile deletes path, treating "already gone" as success.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsutil: remove %s: %w", path, err)
	}
	return nil
}

// RemoveDir recursively deletes dir, treating "already gone" as success.
func RemoveDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("fsutil: remove dir %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path exists (file or directory).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
