package lfs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/plue-git/plue/internal/plueerr"
)

// FSBackend stores objects under root/<shard>/<oid>, committing each write
// via temp-file-then-rename so a crash mid-write never leaves a partial
// object visible at its final path — the same commit idiom the teacher
// uses for its on-disk state file (write .tmp, then os.Rename).
type FSBackend struct {
	root string
}

func NewFSBackend(root string) *FSBackend { return &FSBackend{root: root} }

func (b *FSBackend) path(oid string) string {
	dir, full := shardPath(oid)
	return filepath.Join(b.root, dir, full)
}

func (b *FSBackend) Put(_ context.Context, oid string, size int64, r io.Reader) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	dir, _ := shardPath(oid)
	fullDir := filepath.Join(b.root, dir)
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return plueerr.Backend("lfs_mkdir", "%v", err)
	}

	tmp, err := os.CreateTemp(fullDir, ".upload-*")
	if err != nil {
		return plueerr.Backend("lfs_tempfile", "%v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		return plueerr.Backend("lfs_write", "%v", err)
	}
	if closeErr != nil {
		return plueerr.Backend("lfs_write", "%v", closeErr)
	}
	if size >= 0 && n != size {
		return plueerr.Integrity("lfs_size_mismatch", "wrote %d bytes, expected %d", n, size)
	}

	if err := os.Rename(tmpName, b.path(oid)); err != nil {
		return plueerr.Backend("lfs_commit", "%v", err)
	}
	return nil
}

// PutStaged writes r to a temp file under root/.staging, invisible to
// Get/Exists (neither looks outside the sharded object tree), and returns
// its path as the commit token.
func (b *FSBackend) PutStaged(_ context.Context, r io.Reader) (string, int64, error) {
	stagingDir := filepath.Join(b.root, ".staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", 0, plueerr.Backend("lfs_mkdir", "%v", err)
	}
	tmp, err := os.CreateTemp(stagingDir, "upload-*")
	if err != nil {
		return "", 0, plueerr.Backend("lfs_tempfile", "%v", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", 0, plueerr.Backend("lfs_write", "%v", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return "", 0, plueerr.Backend("lfs_write", "%v", closeErr)
	}
	return tmpName, n, nil
}

// CommitStaged renames the staged file onto its final sharded path, the
// one moment the bytes become visible under oid.
func (b *FSBackend) CommitStaged(_ context.Context, token, oid string) error {
	if err := ValidateOID(oid); err != nil {
		os.Remove(token)
		return err
	}
	dir, _ := shardPath(oid)
	fullDir := filepath.Join(b.root, dir)
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		os.Remove(token)
		return plueerr.Backend("lfs_mkdir", "%v", err)
	}
	if err := os.Rename(token, b.path(oid)); err != nil {
		os.Remove(token)
		return plueerr.Backend("lfs_commit", "%v", err)
	}
	return nil
}

// AbortStaged discards a staged file that failed verification.
func (b *FSBackend) AbortStaged(_ context.Context, token string) error {
	if err := os.Remove(token); err != nil && !os.IsNotExist(err) {
		return plueerr.Backend("lfs_abort", "%v", err)
	}
	return nil
}

func (b *FSBackend) Get(_ context.Context, oid string, rangeStart, rangeEnd int64) (io.ReadCloser, error) {
	if err := ValidateOID(oid); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plueerr.NotFound("lfs_object_not_found", "oid %s not found", oid)
		}
		return nil, plueerr.Backend("lfs_open", "%v", err)
	}
	if rangeStart <= 0 && rangeEnd <= 0 {
		return f, nil
	}
	if rangeStart > 0 {
		if _, err := f.Seek(rangeStart, io.SeekStart); err != nil {
			f.Close()
			return nil, plueerr.Backend("lfs_seek", "%v", err)
		}
	}
	if rangeEnd > 0 {
		return &limitedReadCloser{r: io.LimitReader(f, rangeEnd-rangeStart+1), c: f}, nil
	}
	return f, nil
}

func (b *FSBackend) Exists(_ context.Context, oid string) (bool, error) {
	if err := ValidateOID(oid); err != nil {
		return false, err
	}
	_, err := os.Stat(b.path(oid))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, plueerr.Backend("lfs_stat", "%v", err)
}

func (b *FSBackend) Delete(_ context.Context, oid string) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	if err := os.Remove(b.path(oid)); err != nil && !os.IsNotExist(err) {
		return plueerr.Backend("lfs_delete", "%v", err)
	}
	return nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }
