package lfs

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/plue-git/plue/internal/plueerr"
)

// MemBackend is a process-memory Backend used by unit tests and by the
// dedup/tiering tests in store_test.go, grounded on the same in-memory
// map-plus-mutex idiom as boskos/storage's in-memory Store.
type MemBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	staging map[string][]byte
}

func NewMemBackend() *MemBackend {
	return &MemBackend{objects: map[string][]byte{}, staging: map[string][]byte{}}
}

// PutStaged buffers r under a random token, invisible to Get/Exists until
// CommitStaged promotes it into objects.
func (b *MemBackend) PutStaged(_ context.Context, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, plueerr.Backend("lfs_read", "%v", err)
	}
	token := uuid.NewString()
	b.mu.Lock()
	b.staging[token] = data
	b.mu.Unlock()
	return token, int64(len(data)), nil
}

func (b *MemBackend) CommitStaged(_ context.Context, token, oid string) error {
	if err := ValidateOID(oid); err != nil {
		b.mu.Lock()
		delete(b.staging, token)
		b.mu.Unlock()
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.staging[token]
	if !ok {
		return plueerr.Backend("lfs_stage_missing", "staging token %s not found", token)
	}
	delete(b.staging, token)
	b.objects[oid] = data
	return nil
}

func (b *MemBackend) AbortStaged(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.staging, token)
	return nil
}

func (b *MemBackend) Put(_ context.Context, oid string, size int64, r io.Reader) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return plueerr.Backend("lfs_read", "%v", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return plueerr.Integrity("lfs_size_mismatch", "wrote %d bytes, expected %d", len(data), size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[oid] = data
	return nil
}

func (b *MemBackend) Get(_ context.Context, oid string, rangeStart, rangeEnd int64) (io.ReadCloser, error) {
	if err := ValidateOID(oid); err != nil {
		return nil, err
	}
	b.mu.Lock()
	data, ok := b.objects[oid]
	b.mu.Unlock()
	if !ok {
		return nil, plueerr.NotFound("lfs_object_not_found", "oid %s not found", oid)
	}
	if rangeStart <= 0 && rangeEnd <= 0 {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if rangeStart < 0 {
		rangeStart = 0
	}
	end := int64(len(data))
	if rangeEnd > 0 && rangeEnd+1 < end {
		end = rangeEnd + 1
	}
	if rangeStart > end {
		rangeStart = end
	}
	return io.NopCloser(bytes.NewReader(data[rangeStart:end])), nil
}

func (b *MemBackend) Exists(_ context.Context, oid string) (bool, error) {
	if err := ValidateOID(oid); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[oid]
	return ok, nil
}

func (b *MemBackend) Delete(_ context.Context, oid string) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, oid)
	return nil
}
