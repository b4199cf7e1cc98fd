package lfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/plue-git/plue/internal/model"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backends := TieredBackends{model.TierHot: NewMemBackend()}
	return NewStore(NewMemMetadataStore(), Config{Backends: backends, DefaultTier: model.TierHot}, nil)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	data := []byte("hello lfs")
	oid := sha256Hex(data)
	ctx := context.Background()

	obj, err := store.Put(ctx, oid, int64(len(data)), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.RefCount != 1 {
		t.Fatalf("expected ref count 1, got %d", obj.RefCount)
	}

	rc, _, err := store.Get(ctx, oid, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}
}

func TestPutDedupIncrementsRefCount(t *testing.T) {
	store := newTestStore(t)
	data := []byte("shared blob")
	oid := sha256Hex(data)
	ctx := context.Background()

	if _, err := store.Put(ctx, oid, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	second, err := store.Put(ctx, oid, int64(len(data)), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if second.RefCount != 2 {
		t.Fatalf("expected ref count 2 after dedup put, got %d", second.RefCount)
	}
}

func TestPutRejectsOIDMismatch(t *testing.T) {
	store := newTestStore(t)
	data := []byte("real content")
	wrongOID := sha256Hex([]byte("different content"))

	_, err := store.Put(context.Background(), wrongOID, int64(len(data)), bytes.NewReader(data))
	if err == nil {
		t.Fatalf("expected an error for OID/content mismatch")
	}
}

func TestReleaseToZeroSoftDeletesAndVacuumKeepsWithinGrace(t *testing.T) {
	store := newTestStore(t)
	data := []byte("to be vacuumed")
	oid := sha256Hex(data)
	ctx := context.Background()

	if _, err := store.Put(ctx, oid, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Release(ctx, oid); err != nil {
		t.Fatalf("Release: %v", err)
	}

	exists, err := store.Exists(ctx, oid)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatalf("soft-deleted object should not report as existing")
	}

	// Vacuum honors the grace period; nothing should be freed yet.
	freed, err := store.Vacuum(ctx)
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if freed != 0 {
		t.Fatalf("expected 0 freed within grace period, got %d", freed)
	}
}

func TestRetagMovesBetweenTiers(t *testing.T) {
	hot := NewMemBackend()
	cold := NewMemBackend()
	store := NewStore(NewMemMetadataStore(), Config{
		Backends:    TieredBackends{model.TierHot: hot, model.TierCold: cold},
		DefaultTier: model.TierHot,
	}, nil)

	data := []byte("move me")
	oid := sha256Hex(data)
	ctx := context.Background()
	if _, err := store.Put(ctx, oid, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Retag(ctx, oid, model.TierCold); err != nil {
		t.Fatalf("Retag: %v", err)
	}

	if ok, _ := hot.Exists(ctx, oid); ok {
		t.Fatalf("expected object removed from hot backend after retag")
	}
	if ok, _ := cold.Exists(ctx, oid); !ok {
		t.Fatalf("expected object present in cold backend after retag")
	}
}

func TestEncryptionAtRestRoundTrips(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	store := NewStore(NewMemMetadataStore(), Config{
		Backends:      TieredBackends{model.TierHot: NewMemBackend()},
		DefaultTier:   model.TierHot,
		EncryptionKey: key,
	}, nil)

	data := []byte("encrypt this payload")
	oid := sha256Hex(data)
	ctx := context.Background()
	if _, err := store.Put(ctx, oid, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, obj, err := store.Get(ctx, oid, 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	if obj.EncryptionKeyID == "" {
		t.Fatalf("expected EncryptionKeyID to be set")
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decrypted round trip mismatch: got %q want %q", got, data)
	}
}

func TestValidateOIDRejectsNonHexOrWrongLength(t *testing.T) {
	cases := []string{"", "not-hex", "abc", string(make([]byte, 64))}
	for _, c := range cases {
		if err := ValidateOID(c); err == nil {
			t.Errorf("expected ValidateOID(%q) to fail", c)
		}
	}
}
