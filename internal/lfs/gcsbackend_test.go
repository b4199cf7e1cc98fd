package lfs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/fsouza/fake-gcs-server/fakestorage"
)

func TestGCSBackendPutGetDeleteRoundTrip(t *testing.T) {
	server := fakestorage.NewServer([]fakestorage.Object{})
	defer server.Stop()
	server.CreateBucket("plue-lfs-test")

	backend := NewGCSBackend(server.Client(), "plue-lfs-test", "objects")
	ctx := context.Background()
	data := []byte("gcs content")
	if err := backend.Put(ctx, sha256Hex(data), int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := backend.Exists(ctx, sha256Hex(data))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected object to exist after Put")
	}

	rc, err := backend.Get(ctx, sha256Hex(data), 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}

	if err := backend.Delete(ctx, sha256Hex(data)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err = backend.Exists(ctx, sha256Hex(data))
	if err != nil {
		t.Fatalf("Exists after delete: %v", err)
	}
	if exists {
		t.Fatalf("expected object gone after Delete")
	}
}
