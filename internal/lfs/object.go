// Package lfs implements Plue's content-addressed Large File Storage: a
// backend-agnostic object store keyed by hex SHA-256 OID, with reference
// counting for dedup, tiered placement, optional encryption at rest, and
// an HTTP batch/transfer surface compatible with the Git LFS API (§4.5).
//
// The storage backend split (interface plus filesystem/GCS/memory
// implementations) follows coverage/gcs/gcs.go's StorageClientIntf
// pattern: a narrow interface any concrete client (real or fake) can
// satisfy, so tests run against an in-memory or fsouza/fake-gcs-server
// double without touching real cloud storage.
package lfs

import (
	"context"
	"io"
	"regexp"

	"github.com/plue-git/plue/internal/plueerr"
)

// oidPattern matches a lowercase hex SHA-256, the only OID shape §4.5
// accepts.
var oidPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateOID rejects anything that isn't a 64-character lowercase hex
// string, before it ever reaches a backend or a shard path computation.
func ValidateOID(oid string) error {
	if !oidPattern.MatchString(oid) {
		return plueerr.Validation("invalid_oid", "oid %q is not a 64-character lowercase hex sha-256", oid)
	}
	return nil
}

// Backend is the storage-agnostic seam every tier implements: put/get by
// OID, existence check, and delete. Byte-range support on Get lets the
// HTTP transfer API serve Range requests without buffering whole objects.
//
// PutStaged/CommitStaged/AbortStaged split an untrusted upload's write in
// two: bytes land in a backend-private staging location no Get/Exists can
// see, and only CommitStaged makes them visible under a real OID — the
// verify-then-commit shape §4.5 requires for an upload whose claimed OID
// hasn't been checked against its bytes yet. Put itself stays for copies
// where the OID is already trusted (e.g. Store.Retag moving a previously
// verified object between tiers).
type Backend interface {
	Put(ctx context.Context, oid string, size int64, r io.Reader) error
	Get(ctx context.Context, oid string, rangeStart, rangeEnd int64) (io.ReadCloser, error)
	Exists(ctx context.Context, oid string) (bool, error)
	Delete(ctx context.Context, oid string) error

	PutStaged(ctx context.Context, r io.Reader) (token string, n int64, err error)
	CommitStaged(ctx context.Context, token, oid string) error
	AbortStaged(ctx context.Context, token string) error
}

// shardPath splits an OID into a two-level prefix directory plus the full
// OID as the filename, e.g. "ab/cd/abcd...", bounding directory fan-out
// the way git's own loose-object store does.
func shardPath(oid string) (dir string, full string) {
	if len(oid) < 4 {
		return "", oid
	}
	return oid[0:2] + "/" + oid[2:4], oid
}
