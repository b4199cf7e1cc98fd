package lfs

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/google/uuid"

	"github.com/plue-git/plue/internal/plueerr"
)

// gcsClient narrows *storage.Client to what GCSBackend needs, following
// coverage/gcs/gcs.go's StorageClientIntf split so tests can substitute
// fsouza/fake-gcs-server's client (which satisfies the same *storage.Client
// surface) without a bespoke fake type.
type gcsClient interface {
	Bucket(name string) *storage.BucketHandle
}

type realGCSClient struct{ *storage.Client }

func (c realGCSClient) Bucket(name string) *storage.BucketHandle { return c.Client.Bucket(name) }

// GCSBackend stores LFS objects as individual GCS objects named by OID
// under a bucket prefix, for the "cold"/"archival" tiers.
type GCSBackend struct {
	client gcsClient
	bucket string
	prefix string
}

// NewGCSBackend wraps an existing *storage.Client, matching
// coverage/gcs.NewStorageClient's "caller constructs the client, package
// just wraps it" shape rather than owning client lifecycle here.
func NewGCSBackend(client *storage.Client, bucket, prefix string) *GCSBackend {
	return &GCSBackend{client: realGCSClient{client}, bucket: bucket, prefix: prefix}
}

func (b *GCSBackend) objectName(oid string) string {
	if b.prefix == "" {
		return oid
	}
	return b.prefix + "/" + oid
}

func (b *GCSBackend) Put(ctx context.Context, oid string, size int64, r io.Reader) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	w := b.client.Bucket(b.bucket).Object(b.objectName(oid)).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return plueerr.Backend("lfs_gcs_write", "%v", err)
	}
	if closeErr := w.Close(); closeErr != nil {
		return plueerr.Backend("lfs_gcs_commit", "%v", closeErr)
	}
	if size >= 0 && n != size {
		return plueerr.Integrity("lfs_size_mismatch", "wrote %d bytes, expected %d", n, size)
	}
	return nil
}

// stagingName returns the object name for a staging token, kept under its
// own prefix so Get/Exists (which only ever read b.objectName(oid)) never
// see it.
func (b *GCSBackend) stagingName(token string) string {
	if b.prefix == "" {
		return ".staging/" + token
	}
	return b.prefix + "/.staging/" + token
}

// PutStaged writes r to a staging object and returns its token (the
// random suffix CommitStaged/AbortStaged need to find it again).
func (b *GCSBackend) PutStaged(ctx context.Context, r io.Reader) (string, int64, error) {
	token := uuid.NewString()
	w := b.client.Bucket(b.bucket).Object(b.stagingName(token)).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return "", 0, plueerr.Backend("lfs_gcs_write", "%v", err)
	}
	if closeErr := w.Close(); closeErr != nil {
		return "", 0, plueerr.Backend("lfs_gcs_commit", "%v", closeErr)
	}
	return token, n, nil
}

// CommitStaged copies the staging object onto its final OID-named object
// (GCS has no atomic rename) and removes the staging copy.
func (b *GCSBackend) CommitStaged(ctx context.Context, token, oid string) error {
	if err := ValidateOID(oid); err != nil {
		_ = b.client.Bucket(b.bucket).Object(b.stagingName(token)).Delete(ctx)
		return err
	}
	src := b.client.Bucket(b.bucket).Object(b.stagingName(token))
	dst := b.client.Bucket(b.bucket).Object(b.objectName(oid))
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return plueerr.Backend("lfs_gcs_commit", "%v", err)
	}
	if err := src.Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return plueerr.Backend("lfs_gcs_delete", "%v", err)
	}
	return nil
}

// AbortStaged discards a staged object that failed verification.
func (b *GCSBackend) AbortStaged(ctx context.Context, token string) error {
	err := b.client.Bucket(b.bucket).Object(b.stagingName(token)).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return plueerr.Backend("lfs_gcs_delete", "%v", err)
	}
	return nil
}

func (b *GCSBackend) Get(ctx context.Context, oid string, rangeStart, rangeEnd int64) (io.ReadCloser, error) {
	if err := ValidateOID(oid); err != nil {
		return nil, err
	}
	obj := b.client.Bucket(b.bucket).Object(b.objectName(oid))
	var (
		rc  io.ReadCloser
		err error
	)
	if rangeStart > 0 || rangeEnd > 0 {
		length := int64(-1)
		if rangeEnd > 0 {
			length = rangeEnd - rangeStart + 1
		}
		rc, err = obj.NewRangeReader(ctx, rangeStart, length)
	} else {
		rc, err = obj.NewReader(ctx)
	}
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, plueerr.NotFound("lfs_object_not_found", "oid %s not found", oid)
		}
		return nil, plueerr.Backend("lfs_gcs_read", "%v", err)
	}
	return rc, nil
}

func (b *GCSBackend) Exists(ctx context.Context, oid string) (bool, error) {
	if err := ValidateOID(oid); err != nil {
		return false, err
	}
	_, err := b.client.Bucket(b.bucket).Object(b.objectName(oid)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	return false, plueerr.Backend("lfs_gcs_stat", fmt.Sprintf("%v", err))
}

func (b *GCSBackend) Delete(ctx context.Context, oid string) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	err := b.client.Bucket(b.bucket).Object(b.objectName(oid)).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return plueerr.Backend("lfs_gcs_delete", "%v", err)
	}
	return nil
}
