package lfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// MetadataStore persists LfsObject records (OID, size, tier, ref count,
// scan verdict) separately from bytes, mirroring boskos/ranch's split
// between in-memory resource state and the storage.Persistence interface
// it delegates durability to.
type MetadataStore interface {
	Get(ctx context.Context, oid string) (model.LfsObject, bool, error)
	Put(ctx context.Context, obj model.LfsObject) error
	Delete(ctx context.Context, oid string) error
	ListByTier(ctx context.Context, tier model.Tier) ([]model.LfsObject, error)
	ListAll(ctx context.Context) ([]model.LfsObject, error)
}

// MemMetadataStore is the in-memory MetadataStore used by tests and
// single-node deployments without an external database.
type MemMetadataStore struct {
	mu      sync.Mutex
	objects map[string]model.LfsObject
}

func NewMemMetadataStore() *MemMetadataStore {
	return &MemMetadataStore{objects: map[string]model.LfsObject{}}
}

func (s *MemMetadataStore) Get(_ context.Context, oid string) (model.LfsObject, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[oid]
	return obj, ok, nil
}

func (s *MemMetadataStore) Put(_ context.Context, obj model.LfsObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.OID] = obj
	return nil
}

func (s *MemMetadataStore) Delete(_ context.Context, oid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, oid)
	return nil
}

func (s *MemMetadataStore) ListByTier(_ context.Context, tier model.Tier) ([]model.LfsObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LfsObject
	for _, obj := range s.objects {
		if obj.Tier == tier {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *MemMetadataStore) ListAll(_ context.Context) ([]model.LfsObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LfsObject, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj)
	}
	return out, nil
}

// TieredBackends maps each storage Tier to the Backend that serves it,
// letting hot objects live on local disk while cold/archival objects live
// in GCS (§4.5's tiering requirement).
type TieredBackends map[model.Tier]Backend

// Config configures a Store.
type Config struct {
	Backends          TieredBackends
	DefaultTier       model.Tier
	EncryptionKey     []byte // 32 bytes for AES-256; nil disables encryption at rest
	MetricsRegisterer prometheus.Registerer
}

// Store is the content-addressed object store: OID-keyed, deduplicated via
// reference counting, tiered, and optionally encrypted at rest.
type Store struct {
	meta   MetadataStore
	cfg    Config
	mx     *storeMetrics
	log    *logrus.Entry
	mu     sync.Mutex // guards ref-count read-modify-write races
}

func NewStore(meta MetadataStore, cfg Config, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = model.TierHot
	}
	return &Store{meta: meta, cfg: cfg, mx: newStoreMetrics(cfg.MetricsRegisterer), log: log}
}

// Put stores data under expectedOID, the SHA-256 the caller claims for it
// (the LFS batch API always supplies this up front, before the upload
// starts — §4.5). If an object with that OID already exists, Put
// increments its reference count and discards the incoming bytes without
// rewriting them — content-addressing makes this safe: identical OID
// implies identical content (dedup). Otherwise the bytes land in the
// backend's staging area first, where no Get/Exists can see them; only
// once they're hashed and found to match expectedOID does CommitStaged
// make them visible under that OID, so a mismatch (or a crash before
// commit) never leaves a wrong or partial object at a real key.
func (s *Store) Put(ctx context.Context, expectedOID string, size int64, r io.Reader) (model.LfsObject, error) {
	if err := ValidateOID(expectedOID); err != nil {
		return model.LfsObject{}, err
	}

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hasher)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok, err := s.meta.Get(ctx, expectedOID); err == nil && ok && existing.DeletedAt == nil {
		if _, err := io.Copy(io.Discard, counter); err != nil {
			return model.LfsObject{}, plueerr.Backend("lfs_drain", "%v", err)
		}
		if hex.EncodeToString(hasher.Sum(nil)) != expectedOID {
			return model.LfsObject{}, plueerr.Integrity("lfs_oid_mismatch", "uploaded content does not hash to %s", expectedOID)
		}
		existing.RefCount++
		existing.LastAccessed = time.Now()
		if err := s.meta.Put(ctx, existing); err != nil {
			return model.LfsObject{}, err
		}
		return existing, nil
	}

	backend := s.cfg.Backends[s.cfg.DefaultTier]
	if backend == nil {
		return model.LfsObject{}, plueerr.Backend("lfs_no_backend", "no backend configured for tier %s", s.cfg.DefaultTier)
	}

	var writeSrc io.Reader = counter
	if len(s.cfg.EncryptionKey) > 0 {
		enc, err := newEncryptingReader(counter, s.cfg.EncryptionKey)
		if err != nil {
			return model.LfsObject{}, err
		}
		writeSrc = enc
	}

	// The byte count PutStaged returns is the stored length, which is the
	// encrypted length when encryption at rest is on, so it is discarded;
	// the claimed size is always checked against counter.n, the plaintext
	// byte count read from r.
	token, _, err := backend.PutStaged(ctx, writeSrc)
	if err != nil {
		return model.LfsObject{}, err
	}

	oid := hex.EncodeToString(hasher.Sum(nil))
	if oid != expectedOID {
		_ = backend.AbortStaged(ctx, token)
		return model.LfsObject{}, plueerr.Integrity("lfs_oid_mismatch", "uploaded content hashes to %s, expected %s", oid, expectedOID)
	}
	if size >= 0 && counter.n != size {
		_ = backend.AbortStaged(ctx, token)
		return model.LfsObject{}, plueerr.Integrity("lfs_size_mismatch", "uploaded %d bytes, expected %d", counter.n, size)
	}
	if err := backend.CommitStaged(ctx, token, oid); err != nil {
		return model.LfsObject{}, err
	}

	now := time.Now()
	obj := model.LfsObject{
		OID:          oid,
		Size:         counter.n,
		Tier:         s.cfg.DefaultTier,
		RefCount:     1,
		CreatedAt:    now,
		LastAccessed: now,
		ScanVerdict:  model.ScanPending,
	}
	if len(s.cfg.EncryptionKey) > 0 {
		obj.EncryptionKeyID = "default"
	}
	if err := s.meta.Put(ctx, obj); err != nil {
		return model.LfsObject{}, err
	}
	s.mx.objectsStored.Inc()
	s.mx.bytesStored.Add(float64(counter.n))
	return obj, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Get returns a reader for the object's bytes, decrypting if the object
// was stored with encryption at rest, and honoring an optional byte range
// for resumable/partial downloads.
func (s *Store) Get(ctx context.Context, oid string, rangeStart, rangeEnd int64) (io.ReadCloser, model.LfsObject, error) {
	if err := ValidateOID(oid); err != nil {
		return nil, model.LfsObject{}, err
	}
	obj, ok, err := s.meta.Get(ctx, oid)
	if err != nil {
		return nil, model.LfsObject{}, err
	}
	if !ok || obj.DeletedAt != nil {
		return nil, model.LfsObject{}, plueerr.NotFound("lfs_object_not_found", "oid %s not found", oid)
	}
	backend := s.cfg.Backends[obj.Tier]
	if backend == nil {
		return nil, model.LfsObject{}, plueerr.Backend("lfs_no_backend", "no backend configured for tier %s", obj.Tier)
	}

	rc, err := backend.Get(ctx, oid, rangeStart, rangeEnd)
	if err != nil {
		return nil, model.LfsObject{}, err
	}
	if obj.EncryptionKeyID != "" {
		dec, err := newDecryptingReader(rc, s.cfg.EncryptionKey)
		if err != nil {
			rc.Close()
			return nil, model.LfsObject{}, err
		}
		rc = dec
	}

	obj.LastAccessed = time.Now()
	_ = s.meta.Put(ctx, obj)
	return rc, obj, nil
}

// Exists reports whether oid is known and not soft-deleted.
func (s *Store) Exists(ctx context.Context, oid string) (bool, error) {
	if err := ValidateOID(oid); err != nil {
		return false, err
	}
	obj, ok, err := s.meta.Get(ctx, oid)
	if err != nil || !ok {
		return false, err
	}
	return obj.DeletedAt == nil, nil
}

// Release decrements oid's reference count, soft-deleting it once the
// count reaches zero; a later Vacuum pass removes backend bytes for
// objects that have stayed at zero references past a grace period
// (§4.5: dedup via ref-count, deletion is deferred to avoid races with a
// concurrent Put that is about to re-reference the same OID).
func (s *Store) Release(ctx context.Context, oid string) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok, err := s.meta.Get(ctx, oid)
	if err != nil {
		return err
	}
	if !ok {
		return plueerr.NotFound("lfs_object_not_found", "oid %s not found", oid)
	}
	obj.RefCount--
	if obj.RefCount <= 0 {
		obj.RefCount = 0
		now := time.Now()
		obj.DeletedAt = &now
	}
	return s.meta.Put(ctx, obj)
}

// Retag moves oid to a different storage tier, copying bytes between
// backends and updating metadata once the copy succeeds.
func (s *Store) Retag(ctx context.Context, oid string, tier model.Tier) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok, err := s.meta.Get(ctx, oid)
	if err != nil {
		return err
	}
	if !ok {
		return plueerr.NotFound("lfs_object_not_found", "oid %s not found", oid)
	}
	if obj.Tier == tier {
		return nil
	}
	from := s.cfg.Backends[obj.Tier]
	to := s.cfg.Backends[tier]
	if from == nil || to == nil {
		return plueerr.Backend("lfs_no_backend", "missing backend for tier move %s -> %s", obj.Tier, tier)
	}
	rc, err := from.Get(ctx, oid, 0, 0)
	if err != nil {
		return err
	}
	defer rc.Close()
	// An encrypted object's stored bytes are the sealed form, longer than
	// the plaintext obj.Size, so that copy is not size-checked.
	size := obj.Size
	if obj.EncryptionKeyID != "" {
		size = -1
	}
	if err := to.Put(ctx, oid, size, rc); err != nil {
		return err
	}
	if err := from.Delete(ctx, oid); err != nil {
		s.log.WithError(err).WithField("oid", oid).Warn("retag left a stale copy in the source tier")
	}
	obj.Tier = tier
	return s.meta.Put(ctx, obj)
}
