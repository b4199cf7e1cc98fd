package lfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/rand"
	"time"
)

// VacuumGracePeriod is how long a zero-refcount object is kept before
// Vacuum removes its backend bytes, giving a racing Put that is about to
// re-reference the same OID a window to win (SPEC_FULL.md §C).
const VacuumGracePeriod = 24 * time.Hour

// DefaultVerifySampleRate is the fraction of live objects RunPeriodicMaintenance
// re-hashes on each tick (§4.5: a sampled integrity check, not a full scan).
const DefaultVerifySampleRate = 0.1

// Vacuum removes backend bytes (and metadata) for every object that has
// sat at zero references for longer than VacuumGracePeriod. It returns the
// number of objects freed.
func (s *Store) Vacuum(ctx context.Context) (int, error) {
	all, err := s.meta.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-VacuumGracePeriod)
	freed := 0
	for _, obj := range all {
		if obj.DeletedAt == nil || obj.DeletedAt.After(cutoff) {
			continue
		}
		backend := s.cfg.Backends[obj.Tier]
		if backend == nil {
			continue
		}
		if err := backend.Delete(ctx, obj.OID); err != nil {
			s.log.WithError(err).WithField("oid", obj.OID).Error("vacuum failed to delete backend object")
			continue
		}
		if err := s.meta.Delete(ctx, obj.OID); err != nil {
			s.log.WithError(err).WithField("oid", obj.OID).Error("vacuum failed to delete metadata")
			continue
		}
		freed++
	}
	s.mx.vacuumFreed.Add(float64(freed))
	return freed, nil
}

// VerifyIntegrity re-hashes a sampled fraction of live objects and reports
// OIDs whose stored bytes no longer match their own name, flagging silent
// backend corruption (bit rot, truncated writes that slipped past Put's
// own check) without the cost of a full scan on every pass. sampleRate is
// the fraction of live objects, in (0, 1], to re-hash this call; 1
// re-hashes everything. It does not quarantine, repair or delete anything —
// callers decide what to do with a mismatch (quarantine, re-fetch from a
// push, alert) — though reading through Get refreshes each sampled
// object's LastAccessed.
func (s *Store) VerifyIntegrity(ctx context.Context, sampleRate float64) ([]string, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultVerifySampleRate
	}
	all, err := s.meta.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var mismatched []string
	for _, obj := range all {
		if obj.DeletedAt != nil {
			continue
		}
		if sampleRate < 1 && rand.Float64() >= sampleRate {
			continue
		}
		rc, _, err := s.Get(ctx, obj.OID, 0, 0)
		if err != nil {
			mismatched = append(mismatched, obj.OID)
			continue
		}
		actual, err := hashReader(rc)
		rc.Close()
		if err != nil || actual != obj.OID {
			mismatched = append(mismatched, obj.OID)
		}
	}
	return mismatched, nil
}

// RunPeriodicMaintenance runs Vacuum plus a sampled VerifyIntegrity pass on
// interval until ctx is cancelled, the same ticker-plus-context-cancel
// shape as internal/dispatch's sweep loop.
func (s *Store) RunPeriodicMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if freed, err := s.Vacuum(ctx); err != nil {
				s.log.WithError(err).Error("vacuum sweep failed")
			} else if freed > 0 {
				s.log.WithField("freed", freed).Info("vacuum sweep freed objects")
			}
			if mismatched, err := s.VerifyIntegrity(ctx, DefaultVerifySampleRate); err != nil {
				s.log.WithError(err).Error("integrity sweep failed")
			} else if len(mismatched) > 0 {
				s.log.WithField("oids", mismatched).Warn("integrity sweep found corrupt objects")
			}
		}
	}
}

func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
