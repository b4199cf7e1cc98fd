package sshd

import (
	"context"

	"github.com/plue-git/plue/internal/model"
)

// KeyStore resolves SSH authentication material. A real implementation
// backs this by Plue's database; tests use an in-memory stand-in.
type KeyStore interface {
	GetKeyByFingerprint(ctx context.Context, fingerprint string) (model.PublicKey, bool, error)
	GetSubject(ctx context.Context, id int64) (model.Subject, bool, error)
	GetRepository(ctx context.Context, id int64) (model.Repository, bool, error)
	TrustedCAFingerprints(ctx context.Context) ([]string, error)
	ResolvePrincipal(ctx context.Context, principal string) (model.Subject, bool, error)
}

// MemKeyStore is an in-memory KeyStore for tests.
type MemKeyStore struct {
	Keys          map[string]model.PublicKey // fingerprint -> key
	Subjects      map[int64]model.Subject
	Repositories  map[int64]model.Repository
	CAFingerprint []string
	Principals    map[string]model.Subject
}

func NewMemKeyStore() *MemKeyStore {
	return &MemKeyStore{
		Keys:         map[string]model.PublicKey{},
		Subjects:     map[int64]model.Subject{},
		Repositories: map[int64]model.Repository{},
		Principals:   map[string]model.Subject{},
	}
}

func (s *MemKeyStore) GetKeyByFingerprint(_ context.Context, fingerprint string) (model.PublicKey, bool, error) {
	k, ok := s.Keys[fingerprint]
	return k, ok, nil
}

func (s *MemKeyStore) GetSubject(_ context.Context, id int64) (model.Subject, bool, error) {
	subj, ok := s.Subjects[id]
	return subj, ok, nil
}

func (s *MemKeyStore) GetRepository(_ context.Context, id int64) (model.Repository, bool, error) {
	repo, ok := s.Repositories[id]
	return repo, ok, nil
}

func (s *MemKeyStore) TrustedCAFingerprints(_ context.Context) ([]string, error) {
	return s.CAFingerprint, nil
}

func (s *MemKeyStore) ResolvePrincipal(_ context.Context, principal string) (model.Subject, bool, error) {
	subj, ok := s.Principals[principal]
	return subj, ok, nil
}
