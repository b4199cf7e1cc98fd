package sshd

import (
	"context"
	"sync"

	"github.com/plue-git/plue/internal/model"
)

// MemRepoResolver is an in-memory RepoResolver, mirroring MemKeyStore's
// shape, used by tests and by a composition root with no database
// configured. Repositories are keyed by the "owner/repo" path a Command
// carries, which a real resolver would instead derive with a join against
// the owner Subject's login name.
type MemRepoResolver struct {
	mu    sync.Mutex
	repos map[string]model.Repository // "owner/repo" -> repository
}

func NewMemRepoResolver() *MemRepoResolver {
	return &MemRepoResolver{repos: map[string]model.Repository{}}
}

func (r *MemRepoResolver) Put(ownerPath, repoPath string, repo model.Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[ownerPath+"/"+repoPath] = repo
}

func (r *MemRepoResolver) ResolveRepository(_ context.Context, ownerPath, repoPath string) (model.Repository, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.repos[ownerPath+"/"+repoPath]
	if !ok || repo.Deleted {
		return model.Repository{}, false, nil
	}
	return repo, true, nil
}
