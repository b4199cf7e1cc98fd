// Package perm resolves (subject, repo, unit, op) to an access decision
// using the deterministic priority ladder from §4.3, with a request-scoped
// cache. It depends only on a DB collaborator (the Store interface) and an
// in-memory cache; it never spawns its own workers.
package perm

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// Store is the DB collaborator the engine reads through. It is the single
// seam between the engine and persistence; every method may return a
// plueerr.Backend error, which the engine never swallows into "allowed".
type Store interface {
	GetRepository(ctx context.Context, repoID int64) (model.Repository, error)
	GetSubject(ctx context.Context, subjectID int64) (model.Subject, error)
	IsSystemAdmin(ctx context.Context, subjectID int64) (bool, error)
	Collaborator(ctx context.Context, repoID, subjectID int64) (model.AccessMode, bool, error)
	OrgOwner(ctx context.Context, orgID, subjectID int64) (bool, error)
	OrgMember(ctx context.Context, orgID, subjectID int64) (bool, error)
	OrgBasePermission(ctx context.Context, orgID int64) (model.AccessMode, error)
	TeamsForSubjectInOrg(ctx context.Context, orgID, subjectID int64) ([]model.Team, error)

	// CandidateRepositories lists the repositories worth evaluating for
	// visibility to subjectID (owned, collaborator-on, org member of, plus
	// every public/internal repo) — the superset VisibleReposFor filters
	// down to those actually readable, applying §4.3 "in reverse".
	CandidateRepositories(ctx context.Context, subjectID int64) ([]model.Repository, error)
}

// Source tags which tier of §4.3's priority ladder decided an access mode.
type Source string

const (
	SourceSystemAdmin    Source = "system_administrator"
	SourceRepositoryOwner Source = "repository_owner"
	SourceCollaborator   Source = "collaborator"
	SourceOrgOwner       Source = "organization_owner"
	SourceTeam           Source = "team_membership"
	SourceOrgBase        Source = "organization_base_permission"
	SourceVisibility     Source = "repository_visibility"
	SourceNone           Source = "none"
)

// ResolvedPermission is the per-unit mode map for one (subject, repo) pair,
// plus the tier that decided the highest-priority grant observed.
type ResolvedPermission struct {
	Modes  map[model.Unit]model.AccessMode
	Source Source
}

// Mode returns the resolved mode for unit, or AccessNone if absent.
func (r ResolvedPermission) Mode(unit model.Unit) model.AccessMode {
	if r.Modes == nil {
		return model.AccessNone
	}
	return r.Modes[unit]
}

// RequestContext carries the calling subject (nil for anonymous) and the
// request-scope token used to key the cache (§4.3: "cache ... for the
// duration of one caller-provided request token").
type RequestContext struct {
	Subject *model.Subject
	Token   string
}

func (r RequestContext) subjectID() int64 {
	if r.Subject == nil {
		return 0
	}
	return r.Subject.ID
}

type cacheKey struct {
	token  string
	repoID int64
}

// Engine resolves permissions per §4.3. It holds no DB connection itself;
// all persistence goes through Store.
type Engine struct {
	store Store
	cache *lru.Cache[cacheKey, ResolvedPermission]
	log   *logrus.Entry
}

// Config configures the Engine's request-scoped cache size.
type Config struct {
	CacheSize int
}

// New builds an Engine backed by store. The cache is an LRU sized to
// comfortably hold every (token, repo) pair touched within a handful of
// concurrent requests; entries are purged explicitly on mutation, not by
// TTL (§4.3).
func New(store Store, cfg Config, log *logrus.Entry) (*Engine, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[cacheKey, ResolvedPermission](size)
	if err != nil {
		return nil, plueerr.Backend("cache_init", "failed to construct permission cache: %v", err)
	}
	return &Engine{store: store, cache: c, log: log}, nil
}

// Resolve answers the full per-unit mode map for (rc.Subject, repo), per the
// priority ladder in §4.3. Two calls with the same rc.Token return an equal
// result, for the lifetime of that request scope.
func (e *Engine) Resolve(ctx context.Context, rc RequestContext, repo model.Repository) (ResolvedPermission, error) {
	key := cacheKey{token: rc.Token, repoID: repo.ID}
	if rc.Token != "" {
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
	}

	resolved, err := e.resolveUncached(ctx, rc, repo)
	if err != nil {
		return ResolvedPermission{}, err
	}
	if rc.Token != "" {
		e.cache.Add(key, resolved)
	}
	return resolved, nil
}

// Can is a convenience wrapper over Resolve for a single (unit, op) check.
func (e *Engine) Can(ctx context.Context, rc RequestContext, repo model.Repository, unit model.Unit, op model.AccessMode) (bool, error) {
	resolved, err := e.Resolve(ctx, rc, repo)
	if err != nil {
		return false, err
	}
	if unit == model.UnitCode && op.AtLeast(model.AccessWrite) {
		if repo.Archived {
			return false, nil
		}
		if repo.Mirror {
			return false, nil
		}
	}
	return resolved.Mode(unit).AtLeast(op), nil
}

// BulkResolve resolves every repo in repos under one request scope, sharing
// the cache and DB round-trips (§4.3 "batch path").
func (e *Engine) BulkResolve(ctx context.Context, rc RequestContext, repos []model.Repository) (map[int64]ResolvedPermission, error) {
	out := make(map[int64]ResolvedPermission, len(repos))
	for _, repo := range repos {
		resolved, err := e.Resolve(ctx, rc, repo)
		if err != nil {
			return nil, err
		}
		out[repo.ID] = resolved
	}
	return out, nil
}

// Invalidate purges every cache entry for the given request token,
// following a mutation to collaborators, team membership, team-repo
// assignment, org membership, or user flags (§4.3's cascade invalidation).
// Because the cache is keyed by (token, repo), and a token's scope is one
// request, callers typically invalidate by dropping the whole token; for a
// long-lived background actor sharing a token across calls, InvalidateRepo
// targets a single repo.
func (e *Engine) Invalidate(token string) {
	for _, key := range e.cache.Keys() {
		if key.token == token {
			e.cache.Remove(key)
		}
	}
}

// InvalidateRepo purges cache entries for a single repo across all tokens,
// used when a repo-level mutation (collaborator added, unit disabled)
// happens mid-scope.
func (e *Engine) InvalidateRepo(repoID int64) {
	for _, key := range e.cache.Keys() {
		if key.repoID == repoID {
			e.cache.Remove(key)
		}
	}
}

func (e *Engine) resolveUncached(ctx context.Context, rc RequestContext, repo model.Repository) (ResolvedPermission, error) {
	modes := allUnits(model.AccessNone)
	source := SourceNone

	grant := func(src Source, unit model.Unit, mode model.AccessMode) {
		if repo.UnitsDisabled[unit] {
			return
		}
		if mode > modes[unit] {
			modes[unit] = mode
			if source == SourceNone {
				source = src
			}
		}
	}
	grantAll := func(src Source, mode model.AccessMode) {
		for unit := range modes {
			grant(src, unit, mode)
		}
	}

	if rc.Subject != nil {
		isAdmin, err := e.store.IsSystemAdmin(ctx, rc.Subject.ID)
		if err != nil {
			return ResolvedPermission{}, plueerr.Backend("is_admin", "%v", err)
		}
		if isAdmin && !rc.Subject.Restricted {
			grantAll(SourceSystemAdmin, model.AccessAdmin)
			return ResolvedPermission{Modes: modes, Source: source}, nil
		}

		if repo.OwnerID == rc.Subject.ID {
			grantAll(SourceRepositoryOwner, model.AccessAdmin)
			return ResolvedPermission{Modes: modes, Source: source}, nil
		}

		mode, ok, err := e.store.Collaborator(ctx, repo.ID, rc.Subject.ID)
		if err != nil {
			return ResolvedPermission{}, plueerr.Backend("collaborator", "%v", err)
		}
		if ok {
			grantAll(SourceCollaborator, mode)
		}

		owner, err := e.store.GetSubject(ctx, repo.OwnerID)
		if err != nil {
			// An owner the store has no record of is not an org, so the org
			// tiers below grant nothing; any other lookup failure is Backend.
			if kind, ok := plueerr.KindOf(err); !ok || kind != plueerr.KindNotFound {
				return ResolvedPermission{}, plueerr.Backend("get_owner", "%v", err)
			}
			owner = model.Subject{}
		}
		if owner.Kind == model.SubjectOrg {
			orgIsOwner, err := e.store.OrgOwner(ctx, owner.ID, rc.Subject.ID)
			if err != nil {
				return ResolvedPermission{}, plueerr.Backend("org_owner", "%v", err)
			}
			if orgIsOwner {
				grantAll(SourceOrgOwner, model.AccessAdmin)
			}

			teams, err := e.store.TeamsForSubjectInOrg(ctx, owner.ID, rc.Subject.ID)
			if err != nil {
				return ResolvedPermission{}, plueerr.Backend("teams", "%v", err)
			}
			for _, team := range teams {
				for _, up := range team.Repos[repo.ID] {
					grant(SourceTeam, up.Unit, up.Mode)
				}
			}

			isMember, err := e.store.OrgMember(ctx, owner.ID, rc.Subject.ID)
			if err != nil {
				return ResolvedPermission{}, plueerr.Backend("org_member", "%v", err)
			}
			if isMember {
				base, err := e.store.OrgBasePermission(ctx, owner.ID)
				if err != nil {
					return ResolvedPermission{}, plueerr.Backend("org_base", "%v", err)
				}
				grantAll(SourceOrgBase, base)
			}

			if repo.Visibility == model.VisibilityLimited && isMember {
				grant(SourceVisibility, model.UnitCode, model.AccessRead)
			}
		}
	}

	switch repo.Visibility {
	case model.VisibilityPublic:
		grant(SourceVisibility, model.UnitCode, model.AccessRead)
	case model.VisibilityInternal:
		if rc.Subject != nil {
			grant(SourceVisibility, model.UnitCode, model.AccessRead)
		}
	}

	return ResolvedPermission{Modes: modes, Source: source}, nil
}

// VisibleReposFor returns the ids of every repository readable by
// rc.Subject (or anonymously, if nil), applying the same priority-ladder
// rules as Resolve "in reverse": scan candidates, keep those where code
// read is granted.
func (e *Engine) VisibleReposFor(ctx context.Context, rc RequestContext) ([]int64, error) {
	candidates, err := e.store.CandidateRepositories(ctx, rc.subjectID())
	if err != nil {
		return nil, plueerr.Backend("candidate_repos", "%v", err)
	}
	var visible []int64
	for _, repo := range candidates {
		ok, err := e.Can(ctx, rc, repo, model.UnitCode, model.AccessRead)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, repo.ID)
		}
	}
	return visible, nil
}

func allUnits(mode model.AccessMode) map[model.Unit]model.AccessMode {
	units := []model.Unit{
		model.UnitCode, model.UnitIssues, model.UnitPullRequests, model.UnitReleases,
		model.UnitWiki, model.UnitPackages, model.UnitActions, model.UnitProjects,
	}
	m := make(map[model.Unit]model.AccessMode, len(units))
	for _, u := range units {
		m[u] = mode
	}
	return m
}
