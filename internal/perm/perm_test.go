package perm

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/plue-git/plue/internal/model"
)

func newTestEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	e, err := New(store, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestCanSystemAdminGrantsAdminEverywhere(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 2, Visibility: model.VisibilityPrivate})
	store.PutSubject(model.Subject{ID: 9, Kind: model.SubjectUser, Active: true})
	store.SetSystemAdmin(9, true)
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 9}, Token: "t1"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessAdmin)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if !ok {
		t.Fatal("expected system admin to have admin access")
	}
}

func TestCanRestrictedAdminIsNotGrantedBlanketAccess(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 2, Visibility: model.VisibilityPrivate})
	store.SetSystemAdmin(9, true)
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 9, Restricted: true}, Token: "t1"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessRead)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if ok {
		t.Fatal("expected a restricted system admin not to get blanket access to a private repo")
	}
}

func TestCanRepositoryOwnerHasAdmin(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPrivate})
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 5}, Token: "t1"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitIssues, model.AccessAdmin)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if !ok {
		t.Fatal("expected repository owner to have admin access")
	}
}

func TestCanCollaboratorModeIsRespected(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPrivate})
	store.SetCollaborator(1, 6, model.AccessWrite)
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 6}, Token: "t1"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessWrite)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if !ok {
		t.Fatal("expected collaborator write access")
	}
	ok, err = e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessAdmin)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if ok {
		t.Fatal("collaborator with write mode should not have admin access")
	}
}

func TestCanDisabledUnitIsNeverGranted(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{
		ID: 1, OwnerID: 5, Visibility: model.VisibilityPrivate,
		UnitsDisabled: map[model.Unit]bool{model.UnitIssues: true},
	})
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 5}, Token: "t1"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitIssues, model.AccessRead)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if ok {
		t.Fatal("expected a disabled unit to never be granted, even to the owner")
	}
}

func TestCanPublicRepoGrantsAnonymousRead(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPublic})
	e := newTestEngine(t, store)

	rc := RequestContext{Token: "anon"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessRead)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if !ok {
		t.Fatal("expected anonymous read on a public repo")
	}
}

func TestCanPrivateRepoDeniesAnonymous(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPrivate})
	e := newTestEngine(t, store)

	rc := RequestContext{Token: "anon"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessRead)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if ok {
		t.Fatal("expected anonymous read to be denied on a private repo")
	}
}

func TestCanArchivedRepoDeniesCodeWrite(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPublic, Archived: true})
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 5}, Token: "t1"}
	ok, err := e.Can(context.Background(), rc, store.repos[1], model.UnitCode, model.AccessWrite)
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if ok {
		t.Fatal("expected an archived repo to deny code write even to its owner")
	}
}

func TestCanOrgOwnerAndTeamAndBasePermission(t *testing.T) {
	store := NewMemStore()
	store.PutSubject(model.Subject{ID: 100, Kind: model.SubjectOrg, Visibility: model.VisibilityPrivate})
	store.PutRepository(model.Repository{ID: 1, OwnerID: 100, Visibility: model.VisibilityPrivate})
	store.SetOrgOwner(100, 7, true)
	store.SetOrgMember(100, 8, true)
	store.SetOrgBasePermission(100, model.AccessRead)
	store.AddTeam(model.Team{ID: 1, OrgID: 100, Repos: map[int64][]model.UnitPermission{
		1: {{Unit: model.UnitCode, Mode: model.AccessWrite}},
	}})
	store.AddTeamMember(1, 9)
	e := newTestEngine(t, store)

	ownerRC := RequestContext{Subject: &model.Subject{ID: 7}, Token: "owner"}
	ok, err := e.Can(context.Background(), ownerRC, store.repos[1], model.UnitCode, model.AccessAdmin)
	if err != nil || !ok {
		t.Fatalf("expected org owner admin access, ok=%v err=%v", ok, err)
	}

	memberRC := RequestContext{Subject: &model.Subject{ID: 8}, Token: "member"}
	ok, err = e.Can(context.Background(), memberRC, store.repos[1], model.UnitCode, model.AccessRead)
	if err != nil || !ok {
		t.Fatalf("expected org member base read access, ok=%v err=%v", ok, err)
	}
	ok, _ = e.Can(context.Background(), memberRC, store.repos[1], model.UnitCode, model.AccessWrite)
	if ok {
		t.Fatal("expected org member without a team grant not to have write access")
	}

	teamRC := RequestContext{Subject: &model.Subject{ID: 9}, Token: "team"}
	ok, err = e.Can(context.Background(), teamRC, store.repos[1], model.UnitCode, model.AccessWrite)
	if err != nil || !ok {
		t.Fatalf("expected team grant to give write access, ok=%v err=%v", ok, err)
	}
}

func TestResolveCachesByToken(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPrivate})
	store.SetCollaborator(1, 6, model.AccessRead)
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 6}, Token: "cached"}
	first, err := e.Resolve(context.Background(), rc, store.repos[1])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	store.SetCollaborator(1, 6, model.AccessAdmin)
	second, err := e.Resolve(context.Background(), rc, store.repos[1])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.Mode(model.UnitCode) != first.Mode(model.UnitCode) {
		t.Fatal("expected the cached result to be reused within the same request token")
	}

	e.Invalidate("cached")
	third, err := e.Resolve(context.Background(), rc, store.repos[1])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if third.Mode(model.UnitCode) != model.AccessAdmin {
		t.Fatal("expected Invalidate to force a fresh resolve")
	}
}

func TestVisibleReposForFiltersToReadable(t *testing.T) {
	store := NewMemStore()
	store.PutRepository(model.Repository{ID: 1, OwnerID: 5, Visibility: model.VisibilityPublic})
	store.PutRepository(model.Repository{ID: 2, OwnerID: 5, Visibility: model.VisibilityPrivate})
	store.PutRepository(model.Repository{ID: 3, OwnerID: 6, Visibility: model.VisibilityPrivate})
	store.SetCollaborator(3, 6, model.AccessRead) // irrelevant self-grant; included for realism
	e := newTestEngine(t, store)

	rc := RequestContext{Subject: &model.Subject{ID: 5}, Token: "visible"}
	ids, err := e.VisibleReposFor(context.Background(), rc)
	if err != nil {
		t.Fatalf("VisibleReposFor: %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []int64{1, 2}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("visible repo set mismatch (-want +got):\n%s", diff)
	}
}
