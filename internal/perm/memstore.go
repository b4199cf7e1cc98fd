package perm

import (
	"context"
	"sync"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// MemStore is an in-memory Store, grounded on dispatch.MemStore's shape
// (itself grounded on boskos/storage's in-memory backing store), used by
// engine tests and by standalone deployments with no database configured.
type MemStore struct {
	mu sync.Mutex

	repos         map[int64]model.Repository
	subjects      map[int64]model.Subject
	admins        map[int64]bool
	collaborators map[int64]map[int64]model.AccessMode
	orgOwners     map[int64]map[int64]bool
	orgMembers    map[int64]map[int64]bool
	orgBase       map[int64]model.AccessMode
	teams         map[int64][]model.Team    // orgID -> teams
	teamMembers   map[int64]map[int64]bool // teamID -> subjectID -> member
}

func NewMemStore() *MemStore {
	return &MemStore{
		repos:         map[int64]model.Repository{},
		subjects:      map[int64]model.Subject{},
		admins:        map[int64]bool{},
		collaborators: map[int64]map[int64]model.AccessMode{},
		orgOwners:     map[int64]map[int64]bool{},
		orgMembers:    map[int64]map[int64]bool{},
		orgBase:       map[int64]model.AccessMode{},
		teams:         map[int64][]model.Team{},
		teamMembers:   map[int64]map[int64]bool{},
	}
}

func (s *MemStore) PutRepository(repo model.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo.ID] = repo
}

func (s *MemStore) PutSubject(subj model.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subj.ID] = subj
}

func (s *MemStore) SetSystemAdmin(subjectID int64, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[subjectID] = admin
}

func (s *MemStore) SetCollaborator(repoID, subjectID int64, mode model.AccessMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collaborators[repoID] == nil {
		s.collaborators[repoID] = map[int64]model.AccessMode{}
	}
	s.collaborators[repoID][subjectID] = mode
}

func (s *MemStore) SetOrgOwner(orgID, subjectID int64, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgOwners[orgID] == nil {
		s.orgOwners[orgID] = map[int64]bool{}
	}
	s.orgOwners[orgID][subjectID] = owner
}

func (s *MemStore) SetOrgMember(orgID, subjectID int64, member bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgMembers[orgID] == nil {
		s.orgMembers[orgID] = map[int64]bool{}
	}
	s.orgMembers[orgID][subjectID] = member
}

func (s *MemStore) SetOrgBasePermission(orgID int64, mode model.AccessMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgBase[orgID] = mode
}

func (s *MemStore) AddTeam(team model.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[team.OrgID] = append(s.teams[team.OrgID], team)
}

func (s *MemStore) AddTeamMember(teamID, subjectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.teamMembers[teamID] == nil {
		s.teamMembers[teamID] = map[int64]bool{}
	}
	s.teamMembers[teamID][subjectID] = true
}

func (s *MemStore) GetRepository(_ context.Context, repoID int64) (model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[repoID]
	if !ok {
		return model.Repository{}, plueerr.NotFound("repository", "repository %d not found", repoID)
	}
	return repo, nil
}

func (s *MemStore) GetSubject(_ context.Context, subjectID int64) (model.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj, ok := s.subjects[subjectID]
	if !ok {
		return model.Subject{}, plueerr.NotFound("subject", "subject %d not found", subjectID)
	}
	return subj, nil
}

func (s *MemStore) IsSystemAdmin(_ context.Context, subjectID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admins[subjectID], nil
}

func (s *MemStore) Collaborator(_ context.Context, repoID, subjectID int64) (model.AccessMode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode, ok := s.collaborators[repoID][subjectID]
	return mode, ok, nil
}

func (s *MemStore) OrgOwner(_ context.Context, orgID, subjectID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgOwners[orgID][subjectID], nil
}

func (s *MemStore) OrgMember(_ context.Context, orgID, subjectID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgMembers[orgID][subjectID], nil
}

func (s *MemStore) OrgBasePermission(_ context.Context, orgID int64) (model.AccessMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgBase[orgID], nil
}

func (s *MemStore) TeamsForSubjectInOrg(_ context.Context, orgID, subjectID int64) ([]model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Team
	for _, team := range s.teams[orgID] {
		if s.teamMembers[team.ID][subjectID] {
			out = append(out, team)
		}
	}
	return out, nil
}

func (s *MemStore) CandidateRepositories(_ context.Context, subjectID int64) ([]model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Repository
	for _, repo := range s.repos {
		if repo.Deleted {
			continue
		}
		if repo.Visibility == model.VisibilityPublic || repo.Visibility == model.VisibilityInternal {
			out = append(out, repo)
			continue
		}
		if repo.OwnerID == subjectID {
			out = append(out, repo)
			continue
		}
		if s.orgMembers[repo.OwnerID][subjectID] || s.orgOwners[repo.OwnerID][subjectID] {
			out = append(out, repo)
			continue
		}
		if _, ok := s.collaborators[repo.ID][subjectID]; ok {
			out = append(out, repo)
		}
	}
	return out, nil
}
