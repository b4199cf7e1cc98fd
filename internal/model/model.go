// Package model holds the abstract semantic types shared by every Plue
// component: repositories, subjects, teams, units, keys, workflows, jobs,
// runners, and LFS objects. Structs follow boskos/common's convention of
// explicit, JSON-tagged fields with no dynamic maps.
package model

import "time"

// Visibility is a Repository's access-default tier.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
	VisibilityPrivate  Visibility = "private"
	VisibilityLimited  Visibility = "limited"
)

// Repository is a weak-referenced-by-id entity owned by a Subject.
type Repository struct {
	ID         int64      `json:"id"`
	OwnerID    int64      `json:"owner_id"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	Archived   bool       `json:"archived"`
	Mirror     bool       `json:"mirror"`
	Deleted    bool       `json:"deleted"`

	// UnitsDisabled lists units turned off at the repository level; no
	// permission tier may grant access to a disabled unit (§4.3).
	UnitsDisabled map[Unit]bool `json:"units_disabled,omitempty"`
}

// SubjectKind distinguishes a User from an Organization.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectOrg  SubjectKind = "organization"
)

// Subject is either a User or an Organization, identified by Kind.
type Subject struct {
	ID   int64       `json:"id"`
	Kind SubjectKind `json:"kind"`
	Name string      `json:"name"`

	// User-only fields.
	Active         bool `json:"active,omitempty"`
	DeletedFlag    bool `json:"deleted,omitempty"`
	Admin          bool `json:"admin,omitempty"`
	Restricted     bool `json:"restricted,omitempty"`
	ProhibitLogin  bool `json:"prohibit_login,omitempty"`

	// Organization-only field.
	Visibility Visibility `json:"visibility,omitempty"`
}

// Blocked reports whether a user Subject carries any flag that disables
// authentication, per §4.2 step 4.
func (s Subject) Blocked() bool {
	if s.Kind != SubjectUser {
		return false
	}
	return s.DeletedFlag || !s.Active || s.ProhibitLogin
}

// AccessMode is the strength of access a tier grants for a unit.
type AccessMode int

const (
	AccessNone AccessMode = iota
	AccessRead
	AccessWrite
	AccessAdmin
)

func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessAdmin:
		return "admin"
	default:
		return "none"
	}
}

// AtLeast reports whether m grants at least the requested mode.
func (m AccessMode) AtLeast(requested AccessMode) bool { return m >= requested }

// Unit is a feature area with independently-controlled access.
type Unit string

const (
	UnitCode         Unit = "code"
	UnitIssues       Unit = "issues"
	UnitPullRequests Unit = "pull_requests"
	UnitReleases     Unit = "releases"
	UnitWiki         Unit = "wiki"
	UnitPackages     Unit = "packages"
	UnitActions      Unit = "actions"
	UnitProjects     Unit = "projects"
)

// UnitPermission pairs a Unit with the mode granted for it.
type UnitPermission struct {
	Unit Unit       `json:"unit"`
	Mode AccessMode `json:"mode"`
}

// Team belongs to an Organization and may form a tree via ParentTeamID.
type Team struct {
	ID             int64      `json:"id"`
	OrgID          int64      `json:"org_id"`
	ParentTeamID   *int64     `json:"parent_team_id,omitempty"`
	Name           string     `json:"name"`
	BasePermission AccessMode `json:"base_permission"`

	// Repos maps a repository id to the set of unit permissions this team
	// grants for it.
	Repos map[int64][]UnitPermission `json:"repos,omitempty"`
}

// KeyType distinguishes the role a PublicKey plays.
type KeyType string

const (
	KeyTypeUser      KeyType = "user"
	KeyTypeDeploy    KeyType = "deploy"
	KeyTypePrincipal KeyType = "principal"
)

// DeployMode is the fixed access a deploy key carries.
type DeployMode string

const (
	DeployRead  DeployMode = "read"
	DeployWrite DeployMode = "write"
)

// PublicKey is looked up primarily by its SHA-256 Fingerprint.
type PublicKey struct {
	ID          int64      `json:"id"`
	OwnerUserID *int64     `json:"owner_user_id,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	Content     []byte     `json:"content"`
	Type        KeyType    `json:"type"`
	LastUsed    time.Time  `json:"last_used"`

	// Deploy-key-only fields.
	RepositoryID *int64      `json:"repository_id,omitempty"`
	DeployMode   *DeployMode `json:"deploy_mode,omitempty"`
}

// TriggerKind is a workflow trigger kind. Only TriggerPush is acted on
// (internal/postreceive); no enqueue path checks a kind against
// KnownTriggerKinds, so a kind outside this set is not refused.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerRelease     TriggerKind = "release"
	TriggerSchedule    TriggerKind = "schedule"
	TriggerWorkflowRun TriggerKind = "workflow_run"
)

// KnownTriggerKinds lists the recognized trigger kinds. No code in this
// module consults it.
var KnownTriggerKinds = map[TriggerKind]bool{
	TriggerPush:        true,
	TriggerPullRequest: true,
	TriggerRelease:     true,
	TriggerSchedule:    true,
	TriggerWorkflowRun: true,
}

// Workflow is immutable once stored for a given content hash.
type Workflow struct {
	ID           int64                  `json:"id"`
	RepositoryID int64                  `json:"repository_id"`
	Filename     string                 `json:"filename"`
	ContentHash  string                 `json:"content_hash"`
	Triggers     map[TriggerKind]bool   `json:"triggers"`
	Jobs         map[string]WorkflowJob `json:"jobs"`
}

// WorkflowJob is a job description within a Workflow, prior to being
// instantiated as a QueuedJob for a particular run.
type WorkflowJob struct {
	Key          string        `json:"key"`
	Needs        []string      `json:"needs,omitempty"`
	Labels       []string      `json:"labels,omitempty"`
	Architecture string        `json:"architecture,omitempty"`
	MinMemoryMB  int64         `json:"min_memory_mb,omitempty"`
	Docker       bool          `json:"docker,omitempty"`
	Priority     Priority      `json:"priority,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	MaxRetries   int           `json:"max_retries,omitempty"`
}

// RunStatus is a WorkflowRun's lifecycle state.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
)

// Conclusion is the terminal outcome of a WorkflowRun.
type Conclusion string

const (
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
	ConclusionTimedOut  Conclusion = "timed_out"
	ConclusionNone      Conclusion = ""
)

// WorkflowRun records one triggered execution of a Workflow. CommitSHA and
// Ref are immutable after insert (§3 invariants).
type WorkflowRun struct {
	ID           int64       `json:"id"`
	WorkflowID   int64       `json:"workflow_id"`
	RepositoryID int64       `json:"repository_id"`
	RunNumber    int64       `json:"run_number"`
	Trigger      TriggerKind `json:"trigger"`
	CommitSHA    string      `json:"commit_sha"`
	Ref          string      `json:"ref"`
	ActorID      int64       `json:"actor_id"`
	Status       RunStatus   `json:"status"`
	Conclusion   Conclusion  `json:"conclusion"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// Priority is a QueuedJob's scheduling tier, highest first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// PriorityOrder lists tiers from highest to lowest, the scan order used by
// the dispatcher's poll path (§4.4).
var PriorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// JobStatus is a QueuedJob's lifecycle state (§3 invariants: terminal states
// never reopen; a retry creates a new QueuedJob).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether a JobStatus cannot transition further.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCancelled, JobFailed:
		return true
	default:
		return false
	}
}

// Requirements describes what a Runner must offer to run a QueuedJob.
type Requirements struct {
	Labels       []string `json:"labels,omitempty"`
	Architecture string   `json:"architecture,omitempty"`
	MinMemoryMB  int64    `json:"min_memory_mb,omitempty"`
	Docker       bool     `json:"docker,omitempty"`
}

// QueuedJob is a unit of work within a WorkflowRun.
type QueuedJob struct {
	ID           string        `json:"id"`
	RunID        int64         `json:"run_id"`
	JobKey       string        `json:"job_key"`
	Priority     Priority      `json:"priority"`
	Requirements Requirements  `json:"requirements"`
	Dependencies []string      `json:"dependencies,omitempty"`
	RetryCount   int           `json:"retry_count"`
	MaxRetries   int           `json:"max_retries"`
	Timeout      time.Duration `json:"timeout"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	Status       JobStatus     `json:"status"`
	RunnerID     string        `json:"runner_id,omitempty"`
	FailReason   string        `json:"fail_reason,omitempty"`
}

// RunnerStatus is a Runner's availability state.
type RunnerStatus string

const (
	RunnerOnline  RunnerStatus = "online"
	RunnerOffline RunnerStatus = "offline"
	RunnerBusy    RunnerStatus = "busy"
)

// Runner is an external worker process that executes jobs.
type Runner struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Labels         []string     `json:"labels,omitempty"`
	Architecture   string       `json:"architecture"`
	MemoryMB       int64        `json:"memory_mb"`
	CPUCores       float64      `json:"cpu_cores"`
	Docker         bool         `json:"docker"`
	MaxParallel    int          `json:"max_parallel_jobs"`
	CurrentJobs    int          `json:"current_jobs"`
	Status         RunnerStatus `json:"status"`
	LastSeen       time.Time    `json:"last_seen"`
}

// HasCapacity reports whether the runner can accept one more job.
func (r Runner) HasCapacity() bool { return r.CurrentJobs < r.MaxParallel }

// LabelSet returns r's labels as a set for subset matching.
func (r Runner) LabelSet() map[string]bool {
	set := make(map[string]bool, len(r.Labels))
	for _, l := range r.Labels {
		set[l] = true
	}
	return set
}

// Satisfies reports whether the runner meets a job's requirements.
func (r Runner) Satisfies(req Requirements) bool {
	if req.Architecture != "" && req.Architecture != r.Architecture {
		return false
	}
	if req.MinMemoryMB > r.MemoryMB {
		return false
	}
	if req.Docker && !r.Docker {
		return false
	}
	labels := r.LabelSet()
	for _, l := range req.Labels {
		if !labels[l] {
			return false
		}
	}
	return true
}

// Tier is an LFS storage class reflecting expected access frequency.
type Tier string

const (
	TierHot      Tier = "hot"
	TierWarm     Tier = "warm"
	TierCold     Tier = "cold"
	TierArchival Tier = "archival"
)

// ScanVerdict is the outcome of a malware scan on an LfsObject.
type ScanVerdict string

const (
	ScanPending ScanVerdict = "pending"
	ScanClean   ScanVerdict = "clean"
	ScanFlagged ScanVerdict = "flagged"
)

// LfsObject is content-addressed by its hex SHA-256 OID.
type LfsObject struct {
	OID            string      `json:"oid"`
	Size           int64       `json:"size"`
	StoragePath    string      `json:"storage_path"`
	Tier           Tier        `json:"tier"`
	RefCount       int         `json:"ref_count"`
	EncryptionKeyID string     `json:"encryption_key_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessed   time.Time   `json:"last_accessed"`
	ScanVerdict    ScanVerdict `json:"scan_verdict"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
}

// RunnersByLastSeen helps sorting runners for staleness sweeps, matching the
// boskos/common.ResourceByUpdateTime sort-helper idiom.
type RunnersByLastSeen []Runner

func (r RunnersByLastSeen) Len() int           { return len(r) }
func (r RunnersByLastSeen) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r RunnersByLastSeen) Less(i, j int) bool { return r[i].LastSeen.Before(r[j].LastSeen) }
