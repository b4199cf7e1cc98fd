package gitexec

import "fmt"

// ProtocolContext is the typed bundle of information conveyed to Git hooks
// as environment variables, identifying the pusher and target repository
// (§4.1, §6 "Hook environment").
type ProtocolContext struct {
	PusherID      int64
	PusherName    string
	RepoID        int64
	RepoOwner     string
	RepoName      string
	IsWiki        bool
	KeyID         *int64
	IsInternal    bool
	PullRequestID *int64
}

// Env renders the protocol context as the PLUE_* hook environment
// variables named in spec §6.
func (p ProtocolContext) Env() map[string]string {
	env := map[string]string{
		"PLUE_PUSHER_ID":      fmt.Sprintf("%d", p.PusherID),
		"PLUE_PUSHER_NAME":    p.PusherName,
		"PLUE_REPO_ID":        fmt.Sprintf("%d", p.RepoID),
		"PLUE_REPO_USER_NAME": p.RepoOwner,
		"PLUE_REPO_NAME":      p.RepoName,
		"PLUE_REPO_IS_WIKI":   fmt.Sprintf("%t", p.IsWiki),
	}
	if p.KeyID != nil {
		env["PLUE_KEY_ID"] = fmt.Sprintf("%d", *p.KeyID)
	}
	if p.IsInternal {
		env["PLUE_IS_INTERNAL"] = "true"
	}
	if p.PullRequestID != nil {
		env["PLUE_PR_ID"] = fmt.Sprintf("%d", *p.PullRequestID)
	}
	return env
}
