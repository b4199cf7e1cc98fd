package gitexec

import "testing"

func TestProtocolContextEnvIncludesRequiredFields(t *testing.T) {
	p := ProtocolContext{
		PusherID:   7,
		PusherName: "octocat",
		RepoID:     3,
		RepoOwner:  "acme",
		RepoName:   "widgets",
		IsWiki:     true,
	}
	env := p.Env()
	want := map[string]string{
		"PLUE_PUSHER_ID":      "7",
		"PLUE_PUSHER_NAME":    "octocat",
		"PLUE_REPO_ID":        "3",
		"PLUE_REPO_USER_NAME": "acme",
		"PLUE_REPO_NAME":      "widgets",
		"PLUE_REPO_IS_WIKI":   "true",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("env[%q] = %q, want %q", k, env[k], v)
		}
	}
	if _, ok := env["PLUE_KEY_ID"]; ok {
		t.Error("PLUE_KEY_ID should be absent when KeyID is nil")
	}
}

func TestProtocolContextEnvIncludesOptionalFields(t *testing.T) {
	keyID := int64(42)
	prID := int64(9)
	p := ProtocolContext{KeyID: &keyID, IsInternal: true, PullRequestID: &prID}
	env := p.Env()
	if env["PLUE_KEY_ID"] != "42" {
		t.Errorf("PLUE_KEY_ID = %q, want 42", env["PLUE_KEY_ID"])
	}
	if env["PLUE_IS_INTERNAL"] != "true" {
		t.Errorf("PLUE_IS_INTERNAL = %q, want true", env["PLUE_IS_INTERNAL"])
	}
	if env["PLUE_PR_ID"] != "9" {
		t.Errorf("PLUE_PR_ID = %q, want 9", env["PLUE_PR_ID"])
	}
}
