package sshd

import (
	"encoding/json"
	"testing"

	"github.com/plue-git/plue/internal/model"
)

func TestGitArgsForVerbLFSTransfer(t *testing.T) {
	cmd := Command{Verb: VerbLFSTransfer, OwnerPath: "acme", RepoPath: "widgets", LFSSubVerb: "upload"}
	args := gitArgsForVerb(cmd, model.Repository{ID: 7})
	want := []string{"lfs-transfer", "/data/repositories/7.git", "upload"}
	if len(args) != len(want) {
		t.Fatalf("got %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("got %v, want %v", args, want)
		}
	}
}

func TestLFSAuthenticateResponseCarriesHrefAndBearerToken(t *testing.T) {
	cmd := Command{Verb: VerbLFSAuthenticate, OwnerPath: "acme", RepoPath: "widgets", LFSSubVerb: "download"}
	raw := lfsAuthenticateResponse("http://dispatcher.internal:8081/", cmd)

	var payload struct {
		Href      string            `json:"href"`
		Header    map[string]string `json:"header"`
		ExpiresIn int               `json:"expires_in"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, raw)
	}
	if payload.Href != "http://dispatcher.internal:8081/acme/widgets.git/info/lfs" {
		t.Fatalf("unexpected href: %s", payload.Href)
	}
	if payload.Header["Authorization"] == "" {
		t.Fatal("expected a bearer token in the Authorization header")
	}
	if payload.ExpiresIn <= 0 {
		t.Fatal("expected a positive expires_in")
	}
}
