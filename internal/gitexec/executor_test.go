package gitexec

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	exec, err := New("", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return exec
}

func TestRunCapturesStdout(t *testing.T) {
	exec := newTestExecutor(t)
	res, err := exec.Run(context.Background(), []string{"version"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "git version") {
		t.Errorf("stdout = %q, want it to contain \"git version\"", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunRejectsDisallowedVerbBeforeSpawning(t *testing.T) {
	exec := newTestExecutor(t)
	_, err := exec.Run(context.Background(), []string{"push", "origin", "main"}, Options{})
	if err == nil {
		t.Fatal("expected error for disallowed verb")
	}
	gitErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if gitErr.Code != CodeInvalidArgument {
		t.Errorf("Code = %v, want %v", gitErr.Code, CodeInvalidArgument)
	}
}

func TestRunOnInitializedRepository(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t)

	if _, err := exec.Run(context.Background(), []string{"init"}, Options{Dir: dir}); err != nil {
		t.Fatalf("init: %v", err)
	}
	res, err := exec.Run(context.Background(), []string{"rev-parse", "--show-toplevel"}, Options{Dir: dir})
	if err != nil {
		t.Fatalf("rev-parse: %v", err)
	}
	if len(bytes.TrimSpace(res.Stdout)) == 0 {
		t.Error("expected rev-parse to print a path")
	}
}

func TestRunStreamingDeliversChunks(t *testing.T) {
	exec := newTestExecutor(t)
	var out bytes.Buffer
	code, err := exec.RunStreaming(context.Background(), []string{"version"}, Options{}, func(p []byte) error {
		out.Write(p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if code != 0 {
		t.Errorf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "git version") {
		t.Errorf("streamed output = %q, want it to contain \"git version\"", out.String())
	}
}

func TestRunWithProtocolContextRunsInRepository(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t)
	if _, err := exec.Run(context.Background(), []string{"init", "--bare"}, Options{Dir: dir}); err != nil {
		t.Fatalf("init: %v", err)
	}

	proto := ProtocolContext{PusherID: 11, PusherName: "alice", RepoOwner: "acme", RepoName: "widgets"}
	res, err := exec.RunWithProtocolContext(context.Background(), []string{"config", "--get", "core.bare"}, nil, proto, Options{Dir: dir})
	if err != nil {
		t.Fatalf("config --get: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "true") {
		t.Errorf("expected core.bare to read true, got %q", res.Stdout)
	}
}

func TestNewResolvesGitFromPath(t *testing.T) {
	if _, err := os.Stat("/usr/bin/git"); err != nil {
		t.Skip("git not present at the expected path in this environment")
	}
	exec, err := New("", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if exec.gitBinary == "" {
		t.Error("expected a resolved git binary path")
	}
}
