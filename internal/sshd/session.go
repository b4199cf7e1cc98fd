package sshd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"

	"github.com/plue-git/plue/internal/gitexec"
	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/perm"
)

// lfsAuthExpiry is how long the bearer token returned by
// git-lfs-authenticate is advertised as valid to the LFS client, matching
// the Git LFS SSH-authentication wire format's expires_in field.
const lfsAuthExpiry = 5 * time.Minute

// execPayload mirrors the wire format of an SSH "exec" channel request: a
// single length-prefixed command string (RFC 4254 §6.5).
type execPayload struct {
	Command string
}

// handleSession services one accepted "session" channel: it waits for the
// single exec request every Plue verb arrives as, authorizes it, and runs
// the corresponding git subcommand with output streamed live to the
// channel (§4.2 "command extraction" through "execution").
func (s *Server) handleSession(conn *gossh.ServerConn, channel gossh.Channel, requests <-chan *gossh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		payload, err := parseExecPayload(req.Payload)
		if err != nil {
			fmt.Fprintf(channel.Stderr(), "plue: %v\n", err)
			sendExitStatus(channel, 128)
			return
		}

		exitCode := s.runExec(conn, channel, payload.Command)
		sendExitStatus(channel, exitCode)
		return
	}
}

// runExec is the §4.2 pipeline for one exec request: parse, resolve the
// target repository, authorize, then execute. It returns the process exit
// status to report back over the channel (128 for a rejection that never
// reaches git, matching the shell convention for "command not executed").
func (s *Server) runExec(conn *gossh.ServerConn, channel gossh.Channel, rawCommand string) int {
	ctx := context.Background()

	cmd, err := ParseCommand(rawCommand)
	if err != nil {
		fmt.Fprintf(channel.Stderr(), "plue: %v\n", err)
		return 128
	}

	if cmd.Verb == VerbSSHInfo {
		fmt.Fprintf(channel, "%s\n", sshInfoLine(conn))
		return 0
	}

	repo, found, err := s.repos.ResolveRepository(ctx, cmd.OwnerPath, cmd.RepoPath)
	if err != nil {
		fmt.Fprintf(channel.Stderr(), "plue: could not resolve repository: %v\n", err)
		return 128
	}
	if !found || repo.Deleted {
		fmt.Fprintf(channel.Stderr(), "plue: repository not found\n")
		return 128
	}

	unit, write, _ := cmd.AccessRequest()
	op := model.AccessRead
	if write {
		op = model.AccessWrite
	}

	// A deploy key is scoped to exactly one repository with a fixed mode
	// (§3 "Deploy key"); it never goes through the full permission ladder,
	// since it names no subject and the ladder has nothing to resolve.
	if deployRepoID, deployMode, ok := deployKeyFromPermissions(conn.Permissions); ok {
		if deployRepoID != repo.ID {
			fmt.Fprintf(channel.Stderr(), "plue: deploy key is not bound to this repository\n")
			return 128
		}
		if write && deployMode != model.DeployWrite {
			fmt.Fprintf(channel.Stderr(), "plue: deploy key only grants read access\n")
			return 128
		}
	} else {
		rc := perm.RequestContext{Subject: subjectFromPermissions(conn.Permissions), Token: sessionToken(conn)}
		allowed, err := s.perm.Can(ctx, rc, repo, model.Unit(unit), op)
		if err != nil {
			fmt.Fprintf(channel.Stderr(), "plue: authorization check failed: %v\n", err)
			return 128
		}
		if !allowed {
			fmt.Fprintf(channel.Stderr(), "plue: access denied\n")
			return 128
		}
	}

	if cmd.Verb == VerbLFSAuthenticate {
		fmt.Fprintf(channel, "%s\n", lfsAuthenticateResponse(s.cfg.LFSAuthBaseURL, cmd))
		return 0
	}

	protoCtx := s.buildProtocolContext(conn, cmd, repo)
	args := gitArgsForVerb(cmd, repo)
	if args == nil {
		fmt.Fprintf(channel.Stderr(), "plue: %s is not yet executable over this front end\n", cmd.Verb)
		return 128
	}

	opts := gitexec.Options{Dir: repoDir(repo)}
	exitCode, err := s.exec.RunStreamingWithProtocolContext(ctx, args, protoCtx, opts,
		func(p []byte) error { _, werr := channel.Write(p); return werr },
		func(p []byte) error { _, werr := channel.Stderr().Write(p); return werr },
	)
	if err != nil && exitCode == 0 {
		fmt.Fprintf(channel.Stderr(), "plue: %v\n", err)
		return 1
	}
	return exitCode
}

func gitArgsForVerb(cmd Command, repo model.Repository) []string {
	dir := repoDir(repo)
	switch cmd.Verb {
	case VerbUploadPack:
		return []string{"upload-pack", "--stateless-rpc", dir}
	case VerbReceivePack:
		return []string{"receive-pack", dir}
	case VerbUploadArchive:
		return []string{"upload-archive", dir}
	case VerbLFSTransfer:
		// "git lfs-transfer" resolves to the git-lfs package's own
		// git-lfs-transfer helper on PATH, the same execvp dispatch git
		// uses to find git-upload-pack/git-receive-pack; Plue never talks
		// the pure-SSH LFS protocol itself, it only ever spawns the helper
		// that does, same as every other verb here.
		return []string{"lfs-transfer", dir, cmd.LFSSubVerb}
	default:
		return nil
	}
}

// lfsAuthenticateResponse builds the JSON href/token payload the Git LFS
// client expects on the fd from git-lfs-authenticate: a batch-API endpoint
// plus a bearer token to present there, per the Git LFS SSH-authentication
// extension. The token is a random UUID that this package does not record,
// so nothing binds it to this repository or direction or limits it to one
// use; cmd/plue-dispatcherd's LFS handler does not check it either.
func lfsAuthenticateResponse(baseURL string, cmd Command) string {
	href := fmt.Sprintf("%s/%s/%s.git/info/lfs", strings.TrimSuffix(baseURL, "/"), cmd.OwnerPath, cmd.RepoPath)
	payload := struct {
		Href      string            `json:"href"`
		Header    map[string]string `json:"header,omitempty"`
		ExpiresIn int               `json:"expires_in"`
	}{
		Href:      href,
		Header:    map[string]string{"Authorization": "Bearer " + uuid.NewString()},
		ExpiresIn: int(lfsAuthExpiry.Seconds()),
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func repoDir(repo model.Repository) string {
	return fmt.Sprintf("/data/repositories/%d.git", repo.ID)
}

func (s *Server) buildProtocolContext(conn *gossh.ServerConn, cmd Command, repo model.Repository) gitexec.ProtocolContext {
	pc := gitexec.ProtocolContext{RepoID: repo.ID, RepoOwner: cmd.OwnerPath, RepoName: cmd.RepoPath}
	if conn.Permissions == nil {
		return pc
	}
	if idStr, ok := conn.Permissions.Extensions["subject_id"]; ok {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			pc.PusherID = id
		}
	}
	if idStr, ok := conn.Permissions.Extensions["key_id"]; ok {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			pc.KeyID = &id
		}
	}
	return pc
}

// deployKeyFromPermissions reports the bound repository id and fixed mode
// recorded by publicKeyCallback when the authenticating key was a deploy
// key, per AuthResult.Repository/DeployMode.
func deployKeyFromPermissions(perms *gossh.Permissions) (repoID int64, mode model.DeployMode, ok bool) {
	if perms == nil {
		return 0, "", false
	}
	idStr, hasRepo := perms.Extensions["deploy_repo_id"]
	modeStr, hasMode := perms.Extensions["deploy_mode"]
	if !hasRepo || !hasMode {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, model.DeployMode(modeStr), true
}

func subjectFromPermissions(perms *gossh.Permissions) *model.Subject {
	if perms == nil {
		return nil
	}
	idStr, ok := perms.Extensions["subject_id"]
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil
	}
	return &model.Subject{ID: id, Kind: model.SubjectUser, Active: true}
}

// sessionToken scopes the permission engine's request cache to one SSH
// connection, so two exec requests multiplexed over the same connection
// share resolved permissions but a new connection never does.
func sessionToken(conn *gossh.ServerConn) string {
	return fmt.Sprintf("sshd:%x", conn.SessionID())
}

func sshInfoLine(conn *gossh.ServerConn) string {
	return fmt.Sprintf(`{"client_id":"%x"}`, conn.SessionID())
}

func sendExitStatus(channel gossh.Channel, code int) {
	type exitStatusMsg struct{ Status uint32 }
	channel.SendRequest("exit-status", false, gossh.Marshal(exitStatusMsg{Status: uint32(code)}))
}

func parseExecPayload(payload []byte) (execPayload, error) {
	var p execPayload
	if err := gossh.Unmarshal(payload, &p); err != nil {
		return execPayload{}, err
	}
	return p, nil
}
