package sshd

import (
	"strings"

	"github.com/google/shlex"

	"github.com/plue-git/plue/internal/plueerr"
)

// Verb is a recognized exec-request command (§4.2 "command extraction").
type Verb string

const (
	VerbUploadPack      Verb = "git-upload-pack"
	VerbReceivePack     Verb = "git-receive-pack"
	VerbUploadArchive   Verb = "git-upload-archive"
	VerbLFSAuthenticate Verb = "git-lfs-authenticate"
	VerbLFSTransfer     Verb = "git-lfs-transfer"
	VerbSSHInfo         Verb = "ssh_info"
)

var knownVerbs = map[Verb]bool{
	VerbUploadPack:      true,
	VerbReceivePack:     true,
	VerbUploadArchive:   true,
	VerbLFSAuthenticate: true,
	VerbLFSTransfer:     true,
	VerbSSHInfo:         true,
}

// Command is a parsed exec-request payload.
type Command struct {
	Verb      Verb
	OwnerPath string // first path component
	RepoPath  string // second path component (without a trailing ".git")
	LFSSubVerb string // "download" or "upload", only for LFS verbs
}

// ParseCommand tokenizes rawCommand with POSIX shell quoting rules (no
// shell is invoked; shlex.Split performs the tokenization the way a POSIX
// shell's word-splitting would, which is the only thing Plue borrows from
// "running a shell") and validates it against §4.2's command grammar.
func ParseCommand(rawCommand string) (Command, error) {
	tokens, err := shlex.Split(rawCommand)
	if err != nil {
		return Command{}, plueerr.Validation("bad_command_quoting", "could not tokenize command: %v", err)
	}
	if len(tokens) == 0 {
		return Command{}, plueerr.Validation("empty_command", "exec request carried no command")
	}

	verb := Verb(tokens[0])
	if !knownVerbs[verb] {
		return Command{}, plueerr.Validation("unknown_verb", "verb %q is not recognized", tokens[0])
	}

	if verb == VerbSSHInfo {
		return Command{Verb: verb}, nil
	}

	if len(tokens) < 2 {
		return Command{}, plueerr.Validation("missing_repo_operand", "command %q requires a repository operand", verb)
	}

	owner, repo, err := parseRepoOperand(tokens[1])
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Verb: verb, OwnerPath: owner, RepoPath: repo}

	if verb == VerbLFSAuthenticate || verb == VerbLFSTransfer {
		if len(tokens) < 3 {
			return Command{}, plueerr.Validation("missing_lfs_subverb", "%q requires a download/upload sub-verb", verb)
		}
		sub := tokens[2]
		if sub != "download" && sub != "upload" {
			return Command{}, plueerr.Validation("bad_lfs_subverb", "sub-verb must be download or upload, got %q", sub)
		}
		cmd.LFSSubVerb = sub
	}

	return cmd, nil
}

// parseRepoOperand trims surrounding quotes (already handled by shlex),
// a leading "/", and a trailing ".git", then requires exactly two
// non-empty path components free of ".." and "\" (§4.2).
func parseRepoOperand(operand string) (owner, repo string, err error) {
	trimmed := strings.TrimPrefix(operand, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	if strings.Contains(trimmed, "..") || strings.Contains(trimmed, "\\") {
		return "", "", plueerr.Validation("invalid_repo_operand", "repository operand %q contains a disallowed sequence", operand)
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", plueerr.Validation("invalid_repo_operand", "repository operand %q must be exactly owner/repo", operand)
	}
	return parts[0], parts[1], nil
}

// AccessRequest returns the unit a Verb is authorized against ("code" for
// the git verbs, "packages" for the LFS verbs), whether it needs write
// access, and whether it is an LFS verb (§4.2 "authorization" paragraph).
func (c Command) AccessRequest() (unit string, write bool, isLFS bool) {
	switch c.Verb {
	case VerbReceivePack:
		return "code", true, false
	case VerbUploadPack, VerbUploadArchive:
		return "code", false, false
	case VerbLFSAuthenticate, VerbLFSTransfer:
		return "packages", c.LFSSubVerb == "upload", true
	default:
		return "", false, false
	}
}
