package gitexec

import (
	"strings"

	"github.com/plue-git/plue/internal/plueerr"
)

// allowedVerbs is the explicit allow-list for the first positional argument
// to git. Anything not on this list is rejected before spawn (§4.1).
var allowedVerbs = map[string]bool{
	"version":         true,
	"init":            true,
	"config":          true,
	"show":            true,
	"ls-tree":         true,
	"log":             true,
	"rev-parse":       true,
	"rev-list":        true,
	"cat-file":        true,
	"diff":            true,
	"diff-tree":       true,
	"archive":         true,
	"upload-pack":     true,
	"receive-pack":    true,
	"upload-archive":  true,
	"hash-object":     true,
	"symbolic-ref":    true,
	"update-server-info": true,
}

// deniedOptions is a deny-list consulted even for options that would
// otherwise pass the allow-list, because they're known-dangerous: arbitrary
// file writes, or legacy remote-execution escapes.
var deniedOptions = map[string]bool{
	"--upload-archive": true,
	"--output":         true,
	"--exec":           true,
	"--upload-pack":    true,
}

// allowedOptions covers options that take a `=value` or a bare form;
// matched by exact name after any `=value` suffix is stripped.
var allowedOptions = map[string]bool{
	"--all":             true,
	"--bare":            true,
	"--stateless-rpc":   true,
	"--strict":          true,
	"--advertise-refs":  true,
	"--http-backend-info-refs": true,
	"--quiet":           true,
	"--porcelain":       true,
	"--name-only":       true,
	"--name-status":     true,
	"--numstat":         true,
	"--pretty":          true,
	"--format":          true,
	"--max-count":       true,
	"--since":           true,
	"--until":           true,
	"--get":             true,
	"--get-all":         true,
	"--list":            true,
	"--global":          true,
	"--local":           true,
	"--show-toplevel":   true,
	"--verify":          true,
	"--short":           true,
	"--symbolic-full-name": true,
	"-t":                true,
	"-p":                true,
	"-s":                true,
	"-n":                true,
	"-z":                true,
}

// ValidateArgs checks the verb allow-list, option allow/deny-lists, and
// repository path safety for a full argv (verb first). It returns a
// *plueerr.Error of KindValidation on the first violation.
func ValidateArgs(args []string) error {
	if len(args) == 0 {
		return plueerr.Validation("empty_args", "no arguments supplied")
	}
	verb := args[0]
	if !allowedVerbs[verb] {
		return plueerr.Validation("verb_not_allowed", "git verb %q is not on the allow-list", verb)
	}
	for _, arg := range args[1:] {
		if !strings.HasPrefix(arg, "-") {
			if err := ValidateRepoPath(arg); err != nil {
				// Not every non-flag argument is a repo path (e.g. revs,
				// pathspecs); ValidateRepoPath only rejects clearly unsafe
				// forms (absolute, traversal, backslash, overlength), so
				// it is safe to run over every positional argument.
				return err
			}
			continue
		}
		if arg == "--" {
			// Harmless revs/paths separator; always allowed.
			continue
		}
		opt := arg
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			opt = arg[:eq]
		}
		if deniedOptions[opt] {
			return plueerr.Validation("option_denied", "option %q is explicitly denied", arg)
		}
		if !allowedOptions[opt] {
			return plueerr.Validation("option_not_allowed", "option %q is not on the allow-list", arg)
		}
	}
	return nil
}

// ValidateRepoPath enforces §4.1's repository-path safety rules: no
// absolute paths, no ".." segments, no backslashes, length <= 1024.
func ValidateRepoPath(p string) error {
	if len(p) > 1024 {
		return plueerr.Validation("path_too_long", "path exceeds 1024 bytes")
	}
	if strings.ContainsRune(p, '\\') {
		return plueerr.Validation("path_backslash", "path %q contains a backslash", p)
	}
	if strings.HasPrefix(p, "/") {
		return plueerr.Validation("path_absolute", "path %q is absolute", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return plueerr.Validation("path_traversal", "path %q contains a \"..\" segment", p)
		}
	}
	return nil
}

// envAllowPrefixes are the prefixes of environment variable names copied
// from the parent into the child. Exact-match names are listed separately.
var envAllowPrefixes = []string{"GIT_", "PLUE_"}

var envAllowExact = map[string]bool{
	"HOME":   true,
	"PATH":   true,
	"LANG":   true,
	"LC_ALL": true,
}

// EnvAllowed reports whether an environment variable name may be forwarded
// to the git child process.
func EnvAllowed(name string) bool {
	if envAllowExact[name] {
		return true
	}
	for _, p := range envAllowPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
