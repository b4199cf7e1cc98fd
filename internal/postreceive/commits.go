package postreceive

import (
	"context"
	"strings"
	"time"

	"github.com/plue-git/plue/internal/gitexec"
)

const commitFieldSep = "\x1f"

// ListPushedCommits runs `git log` over before..after to read the commits a
// push introduced, oldest first, matching the order a post-receive hook
// observes them in.
func ListPushedCommits(ctx context.Context, exec *gitexec.Executor, repoDir, before, after string) ([]Commit, error) {
	rangeArg := after
	if before != "" && before != nullOID {
		rangeArg = before + ".." + after
	}
	format := strings.Join([]string{"%H", "%an", "%ae", "%s", "%aI"}, commitFieldSep)
	result, err := exec.Run(ctx, []string{"log", "--reverse", "--no-merges", "--pretty=format:" + format, rangeArg}, gitexec.Options{Dir: repoDir})
	if err != nil {
		return nil, err
	}

	var commits []Commit
	for _, line := range strings.Split(strings.TrimRight(string(result.Stdout), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, commitFieldSep, 5)
		if len(fields) != 5 {
			continue
		}
		authoredAt, _ := time.Parse(time.RFC3339, fields[4])
		commits = append(commits, Commit{
			SHA:         fields[0],
			AuthorName:  fields[1],
			AuthorEmail: fields[2],
			Message:     fields[3],
			AuthoredAt:  authoredAt,
		})
	}
	return commits, nil
}

// ListChangedPaths runs `git diff --name-only` over before..after.
func ListChangedPaths(ctx context.Context, exec *gitexec.Executor, repoDir, before, after string) ([]string, error) {
	if before == "" || before == nullOID {
		// A new branch with no prior ref: only the paths the tip commit
		// changes relative to its parent count as changed (a root commit,
		// having no parent, lists none).
		result, err := exec.Run(ctx, []string{"diff-tree", "--no-commit-id", "--name-only", "-r", after}, gitexec.Options{Dir: repoDir})
		if err != nil {
			return nil, err
		}
		return splitNonEmptyLines(string(result.Stdout)), nil
	}
	result, err := exec.Run(ctx, []string{"diff", "--name-only", before, after}, gitexec.Options{Dir: repoDir})
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(string(result.Stdout)), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
