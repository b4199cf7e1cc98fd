// Command plue-hook is what a repository's .git/hooks/post-receive script
// execs after git applies a push: it reads the standard
// "<old-sha> <new-sha> <ref>" lines git feeds a post-receive hook on
// stdin, builds a postreceive.PushEvent (pulling commit/path diffs through
// the same internal/gitexec allow-listed executor every other git
// invocation goes through), and hands it to the dispatcherd over HTTP so
// the hook process itself never needs a WorkflowLister, RunStore, or
// Publisher of its own.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plue-git/plue/internal/gitexec"
	"github.com/plue-git/plue/internal/postreceive"
)

type options struct {
	dispatcherdURL string
	gitDir         string
	timeout        time.Duration
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.dispatcherdURL, "dispatcherd-url", "http://127.0.0.1:8081", "base URL of the running plue-dispatcherd")
	flags.StringVar(&o.gitDir, "git-dir", ".", "the repository's GIT_DIR, where hooks run")
	flags.DurationVar(&o.timeout, "timeout", 10*time.Second, "deadline for the dispatcherd callback")
}

func main() {
	o := &options{}
	root := &cobra.Command{
		Use:   "plue-hook",
		Short: "post-receive hook bridge from git to plue-dispatcherd",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o, os.Stdin)
		},
	}
	o.addFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o *options, stdin io.Reader) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	repoID, _ := strconv.ParseInt(os.Getenv("PLUE_REPO_ID"), 10, 64)
	actorID, _ := strconv.ParseInt(os.Getenv("PLUE_PUSHER_ID"), 10, 64)

	exec, err := gitexec.New("", log)
	if err != nil {
		return err
	}

	var refUpdates []postreceive.RefUpdate
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		before, after, ref := fields[0], fields[1], fields[2]

		update := postreceive.RefUpdate{Ref: ref, BeforeSHA: before, AfterSHA: after}
		if !update.IsBranchDeletion() {
			ctx := context.Background()
			commits, err := postreceive.ListPushedCommits(ctx, exec, o.gitDir, before, after)
			if err != nil {
				log.WithError(err).WithField("ref", ref).Error("listing pushed commits")
			} else {
				update.Commits = commits
			}
			paths, err := postreceive.ListChangedPaths(ctx, exec, o.gitDir, before, after)
			if err != nil {
				log.WithError(err).WithField("ref", ref).Error("listing changed paths")
			} else {
				update.ChangedPaths = paths
			}
		}
		refUpdates = append(refUpdates, update)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(refUpdates) == 0 {
		return nil
	}

	evt := postreceive.PushEvent{RepositoryID: repoID, ActorID: actorID, RefUpdates: refUpdates}
	return postPushEvent(o, evt)
}

func postPushEvent(o *options, evt postreceive.PushEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.dispatcherdURL+"/internal/post-receive", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling dispatcherd post-receive endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatcherd post-receive callback returned %s", resp.Status)
	}
	return nil
}
