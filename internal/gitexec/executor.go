// Package gitexec spawns the git binary safely: whitelisted verbs and
// options, an allow-listed environment, bounded time and output, and
// concurrent draining of stdout/stderr so a child that fills its stderr
// pipe buffer can never deadlock the caller (§4.1).
package gitexec

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a buffered Run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Executor runs the git binary under the security rules of §4.1. It holds
// no caller-scoped allocator; callers own the Options they pass in.
type Executor struct {
	gitBinary string
	log       *logrus.Entry
}

var (
	resolveOnce   sync.Once
	resolvedPath  string
	resolvedErr   error
)

// resolveGitBinary looks up the git executable on PATH exactly once per
// process, per the §9 guidance on global process-wide state.
func resolveGitBinary() (string, error) {
	resolveOnce.Do(func() {
		resolvedPath, resolvedErr = exec.LookPath("git")
	})
	return resolvedPath, resolvedErr
}

// New builds an Executor. If gitBinary is empty, the binary is resolved
// from PATH once per process.
func New(gitBinary string, log *logrus.Entry) (*Executor, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if gitBinary == "" {
		resolved, err := resolveGitBinary()
		if err != nil {
			return nil, newError(CodeGitNotFound, Diagnostic{Command: "git"}, err)
		}
		gitBinary = resolved
	}
	ignoreSigpipe()
	return &Executor{gitBinary: gitBinary, log: log}, nil
}

// Run captures stdout and stderr in full, bounded by Options.MaxOutputBytes
// (default DefaultMaxBufferedOutput).
func (e *Executor) Run(ctx context.Context, args []string, opts Options) (Result, error) {
	return e.run(ctx, args, nil, opts)
}

// RunWithProtocolContext behaves like Run but additionally injects the hook
// environment variables derived from protoCtx (§4.1, §6).
func (e *Executor) RunWithProtocolContext(ctx context.Context, args []string, stdin []byte, protoCtx ProtocolContext, opts Options) (Result, error) {
	opts.Stdin = stdin
	return e.run(ctx, args, protoCtx.Env(), opts)
}

func (e *Executor) run(ctx context.Context, args []string, protoEnv map[string]string, opts Options) (Result, error) {
	var stdout, stderr bytes.Buffer
	maxOut := opts.maxBufferedOutput()
	var outTotal int64

	onStdout := func(p []byte) error {
		atomic.AddInt64(&outTotal, int64(len(p)))
		if atomic.LoadInt64(&outTotal) > maxOut {
			return errOutputTooLarge
		}
		stdout.Write(p)
		return nil
	}
	onStderr := func(p []byte) error {
		atomic.AddInt64(&outTotal, int64(len(p)))
		if atomic.LoadInt64(&outTotal) > maxOut {
			return errOutputTooLarge
		}
		stderr.Write(p)
		return nil
	}

	exitCode, err := e.invoke(ctx, args, protoEnv, opts, onStdout, onStderr, &stderr)
	return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}, err
}

// RunStreaming pushes stdout/stderr chunks to the caller-provided sinks as
// they arrive, bounded by Options.MaxOutputBytes (default
// DefaultMaxStreamingOutput).
func (e *Executor) RunStreaming(ctx context.Context, args []string, opts Options, onStdoutChunk, onStderrChunk func([]byte) error) (int, error) {
	return e.runStreaming(ctx, args, nil, opts, onStdoutChunk, onStderrChunk)
}

// RunStreamingWithProtocolContext behaves like RunStreaming but additionally
// injects the hook environment variables derived from protoCtx, for front
// ends (the SSH server) that need to proxy a child's stdout live to a
// channel rather than buffer it, while still running under a protocol
// context (§4.1, §4.2, §6).
func (e *Executor) RunStreamingWithProtocolContext(ctx context.Context, args []string, protoCtx ProtocolContext, opts Options, onStdoutChunk, onStderrChunk func([]byte) error) (int, error) {
	return e.runStreaming(ctx, args, protoCtx.Env(), opts, onStdoutChunk, onStderrChunk)
}

func (e *Executor) runStreaming(ctx context.Context, args []string, protoEnv map[string]string, opts Options, onStdoutChunk, onStderrChunk func([]byte) error) (int, error) {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxStreamingOutput
	}
	var outTotal int64
	overLimit := func(p []byte) bool {
		return atomic.AddInt64(&outTotal, int64(len(p))) > opts.MaxOutputBytes
	}
	wrappedStdout := func(p []byte) error {
		if overLimit(p) {
			return errOutputTooLarge
		}
		return onStdoutChunk(p)
	}
	var stderrTailBuf bytes.Buffer
	wrappedStderr := func(p []byte) error {
		if overLimit(p) {
			return errOutputTooLarge
		}
		stderrTailBuf.Write(p)
		if stderrTailBuf.Len() > stderrTailBytes*4 {
			b := stderrTailBuf.Bytes()
			stderrTailBuf.Reset()
			stderrTailBuf.Write(tail(b, stderrTailBytes))
		}
		if onStderrChunk != nil {
			return onStderrChunk(p)
		}
		return nil
	}
	return e.invoke(ctx, args, protoEnv, opts, wrappedStdout, wrappedStderr, &stderrTailBuf)
}

var errOutputTooLarge = newError(CodeOutputTooLarge, Diagnostic{}, nil)

func (e *Executor) invoke(
	ctx context.Context,
	args []string,
	protoEnv map[string]string,
	opts Options,
	onStdout, onStderr func([]byte) error,
	stderrTail *bytes.Buffer,
) (int, error) {
	diag := Diagnostic{Command: e.gitBinary, Args: args, Dir: opts.Dir}

	if err := ValidateArgs(args); err != nil {
		return 0, newError(CodeInvalidArgument, diag, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.gitBinary, args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env, protoEnv)
	newProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return 0, newError(CodeChildSpawnFailed, diag, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return 0, newError(CodeChildSpawnFailed, diag, err)
	}
	var stdinPipe io.WriteCloser
	if opts.Stdin != nil {
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return 0, newError(CodeChildSpawnFailed, diag, err)
		}
	}

	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return 0, newError(CodeGitNotFound, diag, err)
		}
		return 0, newError(CodeChildSpawnFailed, diag, err)
	}

	if stdinPipe != nil {
		go func() {
			defer stdinPipe.Close()
			_, _ = stdinPipe.Write(opts.Stdin)
		}()
	}

	var lastActivity int64
	atomic.StoreInt64(&lastActivity, time.Now().UnixNano())

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	timedOut := make(chan struct{}, 1)
	perWrite := opts.perWriteTimeout()
	go func() {
		ticker := time.NewTicker(perWrite / 4)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogCtx.Done():
				return
			case <-ticker.C:
				last := atomic.LoadInt64(&lastActivity)
				if time.Since(time.Unix(0, last)) > perWrite {
					killProcessGroup(cmd, killSignal)
					select {
					case timedOut <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return drain(stdoutPipe, onStdout, &lastActivity) })
	g.Go(func() error { return drain(stderrPipe, onStderr, &lastActivity) })
	drainErr := g.Wait()
	stopWatchdog()

	waitErr := cmd.Wait()

	select {
	case <-timedOut:
		diag.Stderr = string(tail(stderrTail.Bytes(), stderrTailBytes))
		return 0, newError(CodeTimeout, diag, waitErr)
	default:
	}

	if runCtx.Err() == context.DeadlineExceeded {
		diag.Stderr = string(tail(stderrTail.Bytes(), stderrTailBytes))
		return 0, newError(CodeTimeout, diag, runCtx.Err())
	}

	if drainErr != nil {
		diag.Stderr = string(tail(stderrTail.Bytes(), stderrTailBytes))
		if drainErr == errOutputTooLarge {
			return 0, newError(CodeOutputTooLarge, diag, drainErr)
		}
		return 0, newError(CodeChildSpawnFailed, diag, drainErr)
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			diag.ExitCode = exitErr.ExitCode()
			diag.HasExit = true
			diag.Stderr = string(tail(stderrTail.Bytes(), stderrTailBytes))
			return exitErr.ExitCode(), newError(CodeProcessFailed, diag, waitErr)
		}
		diag.Stderr = string(tail(stderrTail.Bytes(), stderrTailBytes))
		return 0, newError(CodeChildSpawnFailed, diag, waitErr)
	}

	return 0, nil
}

// drain reads r in readBufferSize chunks, forwarding each chunk to sink and
// stamping activity on every successful read. Two of these run concurrently
// (one per stdout/stderr) so a child that blocks writing to one stream
// after filling its pipe buffer can never stall the other (§4.1).
func drain(r io.Reader, sink func([]byte) error, activity *int64) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			atomic.StoreInt64(activity, time.Now().UnixNano())
			if sinkErr := sink(buf[:n]); sinkErr != nil {
				return sinkErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// buildEnv constructs the child's environment: the empty set plus
// allow-listed values copied from the parent, then caller overrides, then
// protocol-context hook variables, all still subject to EnvAllowed (§4.1).
func buildEnv(overrides, protoEnv map[string]string) []string {
	env := make([]string, 0, len(overrides)+len(protoEnv)+8)
	for _, kv := range os.Environ() {
		name, val, ok := splitEnv(kv)
		if !ok || !EnvAllowed(name) {
			continue
		}
		env = append(env, name+"="+val)
	}
	for name, val := range overrides {
		if EnvAllowed(name) {
			env = append(env, name+"="+val)
		}
	}
	for name, val := range protoEnv {
		if EnvAllowed(name) {
			env = append(env, name+"="+val)
		}
	}
	return env
}

func splitEnv(kv string) (name, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
