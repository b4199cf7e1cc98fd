package gitexec

import "time"

// Options configures one invocation of the git executor.
type Options struct {
	// Dir is the working directory for the child process.
	Dir string

	// Env overrides/adds environment variables forwarded to the child, on
	// top of the allow-listed copy of the parent's environment. Keys here
	// still pass through EnvAllowed.
	Env map[string]string

	// Stdin, if non-nil, is written to the child's stdin and then closed.
	Stdin []byte

	// Timeout bounds the whole invocation; zero means DefaultTimeout.
	Timeout time.Duration

	// PerWriteTimeout bounds the interval between successful reads from
	// either stdout or stderr; exceeding it is a Timeout error (§4.1).
	PerWriteTimeout time.Duration

	// MaxOutputBytes bounds cumulative stdout+stderr for the buffered Run
	// path; exceeding it is an OutputTooLarge error.
	MaxOutputBytes int64

	// MaxAddressSpaceBytes is accepted but not read by the executor: no
	// address-space limit (RLIMIT_AS or otherwise) is applied to the child.
	MaxAddressSpaceBytes uint64
}

const (
	// DefaultTimeout is used when Options.Timeout is zero.
	DefaultTimeout = 2 * time.Minute

	// DefaultPerWriteTimeout is used when Options.PerWriteTimeout is zero.
	DefaultPerWriteTimeout = 30 * time.Second

	// DefaultMaxBufferedOutput is the floor named in §4.1 for the buffered
	// Run path (>= 64 MiB).
	DefaultMaxBufferedOutput = 64 * 1024 * 1024

	// DefaultMaxStreamingOutput is the floor named in §4.1 for the
	// streaming path (>= 1 GiB).
	DefaultMaxStreamingOutput = 1024 * 1024 * 1024

	// readBufferSize is the chunk size used when draining stdout/stderr,
	// within the 4-16 KiB band required by §4.1.
	readBufferSize = 8 * 1024
)

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) perWriteTimeout() time.Duration {
	if o.PerWriteTimeout <= 0 {
		return DefaultPerWriteTimeout
	}
	return o.PerWriteTimeout
}

func (o Options) maxBufferedOutput() int64 {
	if o.MaxOutputBytes <= 0 {
		return DefaultMaxBufferedOutput
	}
	return o.MaxOutputBytes
}
