//go:build !unix

package gitexec

import (
	"os/exec"
	"sync"
)

const killSignal = 9 // SIGKILL-equivalent; unused directly, see killProcessGroup.

var ignoreSigpipeOnce sync.Once

// ignoreSigpipe is a no-op on platforms without SIGPIPE semantics.
func ignoreSigpipe() { ignoreSigpipeOnce.Do(func() {}) }

// newProcessGroup is a no-op where the platform exposes no direct
// process-group primitive; the per-write timeout watchdog still kills the
// immediate child on timeout, just not any sub-pipeline it may have spawned.
func newProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd, sig int) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
