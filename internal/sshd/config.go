// Package sshd is Plue's SSH front end: it accepts connections, runs the
// §4.2 authentication state machine against stored keys/certificates, and
// hands authenticated `git-*`/LFS commands to internal/gitexec. Its accept-
// loop-plus-drain shape is grounded on boskos/mason.go's Start/Stop (per-
// goroutine registration against one sync.WaitGroup, context-cancel to
// signal shutdown), since no pack repo runs an SSH server and
// golang.org/x/crypto/ssh dictates everything below that shape.
package sshd

import (
	"time"

	"github.com/plue-git/plue/internal/config"
)

// KeyAlgorithm identifies a public key algorithm for minimum-size
// enforcement.
type KeyAlgorithm string

const (
	AlgEd25519 KeyAlgorithm = "ssh-ed25519"
	AlgECDSA   KeyAlgorithm = "ecdsa"
	AlgRSA     KeyAlgorithm = "ssh-rsa"
)

// MinKeyBits is the default minimum key size per algorithm (§4.2 step 4).
var MinKeyBits = map[KeyAlgorithm]int{
	AlgEd25519: 256,
	AlgECDSA:   256,
	AlgRSA:     3071,
}

// Config configures one Server.
type Config struct {
	ListenAddr string

	ServiceUsername string // required exact-match username, conventionally "git"

	HostKeyPaths []string

	MaxConnections      int
	MaxConnectionsPerIP int

	AuthRatePerSecond float64
	AuthBurst         int

	AuthTimeout    config.Duration
	SessionTimeout config.Duration
	DrainTimeout   config.Duration

	TrustedProxyCIDRs []string

	MinKeyBits map[KeyAlgorithm]int

	// LFSAuthBaseURL is the externally reachable base URL of the LFS HTTP
	// API (cmd/plue-dispatcherd) that git-lfs-authenticate hands back to
	// the LFS client as the batch endpoint href.
	LFSAuthBaseURL string
}

func (c Config) withDefaults() Config {
	if c.ServiceUsername == "" {
		c.ServiceUsername = "git"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 1024
	}
	if c.MaxConnectionsPerIP <= 0 {
		c.MaxConnectionsPerIP = 32
	}
	if c.AuthRatePerSecond <= 0 {
		c.AuthRatePerSecond = 2
	}
	if c.AuthBurst <= 0 {
		c.AuthBurst = 5
	}
	if c.AuthTimeout.Duration <= 0 {
		c.AuthTimeout = config.Duration{Duration: 10 * time.Second}
	}
	if c.SessionTimeout.Duration <= 0 {
		c.SessionTimeout = config.Duration{Duration: 2 * time.Hour}
	}
	if c.DrainTimeout.Duration <= 0 {
		c.DrainTimeout = config.Duration{Duration: 30 * time.Second}
	}
	if c.MinKeyBits == nil {
		c.MinKeyBits = MinKeyBits
	}
	if c.LFSAuthBaseURL == "" {
		c.LFSAuthBaseURL = "http://127.0.0.1:8081"
	}
	return c
}
