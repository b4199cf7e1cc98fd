package sshd

import (
	"context"
	"os"
	"sync"

	gossh "golang.org/x/crypto/ssh"

	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/plueerr"
)

// TrustStore holds the host keys a Server signs with, with an explicit
// Reload so a composition root can wire SIGHUP to picking up rotated
// host keys without a restart (SPEC_FULL.md §C). The CA trust set is not
// held here; Authenticator reads it from KeyStore on every certificate
// check.
type TrustStore struct {
	mu sync.RWMutex

	hostKeyPaths []string
	signers      []gossh.Signer

	store KeyStore
	log   *logrus.Entry
}

func NewTrustStore(hostKeyPaths []string, store KeyStore, log *logrus.Entry) (*TrustStore, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &TrustStore{hostKeyPaths: hostKeyPaths, store: store, log: log}
	if err := t.Reload(context.Background()); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads host key files from disk. The CA trust set itself lives
// in KeyStore and is re-read on every certificate verification, so
// reloading it here would be redundant; Reload exists chiefly to pick up
// a rotated host key without dropping the listener.
func (t *TrustStore) Reload(_ context.Context) error {
	var signers []gossh.Signer
	for _, path := range t.hostKeyPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return plueerr.Backend("host_key_read", "reading host key %s: %v", path, err)
		}
		signer, err := gossh.ParsePrivateKey(data)
		if err != nil {
			return plueerr.Validation("host_key_parse", "parsing host key %s: %v", path, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return plueerr.Validation("no_host_keys", "no host keys configured")
	}

	t.mu.Lock()
	t.signers = signers
	t.mu.Unlock()
	t.log.WithField("count", len(signers)).Info("loaded host keys")
	return nil
}

// Signers returns the current set of host key signers.
func (t *TrustStore) Signers() []gossh.Signer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]gossh.Signer, len(t.signers))
	copy(out, t.signers)
	return out
}
