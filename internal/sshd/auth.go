package sshd

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/plueerr"
)

// RejectReason names why an authentication attempt failed, matching the
// §4.2 state machine's rejection vocabulary.
type RejectReason string

const (
	RejectInvalidUsername RejectReason = "invalid_username"
	RejectKeyTooSmall      RejectReason = "key_too_small"
	RejectKeyNotFound      RejectReason = "key_not_found"
	RejectUserDisabled     RejectReason = "user_disabled"
	RejectBadCertificate   RejectReason = "bad_certificate"
	RejectUntrustedCA      RejectReason = "untrusted_ca"
	RejectCertExpired      RejectReason = "cert_expired"
	RejectUnknownPrincipal RejectReason = "unknown_principal"
)

// AuthResult is what a successful authentication records for the rest of
// the session (§4.2 step 6).
type AuthResult struct {
	SubjectID  *int64
	KeyID      int64
	KeyType    model.KeyType
	Repository *model.Repository
	DeployMode *model.DeployMode
}

// fingerprintSHA256 matches golang.org/x/crypto/ssh.FingerprintSHA256's
// format (base64, no padding) so fingerprints computed here compare
// directly against what ssh-keygen prints and what KeyStore stores.
func fingerprintSHA256(key gossh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// Authenticator runs the §4.2 authentication state machine.
type Authenticator struct {
	store      KeyStore
	minKeyBits map[KeyAlgorithm]int
}

func NewAuthenticator(store KeyStore, minKeyBits map[KeyAlgorithm]int) *Authenticator {
	if minKeyBits == nil {
		minKeyBits = MinKeyBits
	}
	return &Authenticator{store: store, minKeyBits: minKeyBits}
}

// CheckUsername enforces step 2: exact match against the configured
// service username.
func (a *Authenticator) CheckUsername(offered, configured string) error {
	if offered != configured {
		return plueerr.Authz(string(RejectInvalidUsername), "username %q does not match service account", offered)
	}
	return nil
}

// AuthenticateKey runs the key path (§4.2 step 4).
func (a *Authenticator) AuthenticateKey(ctx context.Context, key gossh.PublicKey) (AuthResult, error) {
	if bits, alg, ok := keyBits(key); ok {
		if min, known := a.minKeyBits[alg]; known && bits < min {
			return AuthResult{}, plueerr.Authz(string(RejectKeyTooSmall), "%s key has %d bits, minimum is %d", alg, bits, min)
		}
	}

	fp := fingerprintSHA256(key)
	record, ok, err := a.store.GetKeyByFingerprint(ctx, fp)
	if err != nil {
		return AuthResult{}, plueerr.Backend("keystore_lookup", "%v", err)
	}
	if !ok {
		return AuthResult{}, plueerr.Authz(string(RejectKeyNotFound), "no key registered for fingerprint %s", fp)
	}

	result := AuthResult{KeyID: record.ID, KeyType: record.Type}

	switch record.Type {
	case model.KeyTypeDeploy:
		if record.RepositoryID == nil {
			return AuthResult{}, plueerr.Authz(string(RejectKeyNotFound), "deploy key %d has no bound repository", record.ID)
		}
		repo, ok, err := a.store.GetRepository(ctx, *record.RepositoryID)
		if err != nil {
			return AuthResult{}, plueerr.Backend("keystore_lookup", "%v", err)
		}
		if !ok {
			return AuthResult{}, plueerr.Authz(string(RejectKeyNotFound), "deploy key bound to missing repository %d", *record.RepositoryID)
		}
		result.Repository = &repo
		result.DeployMode = record.DeployMode
	default:
		if record.OwnerUserID == nil {
			return AuthResult{}, plueerr.Authz(string(RejectKeyNotFound), "user key %d has no owner", record.ID)
		}
		subject, ok, err := a.store.GetSubject(ctx, *record.OwnerUserID)
		if err != nil {
			return AuthResult{}, plueerr.Backend("keystore_lookup", "%v", err)
		}
		if !ok || subject.Blocked() {
			return AuthResult{}, plueerr.Authz(string(RejectUserDisabled), "subject %d cannot authenticate", *record.OwnerUserID)
		}
		id := subject.ID
		result.SubjectID = &id
	}
	return result, nil
}

// AuthenticateCertificate runs the certificate path (§4.2 step 5).
func (a *Authenticator) AuthenticateCertificate(ctx context.Context, cert *gossh.Certificate) (AuthResult, error) {
	if cert.CertType != gossh.UserCert {
		return AuthResult{}, plueerr.Authz(string(RejectBadCertificate), "certificate is not a user certificate")
	}

	trusted, err := a.store.TrustedCAFingerprints(ctx)
	if err != nil {
		return AuthResult{}, plueerr.Backend("keystore_lookup", "%v", err)
	}
	caFP := fingerprintSHA256(cert.SignatureKey)
	if !containsString(trusted, caFP) {
		return AuthResult{}, plueerr.Authz(string(RejectUntrustedCA), "certificate signed by untrusted CA %s", caFP)
	}

	now := uint64(time.Now().Unix())
	if now < cert.ValidAfter || now > cert.ValidBefore {
		return AuthResult{}, plueerr.Authz(string(RejectCertExpired), "certificate validity window does not cover now")
	}

	for _, principal := range cert.ValidPrincipals {
		if subject, ok, err := a.store.ResolvePrincipal(ctx, principal); err == nil && ok {
			id := subject.ID
			return AuthResult{SubjectID: &id, KeyType: model.KeyTypePrincipal}, nil
		}
	}
	return AuthResult{}, plueerr.Authz(string(RejectUnknownPrincipal), "no declared principal resolves to a known subject")
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// keyBits returns an approximate bit size and normalized algorithm label
// for a public key, used for the minimum-key-size check. RSA bit size is
// read from the marshaled key's modulus length; Ed25519 and ECDSA are
// fixed-size per curve so a constant suffices.
func keyBits(key gossh.PublicKey) (int, KeyAlgorithm, bool) {
	switch key.Type() {
	case gossh.KeyAlgoED25519:
		return 256, AlgEd25519, true
	case gossh.KeyAlgoECDSA256:
		return 256, AlgECDSA, true
	case gossh.KeyAlgoECDSA384:
		return 384, AlgECDSA, true
	case gossh.KeyAlgoECDSA521:
		return 521, AlgECDSA, true
	case gossh.KeyAlgoRSA:
		return rsaBitsFromMarshaled(key.Marshal()), AlgRSA, true
	default:
		return 0, "", false
	}
}

// rsaBitsFromMarshaled parses just enough of the SSH wire format for an
// "ssh-rsa" public key (string algo, mpint e, mpint n) to read the bit
// length of n, avoiding a round trip through crypto/rsa.PublicKey.
func rsaBitsFromMarshaled(marshaled []byte) int {
	buf := marshaled
	// skip algorithm name field
	if len(buf) < 4 {
		return 0
	}
	algLen := int(be32(buf))
	buf = buf[4:]
	if len(buf) < algLen {
		return 0
	}
	buf = buf[algLen:]
	// skip exponent e
	if len(buf) < 4 {
		return 0
	}
	eLen := int(be32(buf))
	buf = buf[4:]
	if len(buf) < eLen {
		return 0
	}
	buf = buf[eLen:]
	// modulus n
	if len(buf) < 4 {
		return 0
	}
	nLen := int(be32(buf))
	buf = buf[4:]
	if len(buf) < nLen {
		return 0
	}
	n := buf[:nLen]
	// strip a leading zero byte used to keep the mpint non-negative
	for len(n) > 0 && n[0] == 0 {
		n = n[1:]
	}
	return len(n) * 8
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
