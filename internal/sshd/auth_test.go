package sshd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/plue-git/plue/internal/model"
)

func mustSigner(t *testing.T) (gossh.Signer, gossh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := gossh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("building signer: %v", err)
	}
	return signer, signer.PublicKey()
}

func TestCheckUsernameRequiresExactMatch(t *testing.T) {
	a := NewAuthenticator(NewMemKeyStore(), nil)
	if err := a.CheckUsername("git", "git"); err != nil {
		t.Fatalf("expected match to succeed: %v", err)
	}
	if err := a.CheckUsername("root", "git"); err == nil {
		t.Fatalf("expected mismatch to be rejected")
	}
}

func TestAuthenticateKeyRejectsUnknownFingerprint(t *testing.T) {
	store := NewMemKeyStore()
	a := NewAuthenticator(store, nil)
	_, pub := mustSigner(t)

	_, err := a.AuthenticateKey(context.Background(), pub)
	if err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestAuthenticateKeyUserPath(t *testing.T) {
	store := NewMemKeyStore()
	_, pub := mustSigner(t)
	fp := fingerprintSHA256(pub)
	store.Subjects[1] = model.Subject{ID: 1, Kind: model.SubjectUser, Active: true}
	ownerID := int64(1)
	store.Keys[fp] = model.PublicKey{ID: 10, Type: model.KeyTypeUser, OwnerUserID: &ownerID}

	a := NewAuthenticator(store, nil)
	result, err := a.AuthenticateKey(context.Background(), pub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SubjectID == nil || *result.SubjectID != 1 {
		t.Fatalf("expected subject id 1, got %+v", result.SubjectID)
	}
}

func TestAuthenticateKeyRejectsDisabledUser(t *testing.T) {
	store := NewMemKeyStore()
	_, pub := mustSigner(t)
	fp := fingerprintSHA256(pub)
	store.Subjects[1] = model.Subject{ID: 1, Kind: model.SubjectUser, Active: false}
	ownerID := int64(1)
	store.Keys[fp] = model.PublicKey{ID: 10, Type: model.KeyTypeUser, OwnerUserID: &ownerID}

	a := NewAuthenticator(store, nil)
	_, err := a.AuthenticateKey(context.Background(), pub)
	if err == nil {
		t.Fatalf("expected disabled user's key to be rejected")
	}
}

func TestAuthenticateKeyDeployPath(t *testing.T) {
	store := NewMemKeyStore()
	_, pub := mustSigner(t)
	fp := fingerprintSHA256(pub)
	repoID := int64(42)
	mode := model.DeployWrite
	store.Repositories[42] = model.Repository{ID: 42, Visibility: model.VisibilityPrivate}
	store.Keys[fp] = model.PublicKey{ID: 11, Type: model.KeyTypeDeploy, RepositoryID: &repoID, DeployMode: &mode}

	a := NewAuthenticator(store, nil)
	result, err := a.AuthenticateKey(context.Background(), pub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Repository == nil || result.Repository.ID != 42 {
		t.Fatalf("expected bound repository 42, got %+v", result.Repository)
	}
	if result.DeployMode == nil || *result.DeployMode != model.DeployWrite {
		t.Fatalf("expected write deploy mode, got %+v", result.DeployMode)
	}
}

func TestAuthenticateCertificateRejectsUntrustedCA(t *testing.T) {
	store := NewMemKeyStore()
	caSigner, _ := mustSigner(t)
	_, userPub := mustSigner(t)

	cert := &gossh.Certificate{
		Key:             userPub,
		CertType:        gossh.UserCert,
		ValidPrincipals: []string{"alice"},
		ValidAfter:      0,
		ValidBefore:     gossh.CertTimeInfinity,
	}
	if err := cert.SignCert(rand.Reader, caSigner); err != nil {
		t.Fatalf("signing certificate: %v", err)
	}

	a := NewAuthenticator(store, nil)
	_, err := a.AuthenticateCertificate(context.Background(), cert)
	if err == nil {
		t.Fatalf("expected untrusted CA to be rejected")
	}
}

func TestAuthenticateCertificateTrustedCAResolvesPrincipal(t *testing.T) {
	store := NewMemKeyStore()
	caSigner, caPub := mustSigner(t)
	_, userPub := mustSigner(t)
	store.CAFingerprint = []string{fingerprintSHA256(caPub)}
	store.Principals["alice"] = model.Subject{ID: 7, Kind: model.SubjectUser, Active: true}

	cert := &gossh.Certificate{
		Key:             userPub,
		CertType:        gossh.UserCert,
		ValidPrincipals: []string{"alice"},
		ValidAfter:      0,
		ValidBefore:     gossh.CertTimeInfinity,
	}
	if err := cert.SignCert(rand.Reader, caSigner); err != nil {
		t.Fatalf("signing certificate: %v", err)
	}

	a := NewAuthenticator(store, nil)
	result, err := a.AuthenticateCertificate(context.Background(), cert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SubjectID == nil || *result.SubjectID != 7 {
		t.Fatalf("expected subject 7, got %+v", result.SubjectID)
	}
}

func TestAuthenticateCertificateRejectsExpired(t *testing.T) {
	store := NewMemKeyStore()
	caSigner, caPub := mustSigner(t)
	_, userPub := mustSigner(t)
	store.CAFingerprint = []string{fingerprintSHA256(caPub)}
	store.Principals["alice"] = model.Subject{ID: 7, Kind: model.SubjectUser, Active: true}

	past := uint64(time.Now().Add(-2 * time.Hour).Unix())
	cert := &gossh.Certificate{
		Key:             userPub,
		CertType:        gossh.UserCert,
		ValidPrincipals: []string{"alice"},
		ValidAfter:      0,
		ValidBefore:     past,
	}
	if err := cert.SignCert(rand.Reader, caSigner); err != nil {
		t.Fatalf("signing certificate: %v", err)
	}

	a := NewAuthenticator(store, nil)
	_, err := a.AuthenticateCertificate(context.Background(), cert)
	if err == nil {
		t.Fatalf("expected expired certificate to be rejected")
	}
}

func TestKeyBitsReportsFixedEd25519Size(t *testing.T) {
	// Ed25519/ECDSA have fixed sizes per curve; exercise the lookup path
	// directly rather than generating an undersized RSA key at test time.
	if bits, alg, ok := keyBits(mustEd25519PublicKey(t)); !ok || bits != 256 || alg != AlgEd25519 {
		t.Fatalf("expected 256-bit ed25519, got bits=%d alg=%s ok=%v", bits, alg, ok)
	}
}

func mustEd25519PublicKey(t *testing.T) gossh.PublicKey {
	t.Helper()
	_, pub := mustSigner(t)
	return pub
}
