package sshd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/sirupsen/logrus"

	"github.com/plue-git/plue/internal/gitexec"
	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/perm"
	"github.com/plue-git/plue/internal/plueerr"
)

// RepoResolver maps a parsed Command's owner/repo path to a model.Repository,
// the lookup the SSH front end needs before it can ask the permission
// engine anything.
type RepoResolver interface {
	ResolveRepository(ctx context.Context, ownerPath, repoPath string) (model.Repository, bool, error)
}

// Server is Plue's SSH front end (§4.2).
type Server struct {
	cfg   Config
	trust *TrustStore
	auth  *Authenticator
	perm  *perm.Engine
	repos RepoResolver
	exec  *gitexec.Executor
	log   *logrus.Entry

	rateLimiter *ipRateLimiter

	mu          sync.Mutex
	listener    net.Listener
	activeConns map[string]int // ip -> count
	sessions    sync.WaitGroup
	totalConns  int
	draining    bool
}

func NewServer(cfg Config, trust *TrustStore, store KeyStore, permEngine *perm.Engine, repos RepoResolver, exec *gitexec.Executor, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:         cfg,
		trust:       trust,
		auth:        NewAuthenticator(store, cfg.MinKeyBits),
		perm:        permEngine,
		repos:       repos,
		exec:        exec,
		log:         log,
		rateLimiter: newIPRateLimiter(cfg.AuthRatePerSecond, cfg.AuthBurst),
		activeConns: map[string]int{},
	}
}

// Start binds the listener and enters the accept loop in a background
// goroutine (§4.2 public contract).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return plueerr.Backend("sshd_listen", "%v", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	s.log.WithField("addr", ln.Addr().String()).Info("sshd listening")
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			return
		}

		s.mu.Lock()
		if s.totalConns >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		ip := connIP(conn)
		if s.activeConns[ip] >= s.cfg.MaxConnectionsPerIP {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.activeConns[ip]++
		s.totalConns++
		s.sessions.Add(1)
		s.mu.Unlock()

		go s.handleConn(conn, ip)
	}
}

// Stop stops accepting new connections, waits up to drainDeadline for
// in-flight sessions, then returns. It does not close sessions still open
// at the deadline; each ends only when its own session read deadline
// passes or its client disconnects.
func (s *Server) Stop(drainDeadline time.Duration) {
	s.mu.Lock()
	s.draining = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainDeadline):
		s.log.Warn("drain deadline exceeded; straggling sessions will be closed by their own timeouts")
	}
}

func (s *Server) handleConn(conn net.Conn, ip string) {
	defer func() {
		s.mu.Lock()
		s.activeConns[ip]--
		s.totalConns--
		s.mu.Unlock()
		s.sessions.Done()
		conn.Close()
	}()

	if isTrustedProxy(net.ParseIP(ip), s.cfg.TrustedProxyCIDRs) {
		reader := bufio.NewReader(conn)
		if realIP, isLocal, err := ParseProxyHeaderV2(reader); err == nil && !isLocal && realIP != nil {
			ip = realIP.String()
		}
		conn = &prefaceConn{Conn: conn, buffered: reader}
	}

	sshConfig := &gossh.ServerConfig{
		PublicKeyCallback: s.publicKeyCallback(ip),
		AuthLogCallback: func(conn gossh.ConnMetadata, method string, err error) {
			if err != nil {
				s.log.WithFields(logrus.Fields{"ip": ip, "method": method}).Debug("auth attempt rejected")
			}
		},
	}
	for _, signer := range s.trust.Signers() {
		sshConfig.AddHostKey(signer)
	}

	// x/crypto/ssh.NewServerConn has no context parameter, so the auth
	// timeout is enforced the same way the session timeout is below: a
	// read deadline on the raw connection.
	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout.Duration))

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, sshConfig)
	if err != nil {
		s.log.WithError(err).WithField("ip", ip).Debug("ssh handshake failed")
		return
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.SessionTimeout.Duration))
	defer sshConn.Close()

	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(sshConn, channel, requests)
	}
}

func (s *Server) publicKeyCallback(ip string) func(gossh.ConnMetadata, gossh.PublicKey) (*gossh.Permissions, error) {
	return func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
		if !s.rateLimiter.Allow(ip) {
			return nil, plueerr.Authz("auth_rate_limited", "too many authentication attempts from %s", ip)
		}
		if err := s.auth.CheckUsername(conn.User(), s.cfg.ServiceUsername); err != nil {
			return nil, err
		}

		ctx := context.Background()
		var result AuthResult
		var authErr error
		if cert, ok := key.(*gossh.Certificate); ok {
			result, authErr = s.auth.AuthenticateCertificate(ctx, cert)
		} else {
			result, authErr = s.auth.AuthenticateKey(ctx, key)
		}
		if authErr != nil {
			return nil, authErr
		}

		perms := &gossh.Permissions{Extensions: map[string]string{
			"key_id":   fmt.Sprintf("%d", result.KeyID),
			"key_type": string(result.KeyType),
		}}
		if result.SubjectID != nil {
			perms.Extensions["subject_id"] = fmt.Sprintf("%d", *result.SubjectID)
		}
		if result.Repository != nil {
			perms.Extensions["deploy_repo_id"] = fmt.Sprintf("%d", result.Repository.ID)
		}
		if result.DeployMode != nil {
			perms.Extensions["deploy_mode"] = string(*result.DeployMode)
		}
		return perms, nil
	}
}

func connIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// prefaceConn lets handleConn keep reading through a bufio.Reader that
// already consumed the PROXY protocol preface, without losing any bytes
// buffered but not yet handed to ssh.NewServerConn.
type prefaceConn struct {
	net.Conn
	buffered *bufio.Reader
}

func (c *prefaceConn) Read(p []byte) (int, error) { return c.buffered.Read(p) }
