// Command plue-sshd is the composition root for Plue's SSH front end
// (§4.2): it loads configuration, wires a TrustStore, KeyStore,
// permission engine, repository resolver, and git executor into one
// Server, then runs until signaled, following the teacher's
// flags-then-wire-then-block-on-signal shape (boskos/cmd/boskos/boskos.go,
// boskos/cmd/cleaner/main.go) with pflag-bound fields adapted to a cobra
// root command per the rest of the pack's CLI convention.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plue-git/plue/internal/config"
	"github.com/plue-git/plue/internal/gitexec"
	"github.com/plue-git/plue/internal/perm"
	"github.com/plue-git/plue/internal/sshd"
)

// fileConfig is decoded from the YAML file named by --config. Flags below
// override the matching field when explicitly set.
type fileConfig struct {
	ListenAddr          string              `yaml:"listen_addr"`
	ServiceUsername     string              `yaml:"service_username"`
	HostKeyPaths        []string            `yaml:"host_key_paths"`
	MaxConnections      int                 `yaml:"max_connections"`
	MaxConnectionsPerIP int                 `yaml:"max_connections_per_ip"`
	AuthRatePerSecond   float64             `yaml:"auth_rate_per_second"`
	AuthBurst           int                 `yaml:"auth_burst"`
	AuthTimeout         config.Duration     `yaml:"auth_timeout"`
	SessionTimeout      config.Duration     `yaml:"session_timeout"`
	DrainTimeout        config.Duration     `yaml:"drain_timeout"`
	TrustedProxyCIDRs   []string            `yaml:"trusted_proxy_cidrs"`
	GitBinary           string              `yaml:"git_binary"`
	PermCacheSize       int                 `yaml:"perm_cache_size"`
	LFSAuthBaseURL      string              `yaml:"lfs_auth_base_url"`
	LogLevel            string              `yaml:"log_level"`
}

type options struct {
	configPath string
	listenAddr string
	logLevel   string
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.configPath, "config", "/etc/plue/sshd.yaml", "path to the sshd YAML configuration file")
	flags.StringVar(&o.listenAddr, "listen-addr", "", "overrides listen_addr from the config file")
	flags.StringVar(&o.logLevel, "log-level", "", "overrides log_level from the config file")
}

func main() {
	o := &options{}
	root := &cobra.Command{
		Use:   "plue-sshd",
		Short: "Plue's SSH front end for git-over-ssh and LFS authentication",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}
	o.addFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o *options) error {
	var fc fileConfig
	if err := config.Load(o.configPath, &fc); err != nil {
		return err
	}
	if o.listenAddr != "" {
		fc.ListenAddr = o.listenAddr
	}
	if o.logLevel != "" {
		fc.LogLevel = o.logLevel
	}
	if fc.ListenAddr == "" {
		fc.ListenAddr = ":22"
	}
	if fc.DrainTimeout.Duration <= 0 {
		fc.DrainTimeout = config.Duration{Duration: 30 * time.Second}
	}

	logger := logrus.New()
	if fc.LogLevel != "" {
		level, err := logrus.ParseLevel(fc.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", fc.LogLevel, err)
		}
		logger.SetLevel(level)
	}
	log := logrus.NewEntry(logger)

	// No database is wired yet: KeyStore, RepoResolver,
	// and the permission engine's Store all run on in-memory backings
	// until a durable implementation lands. A real deployment would share
	// one database-backed type across all three interfaces.
	keyStore := sshd.NewMemKeyStore()
	repoResolver := sshd.NewMemRepoResolver()
	permStore := perm.NewMemStore()

	trust, err := sshd.NewTrustStore(fc.HostKeyPaths, keyStore, log)
	if err != nil {
		return err
	}

	permEngine, err := perm.New(permStore, perm.Config{CacheSize: fc.PermCacheSize}, log)
	if err != nil {
		return err
	}

	exec, err := gitexec.New(fc.GitBinary, log)
	if err != nil {
		return err
	}

	cfg := sshd.Config{
		ListenAddr:          fc.ListenAddr,
		ServiceUsername:     fc.ServiceUsername,
		HostKeyPaths:        fc.HostKeyPaths,
		MaxConnections:      fc.MaxConnections,
		MaxConnectionsPerIP: fc.MaxConnectionsPerIP,
		AuthRatePerSecond:   fc.AuthRatePerSecond,
		AuthBurst:           fc.AuthBurst,
		AuthTimeout:         fc.AuthTimeout,
		SessionTimeout:      fc.SessionTimeout,
		DrainTimeout:        fc.DrainTimeout,
		TrustedProxyCIDRs:   fc.TrustedProxyCIDRs,
		LFSAuthBaseURL:      fc.LFSAuthBaseURL,
	}

	server := sshd.NewServer(cfg, trust, keyStore, permEngine, repoResolver, exec, log)
	if err := server.Start(); err != nil {
		return err
	}
	log.WithField("listen_addr", fc.ListenAddr).Info("plue-sshd listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			log.Info("reloading host keys on SIGHUP")
			if err := trust.Reload(ctx); err != nil {
				log.WithError(err).Error("host key reload failed")
			}
		}
	}()

	<-ctx.Done()
	log.Info("shutting down, draining active sessions")
	server.Stop(cfg.DrainTimeout.Duration)
	return nil
}
