// Command plue-dispatcherd is the composition root for the long-running
// half of the Actions and LFS subsystems (§4.4, §4.5): the job dispatcher,
// the LFS object store's HTTP API, and the post-receive callback endpoint
// cmd/plue-hook posts to, all behind one router and one listener, wired
// and run until signaled the same way cmd/plue-sshd is.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cloud.google.com/go/storage"

	"github.com/plue-git/plue/internal/config"
	"github.com/plue-git/plue/internal/dispatch"
	"github.com/plue-git/plue/internal/lfs"
	"github.com/plue-git/plue/internal/model"
	"github.com/plue-git/plue/internal/postreceive"
)

// fileConfig is decoded from the YAML file named by --config.
type fileConfig struct {
	ListenAddr         string          `yaml:"listen_addr"`
	HeartbeatTimeout   config.Duration `yaml:"heartbeat_timeout"`
	MaxHeartbeatMisses int             `yaml:"max_heartbeat_misses"`
	RetentionAge       config.Duration `yaml:"retention_age"`
	SweepInterval      config.Duration `yaml:"sweep_interval"`
	ShutdownTimeout    config.Duration `yaml:"shutdown_timeout"`

	LFSBaseURL             string          `yaml:"lfs_base_url"`
	LFSHotDir              string          `yaml:"lfs_hot_dir"`
	LFSArchiveDir          string          `yaml:"lfs_archive_dir"`
	LFSGCSBucket           string          `yaml:"lfs_gcs_bucket"`
	LFSGCSPrefix           string          `yaml:"lfs_gcs_prefix"`
	LFSEncryptAtRest       bool            `yaml:"lfs_encrypt_at_rest"`
	LFSMaintenanceInterval config.Duration `yaml:"lfs_maintenance_interval"`

	LogLevel string `yaml:"log_level"`
}

type options struct {
	configPath string
	listenAddr string
	logLevel   string
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.configPath, "config", "/etc/plue/dispatcherd.yaml", "path to the dispatcherd YAML configuration file")
	flags.StringVar(&o.listenAddr, "listen-addr", "", "overrides listen_addr from the config file")
	flags.StringVar(&o.logLevel, "log-level", "", "overrides log_level from the config file")
}

func main() {
	o := &options{}
	root := &cobra.Command{
		Use:   "plue-dispatcherd",
		Short: "Plue's Actions job dispatcher and LFS object store",
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
		fc.ListenAddr = ":8081"
	}
	if fc.ShutdownTimeout.Duration <= 0 {
		fc.ShutdownTimeout = config.Duration{Duration: 30 * time.Second}
	}
	if fc.LFSHotDir == "" {
		fc.LFSHotDir = "/data/lfs-hot"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// No database is wired yet: dispatch.MemStore backs
	// the dispatcher so Recover/persistLocked have something to round-trip
	// through, but state does not survive a restart; a real deployment
	// swaps in a durable dispatch.Store.
	dispatcher := dispatch.New(dispatch.NewMemStore(), dispatch.Config{
		HeartbeatTimeout:   fc.HeartbeatTimeout.Duration,
		MaxHeartbeatMisses: fc.MaxHeartbeatMisses,
		RetentionAge:       fc.RetentionAge.Duration,
	}, log)
	if err := dispatcher.Recover(ctx); err != nil {
		return err
	}
	sweepInterval := fc.SweepInterval.Duration
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	dispatcher.Start(ctx, sweepInterval)
	defer dispatcher.Stop()

	lfsStore, err := buildLFSStore(fc, log)
	if err != nil {
		return err
	}
	maintenanceInterval := fc.LFSMaintenanceInterval.Duration
	if maintenanceInterval <= 0 {
		maintenanceInterval = time.Hour
	}
	go lfsStore.RunPeriodicMaintenance(ctx, maintenanceInterval)

	workflows := postreceive.NewMemWorkflowLister()
	runs := postreceive.NewMemRunStore()
	publisher := postreceive.NewMemPublisher(256)
	processor := postreceive.NewProcessor(workflows, runs, dispatcher, publisher, log)
	consumer := postreceive.NewConsumer(dispatcher, log)
	go consumer.Drain(ctx, publisher)

	router := mux.NewRouter()
	dispatch.NewHandler(dispatcher).Register(router)
	postreceive.NewHandler(processor).Register(router)
	lfs.NewHandler(lfsStore, fc.LFSBaseURL).Register(router)

	server := &http.Server{Addr: fc.ListenAddr, Handler: router}
	go func() {
		log.WithField("listen_addr", fc.ListenAddr).Info("plue-dispatcherd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("dispatcherd HTTP server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), fc.ShutdownTimeout.Duration)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildLFSStore assembles the hot-tier FS backend every deployment needs
// plus an optional GCS-backed archive tier, matching the teacher pack's
// fsouza/fake-gcs-server-tested cloud.google.com/go/storage client (§4.5
// tiering: hot objects on local disk, cold/archival objects in GCS).
func buildLFSStore(fc fileConfig, log *logrus.Entry) (*lfs.Store, error) {
	backends := lfs.TieredBackends{
		model.TierHot: lfs.NewFSBackend(fc.LFSHotDir),
	}
	if fc.LFSGCSBucket != "" {
		client, err := storage.NewClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating GCS client for LFS archive tier: %w", err)
		}
		backends[model.TierArchival] = lfs.NewGCSBackend(client, fc.LFSGCSBucket, fc.LFSGCSPrefix)
	}

	var encryptionKey []byte
	if fc.LFSEncryptAtRest {
		key := os.Getenv("PLUE_LFS_ENCRYPTION_KEY")
		if len(key) != 32 {
			return nil, fmt.Errorf("lfs_encrypt_at_rest is set but PLUE_LFS_ENCRYPTION_KEY is not a 32-byte key")
		}
		encryptionKey = []byte(key)
	}

	return lfs.NewStore(lfs.NewMemMetadataStore(), lfs.Config{
		Backends:      backends,
		DefaultTier:   model.TierHot,
		EncryptionKey: encryptionKey,
	}, log), nil
}
