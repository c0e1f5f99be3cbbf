package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/cepwatch/internal/directory"
	"github.com/tinytelemetry/cepwatch/internal/duckdb"
	"github.com/tinytelemetry/cepwatch/internal/httpserver"
	"github.com/tinytelemetry/cepwatch/internal/metrics"
	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/socketrpc"
	"github.com/tinytelemetry/cepwatch/internal/transport"
	"github.com/tinytelemetry/cepwatch/internal/watch"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cepwatch service",
	Long: `Starts a watch session against the CEP engine and serves it over the Unix
socket (for cepwatch-tui) and, when enabled, the HTTP API.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend-url", model.DefaultBackendURL, "CEP engine REST base URL")
	f.String("stream-url", "", "websocket base URL for query results (derived from backend-url when empty)")
	f.Duration("poll-interval", model.DefaultPollInterval, "directory refresh interval")
	f.Int("throttle", 0, "feed release interval in milliseconds (0 = real time)")
	f.Int("api-port", defaultAPIPort, "HTTP API port")
	f.String("socket-path", "", "Unix socket path (default is $XDG_RUNTIME_DIR/cepwatch/cepwatch.sock)")
	f.String("session-store", sessionStoreMemory, `session store: "memory", "off" or a DuckDB file path`)
	f.String("log-level", defaultLogLevel, "log level (trace, debug, info, warn, error)")
}

// runServe starts a watch session with its RPC, HTTP and storage sinks.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, v, err := loadConfig(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cleanupLogger, err := configureRuntimeLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()

	sessionID := uuid.NewString()
	m := metrics.New()

	var listeners []watch.Listener

	// Optional DuckDB mirror of the session.
	var (
		store     *duckdb.Store
		insertBuf *duckdb.InsertBuffer
		cleaner   *duckdb.RetentionCleaner
	)
	if path, ok := cfg.storePath(); ok {
		store, err = duckdb.NewStore(path)
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}
		defer store.Close()

		insertBuf = duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
			SessionID:     sessionID,
			BatchSize:     cfg.InsertBatchSize,
			FlushInterval: cfg.InsertFlushInterval,
		})
		cleaner = duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{MaxAge: cfg.SampleRetention})
		listeners = append(listeners, insertBuf)
	}

	var broker *httpserver.Broker
	if cfg.APIEnabled {
		broker = httpserver.NewBroker()
		listeners = append(listeners, broker)
	}

	engine, err := watch.NewEngine(watch.Config{
		Opener:       transport.NewDialer(cfg.StreamURL, cfg.DialTimeout),
		Directory:    directory.NewClient(cfg.BackendURL),
		PollInterval: cfg.PollInterval,
		ThrottleMS:   cfg.Throttle,
		FeedWindow:   cfg.FeedWindow,
		Metrics:      m,
		Listeners:    listeners,
		SessionID:    sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to create watch engine: %w", err)
	}

	// Start socket RPC server for TUI IPC
	sockServer := socketrpc.NewServer(cfg.SocketPath, engine)
	sockOK := true
	if err := sockServer.Start(); err != nil {
		log.WithError(err).Warn("failed to start socket server")
		sockOK = false
	}

	var apiServer *httpserver.Server
	if cfg.APIEnabled {
		httpCfg := httpserver.Config{Addr: cfg.APIAddr, Metrics: m.Handler(), Broker: broker}
		if store != nil {
			httpCfg.Store = store
		}
		apiServer = httpserver.NewServer(engine, httpCfg)
		if err := apiServer.Start(); err != nil {
			if sockOK {
				sockServer.Stop()
			}
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	if cfg.ConfigPath != "" {
		watchThrottle(v, engine)
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(shutdownGrace)
		defer deadline.Stop()
		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Remove(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg, sessionID, sockOK, store != nil)
	log.WithFields(log.Fields{
		"session": sessionID,
		"backend": cfg.BackendURL,
		"stream":  cfg.StreamURL,
	}).Info("cepwatch: session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("cepwatch: engine exited with error")
	}

	// The engine stops calling listeners once closed, so sinks go after it.
	engine.Close()
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.WithError(err).Warn("api server shutdown")
		}
	}
	if broker != nil {
		broker.Close()
	}
	if sockOK {
		sockServer.Stop()
	}
	if insertBuf != nil {
		insertBuf.Stop()
	}
	cleaner.Stop()

	log.WithField("session", sessionID).Info("cepwatch: session ended")
	return nil
}

// watchThrottle re-applies the throttle key when the config file changes.
func watchThrottle(v *viper.Viper, engine *watch.Engine) {
	v.OnConfigChange(func(e fsnotify.Event) {
		ms := v.GetInt("throttle")
		entry := log.WithFields(log.Fields{"file": e.Name, "throttle_ms": ms})
		if ms < 0 {
			entry.Warn("config reload: ignoring negative throttle")
			return
		}
		if err := engine.SetThrottle(ms); err != nil {
			entry.WithError(err).Warn("config reload: could not apply throttle")
			return
		}
		entry.Info("config reload: throttle applied")
	})
	v.WatchConfig()
}
