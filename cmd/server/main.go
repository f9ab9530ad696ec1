package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/offline-downloads-go/api"
	"github.com/yourusername/offline-downloads-go/api/handlers"
	"github.com/yourusername/offline-downloads-go/internal/app"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"github.com/yourusername/offline-downloads-go/internal/infrastructure"
	"github.com/yourusername/offline-downloads-go/pkg/logger"
)

const version = "1.0.0"

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// If not in server mode, run as daemon
	if !*serverMode {
		startAsDaemon()
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// startAsDaemon forks the current process and runs the server in background
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}

	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

func runServer() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Lifecycle journal: downloads and error categories, rotated daily
	journal, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Logging.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	defer journal.Close()

	log.Info("Starting offline downloads server",
		zap.String("version", version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("platform", string(config.Downloads.Platform)),
		zap.Bool("disabled", config.Downloads.Disabled))

	store, err := infrastructure.NewSQLiteKeyValueStore(config.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	storage := infrastructure.NewDownloadStorage(store, log)

	// A probe address polls connectivity; without one the host pushes
	// states through PUT /api/v1/network
	var (
		source domain.NetworkSource
		manual *infrastructure.ManualSource
	)
	pollInterval := config.Network.PollInterval
	if config.Network.ProbeAddress != "" {
		source = infrastructure.NewProbeSource(&config.Network)
	} else {
		manual = infrastructure.NewManualSource(domain.FallbackNetworkState())
		source = manual
		pollInterval = 0
	}
	monitor := infrastructure.NewNetworkMonitor(source, pollInterval, log.Named("network"))

	fs := afero.NewOsFs()
	sizeAccountant := infrastructure.NewSizeAccountant(fs, &config.Downloads, log.Named("size"))

	engine := infrastructure.NewExecStreamEngine(&config.Engine, config.Downloads.EventBuffer, log.Named("engine"))
	bridge := infrastructure.NewNativeBridge(engine, config.Downloads.NativeCallTimeout, log.Named("bridge"))

	binaryEngine := infrastructure.NewHTTPBinaryEngine(&http.Client{}, fs, &config.Binary, log.Named("binary"))

	bus := app.NewEventBus(log.Named("bus"))
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Notifications run shell commands; keep them off the registry event loop
	notifier := infrastructure.NewNotificationService(&config.Notification, log)
	notifyEvents, unsubscribeNotifier := bus.SubscribeChan(config.Downloads.EventBuffer)
	defer unsubscribeNotifier()
	g.Go(func() error {
		notifier.Run(gctx, notifyEvents)
		return nil
	})

	registry := app.NewRegistry(app.RegistryDeps{
		Config:  &config.Downloads,
		Storage: storage,
		Monitor: monitor,
		Size:    sizeAccountant,
		Bridge:  bridge,
		Binary:  binaryEngine,
		Fs:      fs,
		Bus:     bus,
		Journal: journal,
		Logger:  log,
	})

	items, err := registry.Init(ctx, config.Downloads.InitOptions())
	if err != nil && !errors.Is(err, domain.ErrModuleUnavailable) {
		stop()
		return fmt.Errorf("failed to initialize downloads registry: %w", err)
	}
	notifier.Seed(items)
	log.Info("Downloads registry ready", zap.Int("items", len(items)))

	if _, err := registry.InitialStart(ctx); err != nil && !errors.Is(err, domain.ErrModuleUnavailable) {
		log.Warn("Initial start failed", zap.Error(err))
	}

	var netSink handlers.NetworkSink
	if manual != nil {
		netSink = manual
	}

	router := api.SetupRouter(api.RouterDeps{
		Registry:       registry,
		Bus:            bus,
		Monitor:        monitor,
		Manual:         netSink,
		AllowedOrigins: config.Server.AllowedOrigins,
		Version:        version,
		Logger:         log.Named("http"),
	})

	addr := net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()

	registry.Shutdown()
	if cerr := engine.Close(); cerr != nil {
		log.Error("Error stopping stream engine", zap.Error(cerr))
	}
	binaryEngine.Close()

	log.Info("Server exited")
	return err
}
