package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmacdonaldsmith/quotestream/internal/config"
	"github.com/rmacdonaldsmith/quotestream/internal/controller"
	"github.com/rmacdonaldsmith/quotestream/internal/healthsrv"
	"github.com/rmacdonaldsmith/quotestream/internal/httpapi"
	"github.com/rmacdonaldsmith/quotestream/internal/metrics"
	"github.com/rmacdonaldsmith/quotestream/internal/stomp"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

const (
	// Application info
	appName    = "quotestream"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

// options holds the command-line flags. Set flags override the config file
// and the environment.
type options struct {
	configPath  string
	brokerURL   string
	token       string
	httpAddr    string
	grpcAddr    string
	logLevel    string
	tickers     string
	noConnect   bool
	noAuth      bool
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML config file (optional)")
	fs.StringVar(&opts.brokerURL, "broker-url", "", "WebSocket URL of the STOMP broker")
	fs.StringVar(&opts.token, "token", "", "Broker access token")
	fs.StringVar(&opts.httpAddr, "http", "", "Listen address for the control API (default :8080)")
	fs.StringVar(&opts.grpcAddr, "grpc", "", "Listen address for the gRPC health service (optional)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&opts.tickers, "tickers", "", "Comma-separated initial tickers")
	fs.BoolVar(&opts.noConnect, "no-connect", false, "Do not connect to the broker at startup")
	fs.BoolVar(&opts.noAuth, "no-auth", false, "Disable control API authentication (development only)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// loadConfig builds the configuration from the file (if any), the
// environment and the flags, in increasing precedence.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}

	if opts.brokerURL != "" {
		cfg.Broker.URL = opts.brokerURL
	}
	if opts.token != "" {
		cfg.Broker.AccessToken = opts.token
	}
	if opts.httpAddr != "" {
		cfg.Server.HTTPAddr = opts.httpAddr
	}
	if opts.grpcAddr != "" {
		cfg.Server.GRPCAddr = opts.grpcAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.tickers != "" {
		var tickers []string
		for _, t := range strings.Split(opts.tickers, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tickers = append(tickers, t)
			}
		}
		cfg.Stream.Tickers = tickers
	}
	if opts.noAuth {
		cfg.Server.NoAuth = true
	}
	if opts.noConnect {
		off := false
		cfg.Stream.AutoConnect = &off
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// daemon wires the transport, controller and servers of one consumer.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	ctrl   *controller.Controller
	api    *httpapi.Server
	health *healthsrv.Server
}

func newDaemon(cfg *config.Config, tr transport.Transport, logger *slog.Logger) (*daemon, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ctrlCfg := cfg.ControllerConfig(logger)
	ctrlCfg.Transport = tr
	ctrlCfg.Metrics = m
	ctrl, err := controller.New(ctrlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	api, err := httpapi.NewServer(ctrl, httpapi.Config{
		Addr:      cfg.Server.HTTPAddr,
		SecretKey: cfg.Server.SecretKey,
		NoAuth:    cfg.Server.NoAuth,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create control API: %w", err)
	}

	d := &daemon{cfg: cfg, logger: logger, ctrl: ctrl, api: api}
	if cfg.Server.GRPCAddr != "" {
		d.health = healthsrv.New(logger)
	}
	return d, nil
}

// run serves until ctx is done or a server fails, then shuts everything
// down. grpcLis is ignored when the health server is disabled.
func (d *daemon) run(ctx context.Context, httpLis, grpcLis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := d.ctrl.Run(ctx); err != nil {
			errc <- fmt.Errorf("controller: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := d.api.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("control API: %w", err)
		}
	}()

	if d.health != nil && grpcLis != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.health.Follow(ctx, d.ctrl)
		}()
		go func() {
			defer wg.Done()
			if err := d.health.Serve(grpcLis); err != nil {
				d.logger.Warn("health server stopped", "error", err)
			}
		}()
	}

	if d.cfg.Connect() {
		if err := d.ctrl.Connect(ctx); err != nil {
			// The controller keeps retrying on its own.
			d.logger.Warn("initial connect failed", "error", err)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := d.api.Stop(shutdownCtx); err != nil {
		d.logger.Warn("control API shutdown", "error", err)
	}
	if d.health != nil {
		d.health.Stop()
	}
	cancel()
	wg.Wait()
	return runErr
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Handle version flag
	if opts.showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	logger := newLogger(cfg)

	log.Printf("🚀 Starting %s v%s", appName, appVersion)
	log.Printf("🔗 Broker: %s", cfg.Broker.URL)
	log.Printf("📈 Tickers: %s", strings.Join(cfg.Stream.Tickers, ", "))
	log.Printf("🔌 Control API: %s", cfg.Server.HTTPAddr)
	if cfg.Server.NoAuth {
		log.Printf("⚠️  Authentication disabled (no-auth mode)")
	}

	client, err := stomp.NewClient(cfg.StompConfig(logger))
	if err != nil {
		log.Fatalf("❌ Failed to create broker client: %v", err)
	}

	d, err := newDaemon(cfg, client, logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Fatalf("❌ Failed to listen on %s: %v", cfg.Server.HTTPAddr, err)
	}
	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("❌ Failed to listen on %s: %v", cfg.Server.GRPCAddr, err)
		}
		log.Printf("🏥 gRPC health: %s", cfg.Server.GRPCAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up graceful shutdown
	setupGracefulShutdown(cancel)

	if cfg.Connect() {
		log.Printf("▶️  Connecting to broker...")
	} else {
		log.Printf("⏸️  Not connecting at startup (--no-connect)")
	}
	log.Printf("✅ %s started successfully!", appName)
	log.Printf("💡 Use Ctrl+C to shutdown gracefully")

	if err := d.run(ctx, httpLis, grpcLis); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("👋 %s stopped", appName)
}

// setupGracefulShutdown cancels the main context on the first signal
func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		sig := <-sigChan
		log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()
}
