// Package main provides the entry point of the rich presence daemon.
// The daemon authorizes against Discord, keeps the presence connection alive and
// publishes what the host reports through its state file and the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/router-for-me/RichPresence/internal/api"
	"github.com/router-for-me/RichPresence/internal/auth/discord"
	"github.com/router-for-me/RichPresence/internal/browser"
	"github.com/router-for-me/RichPresence/internal/buildinfo"
	"github.com/router-for-me/RichPresence/internal/config"
	"github.com/router-for-me/RichPresence/internal/logging"
	"github.com/router-for-me/RichPresence/internal/presence"
	"github.com/router-for-me/RichPresence/internal/rpc"
	"github.com/router-for-me/RichPresence/internal/tui"
	"github.com/router-for-me/RichPresence/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Println(buildinfo.String())

	var configPath string
	var noBrowser bool
	var debug bool
	var callbackPort int
	var hostStateFile string
	var showVersion bool
	var tuiMode bool
	var attachAddr string

	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.IntVar(&callbackPort, "oauth-callback-port", 0, "Override OAuth callback port")
	flag.StringVar(&hostStateFile, "host-state-file", "", "Host state JSON file to follow")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&tuiMode, "tui", false, "Run the daemon with an interactive terminal console")
	flag.StringVar(&attachAddr, "attach", "", "Open the terminal console against a running daemon's control API (host:port)")
	flag.Parse()

	if showVersion {
		return
	}

	if attachAddr != "" {
		if err := tui.Run(attachAddr, nil, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		candidate := filepath.Join(wd, "config.yaml")
		if _, errStat := os.Stat(candidate); errStat == nil {
			configPath = candidate
		}
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if err = cfg.ApplyEnv(nil); err != nil {
		log.Errorf("failed to apply environment overrides: %v", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "no-browser":
			cfg.NoBrowser = noBrowser
		case "debug":
			cfg.Debug = debug
		case "oauth-callback-port":
			cfg.CallbackPort = callbackPort
		case "host-state-file":
			cfg.HostStateFile = hostStateFile
		}
	})

	if err = cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	defer logging.CloseLogOutputs()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tuiMode {
		if err = runWithConsole(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "presence daemon failed: %v\n", err)
			logging.CloseLogOutputs()
			os.Exit(1)
		}
		return
	}

	if err = run(ctx, cfg, nil); err != nil {
		log.Errorf("presence daemon failed: %v", err)
		logging.CloseLogOutputs()
		os.Exit(1)
	}
	log.Info("presence daemon stopped")
}

// runWithConsole runs the daemon in the background and the terminal console in
// the foreground. Log output is routed into the console while it owns the screen.
func runWithConsole(ctx context.Context, cfg *config.Config) error {
	cfg.API.Enabled = true

	hook := tui.NewLogHook(2000)
	hook.SetFormatter(&logging.LogFormatter{})
	log.AddHook(hook)
	if !cfg.LoggingToFile {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, presentInConsole)
	}()

	errTUI := tui.Run(cfg.API.Addr(), hook, os.Stdout)
	cancel()
	errRun := <-done
	if errTUI != nil {
		return fmt.Errorf("console: %w", errTUI)
	}
	return errRun
}

// presentInConsole opens the consent URL without writing to the terminal the
// console is drawing on.
func presentInConsole(url string, noBrowser bool) bool {
	if !noBrowser {
		if err := browser.OpenURL(url); err == nil {
			return true
		}
	}
	if err := browser.CopyToClipboard(url); err == nil {
		log.Warnf("open the following URL to authorize rich presence (copied to clipboard): %s", url)
	} else {
		log.Warnf("open the following URL to authorize rich presence: %s", url)
	}
	return false
}

func run(ctx context.Context, cfg *config.Config, present func(url string, noBrowser bool) bool) error {
	pump := presence.NewPump()
	client, err := rpc.New(rpc.Options{
		Pump: pump,
		Endpoints: discord.Endpoints{
			AuthURL:  cfg.AuthorizeURL,
			TokenURL: cfg.TokenURL,
		},
		IdentityURL:  identityURL(cfg),
		GatewayURL:   cfg.GatewayURL,
		ProxyURL:     cfg.ProxyURL,
		CallbackPort: cfg.CallbackPort,
		NoBrowser:    cfg.NoBrowser,
		Present:      present,
	})
	if err != nil {
		return err
	}

	module := presence.NewModule(client, pump, presence.ModuleOptions{
		ApplicationID:      cfg.ApplicationID,
		NegotiationTimeout: cfg.NegotiationTimeout,
		RunStateLabels:     runStateLabels(cfg.RunStateLabels),
		LogSeverity:        presence.ParseLogSeverity(cfg.ClientLogLevel),
	})
	if err = module.Startup(); err != nil {
		_ = client.Close()
		return fmt.Errorf("start presence module: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tickLoop(gctx, module, cfg.TickInterval)
	})

	if cfg.HostStateFile != "" {
		w, errWatcher := watcher.NewWatcher(cfg.HostStateFile, module)
		if errWatcher != nil {
			log.Errorf("failed to create host state watcher: %v", errWatcher)
		} else {
			g.Go(func() error {
				return w.Run(gctx)
			})
		}
	}

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API.Addr(), module, 0)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	errRun := g.Wait()
	if errShutdown := module.Shutdown(); errShutdown != nil {
		log.Warnf("presence module shutdown: %v", errShutdown)
	}
	if errors.Is(errRun, context.Canceled) {
		return nil
	}
	return errRun
}

// tickLoop is the host tick: the only goroutine that mutates presence state.
func tickLoop(ctx context.Context, module *presence.Module, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			module.OnFixedUpdate()
		}
	}
}

func identityURL(cfg *config.Config) string {
	if strings.TrimSpace(cfg.IdentityURL) != "" {
		return cfg.IdentityURL
	}
	return discord.IdentityURL
}

func runStateLabels(raw map[string]string) map[presence.RunState]string {
	if len(raw) == 0 {
		return nil
	}
	labels := make(map[presence.RunState]string, len(raw))
	for name, label := range raw {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "unknown", "waiting":
			labels[presence.RunStateUnknown] = label
		case "stopped", "editing", "playing", "paused":
			labels[presence.ParseRunState(name)] = label
		default:
			log.Warnf("ignoring label for unknown run state %q", name)
		}
	}
	return labels
}
