package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/developingchet/wgd-bridge/internal/bridge"
	"github.com/developingchet/wgd-bridge/internal/config"
	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/logger"
	"github.com/developingchet/wgd-bridge/internal/storage"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

const binaryName = "wgd-bridge"

// app carries the constructors the commands use, so tests can swap in mocks.
type app struct {
	loadConfig   func() (*config.Config, error)
	newDashboard func(cfg *config.Config, log zerolog.Logger) (dashboard.Dashboard, error)
	openLedger   func(dataDir string) (storage.Ledger, error)
	out          io.Writer
	errOut       io.Writer
	now          func() time.Time
}

func defaultApp() *app {
	return &app{
		loadConfig:   config.Load,
		newDashboard: newDashboardClient,
		openLedger:   storage.NewBboltLedger,
		out:          os.Stdout,
		errOut:       os.Stderr,
		now:          time.Now,
	}
}

func main() {
	root := newRootCmd(defaultApp())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           binaryName,
		Short:         "WGDashboard API bridge: peer management, webhook ingress and metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.AddCommand(
		a.runCmd(),
		a.healthcheckCmd(),
		a.versionCmd(),
		a.configsCmd(),
		a.ensureConfigCmd(),
		a.deleteConfigCmd(),
		a.snapshotCmd(),
		a.totalsCmd(),
		a.findPeerCmd(),
		a.createPeerCmd(),
		a.deletePeerCmd(),
		a.peerConfigCmd(),
		a.nextAddressCmd(),
		a.ledgerCmd(),
	)
	return root
}

// newDashboardClient maps the process configuration onto the client.
func newDashboardClient(cfg *config.Config, log zerolog.Logger) (dashboard.Dashboard, error) {
	c, err := dashboard.NewClient(dashboard.ClientConfig{
		BaseURL:         cfg.APIBase,
		APIKey:          cfg.APIToken,
		VerifyTLS:       cfg.VerifyTLS,
		CACertPath:      cfg.CACert,
		Timeout:         cfg.HTTPTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryInitial:    cfg.RetryInitial,
		RetryMax:        cfg.RetryMax,
		CacheTTL:        cfg.CacheTTL,
		RateLimitPerMin: cfg.RateLimitRPM,
		MaxConns:        cfg.MaxConns,
		IdleConns:       cfg.IdleConns,
		ActiveWindow:    cfg.ActiveWindow,
		PeerDNS:         cfg.PeerDNS,
		PeerKeepalive:   cfg.PeerKeepalive,
	}, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// runCmd is the main daemon command.
func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.runDaemon(ctx)
		},
	}
}

func (a *app) runDaemon(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out, closer := logger.Output(a.errOut, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileBackups,
		MaxAgeDays: cfg.LogFileMaxAge,
	})
	defer closer.Close()
	log := logger.New(out, cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", Version).Str("api_base", cfg.APIBase).Msg(binaryName + " starting")

	ledger, err := a.openLedger(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	dash, err := a.newDashboard(cfg, log)
	if err != nil {
		return fmt.Errorf("init dashboard client: %w", err)
	}
	defer dash.Close()

	// The daemon still starts when the dashboard is down; /readyz reports it.
	if err := dash.Handshake(ctx); err != nil {
		log.Warn().Err(err).Msg("dashboard handshake failed; continuing")
	}

	b, err := bridge.New(cfg, dash, ledger, log)
	if err != nil {
		return fmt.Errorf("build bridge: %w", err)
	}
	return b.Run(ctx)
}

// healthcheckCmd exits non-zero unless the local health endpoint answers 200.
func (a *app) healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUnvalidated()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.HealthAddr), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("healthcheck failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthcheck returned %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

// healthURL turns a listen address such as ":8081" into a loopback URL.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/healthz"
}

// versionCmd prints the version and exits.
func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", binaryName, Version)
		},
	}
}

// session is what a one-shot command needs: config, logger and client.
type session struct {
	cfg  *config.Config
	log  zerolog.Logger
	dash dashboard.Dashboard
}

func (a *app) open() (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(a.errOut, cfg.LogLevel, cfg.LogFormat)
	dash, err := a.newDashboard(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init dashboard client: %w", err)
	}
	return &session{cfg: cfg, log: log, dash: dash}, nil
}

func (s *session) Close() error {
	return s.dash.Close()
}

// withLedger runs fn against the ledger. When the ledger cannot be opened,
// for example because the daemon holds its lock, the failure is logged and
// fn is skipped; the dashboard change has already happened.
func (a *app) withLedger(s *session, fn func(storage.Ledger) error) error {
	ledger, err := a.openLedger(s.cfg.DataDir)
	if err != nil {
		s.log.Warn().Err(err).Msg("ledger unavailable; ownership not updated")
		return nil
	}
	defer ledger.Close()
	return fn(ledger)
}
