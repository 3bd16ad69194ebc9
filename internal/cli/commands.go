package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"camera2url/internal/config"
	"camera2url/internal/control"
	"camera2url/internal/store"
	"camera2url/internal/sysinfo"

	"github.com/kardianos/service"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command and all subcommands for the CLI.
func NewRootCmd(s service.Service, logger *slog.Logger, logPath string, cfgPath string) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:          "camera2url",
		Short:        "Capture photos and upload them to an HTTP endpoint",
		SilenceUsage: true,
	}

	uninstallCmd := serviceCmd("uninstall", "Uninstall the service", "Service uninstalled.", func() error { return s.Uninstall() })
	startCmd := serviceCmd("start", "Start the service", "Service started.", func() error { return s.Start() })
	stopCmd := serviceCmd("stop", "Stop the service", "Service stopped.", func() error { return s.Stop() })
	restartCmd := serviceCmd("restart", "Restart the service", "Service restarted.", func() error { return s.Restart() })

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the service in foreground",
		Run: func(cmd *cobra.Command, args []string) {
			err := s.Run()
			if err != nil {
				if logger != nil {
					logger.Error("Run error", "error", err)
				} else {
					fmt.Printf("Run error: %v\n", err)
				}
			}
		},
	}

	rootCmd.AddCommand(
		InstallCmd(s),
		ServiceInstallCmd(s), // Hidden command for self-registration
		uninstallCmd,
		startCmd,
		stopCmd,
		restartCmd,
		runCmd,
		StatusCmd(s, cfgPath),
		LogsCmd(logPath),
		TargetCmd(cfgPath),
		SnapCmd(cfgPath, logger),
		SendCmd(cfgPath),
		HistoryCmd(cfgPath),
		TimerCmd(cfgPath),
	)
	return rootCmd
}

// serviceCmd wraps a kardianos/service control action.
func serviceCmd(use, short, done string, action func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := action(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Failed to %s service: %v\n", use, err)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
		},
	}
}

// StatusCmd prints the service state and, when the daemon answers, its
// capture status. --qr prints the control API address as a QR code.
func StatusCmd(s service.Service, cfgPath string) *cobra.Command {
	var showQR bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service and capture status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if s != nil {
				status, err := s.Status()
				switch {
				case err != nil:
					fmt.Fprintf(out, "Service: unknown (%v)\n", err)
				case status == service.StatusRunning:
					fmt.Fprintln(out, "Service: "+successStyle.Render("running"))
				case status == service.StatusStopped:
					fmt.Fprintln(out, "Service: stopped")
				default:
					fmt.Fprintln(out, "Service: unknown")
				}
			}

			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			st, err := control.NewClient(cfg.ControlAddr, 5*time.Second).Status(ctx)
			if errors.Is(err, control.ErrDaemonUnreachable) {
				fmt.Fprintf(out, "Daemon is not answering on %s.\n", cfg.ControlAddr)
			} else if err != nil {
				return err
			} else {
				renderStatus(out, st, time.Now())
			}

			if showQR {
				url := controlURL(cfg.ControlAddr, sysinfo.Collect().IPAddress)
				fmt.Fprintf(out, "\nControl API: %s\n", url)
				qrterminal.GenerateHalfBlock(url, qrterminal.L, out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "print the control API address as a QR code")
	return cmd
}

// controlURL turns the listen address into a URL reachable from another
// machine, substituting ip for wildcard and loopback hosts.
func controlURL(addr, ip string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ip != "" {
		if parsed := net.ParseIP(host); host == "" || host == "localhost" || (parsed != nil && (parsed.IsLoopback() || parsed.IsUnspecified())) {
			host = ip
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}

func loadConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

// notifyDaemon asks a running daemon to reload its target. It is silent
// when no daemon is running.
func notifyDaemon(cmd *cobra.Command, cfg *config.Config) {
	if cfg.ControlAddr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	err := control.NewClient(cfg.ControlAddr, 2*time.Second).ReloadTarget(ctx)
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "Running daemon updated.")
	case !errors.Is(err, control.ErrDaemonUnreachable):
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: daemon did not accept the new target: %v\n", err)
	}
}

// LogsCmd prints the daemon log file, or its last --lines lines.
func LogsCmd(logPath string) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show service logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(logPath)
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No logs found.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()

			if lines <= 0 {
				_, err = io.Copy(cmd.OutOrStdout(), f)
				return err
			}
			tail := make([]string, 0, lines)
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				if len(tail) == lines {
					tail = tail[1:]
				}
				tail = append(tail, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read log file: %w", err)
			}
			for _, line := range tail {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "only print the last n lines")
	return cmd
}
