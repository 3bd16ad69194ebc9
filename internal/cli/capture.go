package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"camera2url/internal/api"
	"camera2url/internal/camera"
	"camera2url/internal/capture"
	"camera2url/internal/config"
	"camera2url/internal/control"
	"camera2url/internal/daemon"
	"camera2url/internal/history"
	"camera2url/internal/store"

	"github.com/spf13/cobra"
)

// ErrUploadFailed is returned by snap and send after the failure was printed.
var ErrUploadFailed = errors.New("upload failed")

// currentTarget opens the store and returns it with the target uploads go to.
func currentTarget(cfg *config.Config) (*store.Store, *api.TargetConfig, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	target, err := daemon.SeedTarget(st, cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if target == nil {
		st.Close()
		return nil, nil, fmt.Errorf("%w: run 'camera2url target set <url>' first", capture.ErrNoTarget)
	}
	return st, target, nil
}

// SnapCmd captures one photo with the configured camera and uploads it.
func SnapCmd(cfgPath string, logger *slog.Logger) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture one photo and upload it to the current target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, target, err := currentTarget(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if logger == nil {
				logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			m, rec, err := snap(ctx, daemon.NewCamera(cfg, logger), api.NewClient(), target, logger)
			if err != nil {
				return err
			}
			renderOutcome(cmd.OutOrStdout(), m.Exchange, m.Report)

			if cfg.HistoryRecordManual && rec != nil {
				if err := st.RecordUpload(*rec, target.ID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to record upload: %v\n", err)
				}
			}
			if m.State == capture.StateFailed {
				return ErrUploadFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

// snap runs a single manual capture through a short-lived orchestrator and
// returns the final manual status with the recorded outcome, if any. The
// upload is bound to ctx, so an expired ctx also ends a stuck upload.
func snap(ctx context.Context, cam camera.Camera, uploader capture.Uploader, target *api.TargetConfig, logger *slog.Logger) (capture.ManualStatus, *history.Record, error) {
	orch := capture.New(capture.Options{
		Context:      ctx,
		Camera:       cam,
		Uploader:     uploader,
		Logger:       logger,
		Target:       target,
		RecordManual: true,
	})
	defer orch.Close()

	if err := orch.PrepareCamera(ctx); err != nil {
		return capture.ManualStatus{}, nil, err
	}

	done := make(chan capture.ManualStatus, 1)
	unsubscribe := orch.Subscribe(func(e capture.Event) {
		if e.Kind != capture.EventStateChanged {
			return
		}
		m := orch.Snapshot().Manual
		if m.State == capture.StateSucceeded || m.State == capture.StateFailed {
			select {
			case done <- m:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := orch.TakeAndSendPhoto(); err != nil {
		return capture.ManualStatus{}, nil, err
	}

	select {
	case m := <-done:
		orch.Wait()
		if rec, ok := orch.History().Last(); ok {
			return m, &rec, nil
		}
		return m, nil, nil
	case <-ctx.Done():
		return capture.ManualStatus{}, nil, fmt.Errorf("timed out waiting for the capture: %w", ctx.Err())
	}
}

// SendCmd uploads an existing image file to the current target.
func SendCmd(cfgPath string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Upload an existing file to the current target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, target, err := currentTarget(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			exchange, err := api.NewClient().Upload(ctx, data, *target)
			if err != nil {
				renderOutcome(cmd.OutOrStdout(), nil, api.AsErrorReport(err))
				return ErrUploadFailed
			}
			renderOutcome(cmd.OutOrStdout(), &exchange, nil)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

// TimerCmd starts and stops timer mode on the running daemon.
func TimerCmd(cfgPath string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Control timer mode on the running daemon",
	}

	var every int
	var unit string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start capturing on an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if unit != "" {
				if _, err := capture.ParseUnit(unit); err != nil {
					return err
				}
			}
			client, err := daemonClient(cfgPath)
			if err != nil {
				return err
			}
			req := control.TimerRequest{Unit: unit}
			if cmd.Flags().Changed("every") {
				req.Value = &every
			}
			status, err := client.StartTimer(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Timer running, capturing %s.\n", status.TimerPolicy)
			return nil
		},
	}
	startCmd.Flags().IntVar(&every, "every", 0, "interval value (default: the daemon's policy)")
	startCmd.Flags().StringVar(&unit, "unit", "", "interval unit: seconds, minutes, hours or days")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop timer mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemonClient(cfgPath)
			if err != nil {
				return err
			}
			status, err := client.StopTimer(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Timer stopped after %d captures.\n", status.TimerCaptureCount)
			return nil
		},
	}

	cmd.AddCommand(startCmd, stopCmd)
	return cmd
}

func daemonClient(cfgPath string) (*control.Client, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return control.NewClient(cfg.ControlAddr, 10*time.Second), nil
}
