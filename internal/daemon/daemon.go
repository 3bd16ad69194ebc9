package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"camera2url/internal/api"
	"camera2url/internal/camera"
	"camera2url/internal/capture"
	"camera2url/internal/config"
	"camera2url/internal/control"
	"camera2url/internal/device"
	"camera2url/internal/history"
	"camera2url/internal/metrics"
	"camera2url/internal/pruner"
	"camera2url/internal/store"

	"github.com/kardianos/service"
)

// Daemon implements the service.Interface required by kardianos/service.
// It acts as the controller for the daemon's lifecycle events.
type Daemon struct {
	Logger  *slog.Logger
	Cfg     *config.Config
	CfgPath string

	DbStore      *store.Store
	Camera       camera.Camera
	Orchestrator *capture.Orchestrator
	Metrics      *metrics.Metrics
	PrunerSvc    *pruner.Pruner
	ControlSvc   *control.Server

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Start is called when the service is started.
// It loads the configuration, opens the store and starts the capture
// pipeline, the pruner and the control API. Only config and store failures
// abort the start.
func (d *Daemon) Start(s service.Service) error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.CfgPath == "" {
		d.CfgPath = config.DefaultPath()
	}

	var err error
	if d.Cfg == nil {
		d.Cfg, err = config.Load(d.CfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Ensure config file exists for user convenience if it didn't
		if _, err := os.Stat(d.CfgPath); os.IsNotExist(err) {
			if err := config.Save(d.CfgPath, d.Cfg); err != nil {
				d.Logger.Warn("Failed to write default config", "path", d.CfgPath, "error", err)
			}
		}
	}
	if d.Cfg.DeviceID == "" {
		d.Cfg.DeviceID = device.ID()
	}

	d.DbStore, err = store.NewStore(d.Cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init store at %s: %w", d.Cfg.DBPath, err)
	}

	target, err := SeedTarget(d.DbStore, d.Cfg)
	if err != nil {
		d.Logger.Warn("Failed to load upload target", "error", err)
	}

	if d.Cfg.CameraSource == config.SourceFolder {
		if err := os.MkdirAll(d.Cfg.CameraFolder, 0755); err != nil {
			d.Logger.Warn("Failed to create camera folder", "path", d.Cfg.CameraFolder, "error", err)
		}
	}
	d.Camera = NewCamera(d.Cfg, d.Logger)
	d.Orchestrator = capture.New(capture.Options{
		Camera:       d.Camera,
		Uploader:     api.NewClient(),
		History:      history.NewStore(history.MaxRecords),
		Logger:       d.Logger,
		Policy:       TimerPolicy(d.Cfg),
		Target:       target,
		RecordManual: d.Cfg.HistoryRecordManual,
	})
	d.Metrics = metrics.New(d.Orchestrator)
	d.unsubscribe = d.Orchestrator.Subscribe(d.observe)

	d.PrunerSvc = pruner.NewPruner(d.Cfg, d.DbStore, d.Logger)
	d.PrunerSvc.Start()

	if d.Cfg.ControlAddr != "" {
		router := control.NewRouter(d.Orchestrator, d.DbStore, d.Cfg.DeviceID, d.Metrics.Handler(d.Logger), d.Logger)
		d.ControlSvc = control.NewServer(d.Cfg.ControlAddr, router, d.Logger)
		if err := d.ControlSvc.Start(); err != nil {
			d.Logger.Error("Control API disabled", "error", err)
			d.ControlSvc = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.prepare(ctx)
	}()

	d.Logger.Info("camera2url daemon started",
		"device_id", d.Cfg.DeviceID,
		"camera_source", d.Cfg.CameraSource,
		"control_addr", d.Cfg.ControlAddr)
	if target != nil {
		d.Logger.Info("Upload target", "target", target.Summary())
	} else {
		d.Logger.Warn("No upload target configured; captures are refused until one is set")
	}

	return nil
}

// prepare readies the camera and starts timer mode when configured to.
func (d *Daemon) prepare(ctx context.Context) {
	if err := d.Orchestrator.PrepareCamera(ctx); err != nil {
		return
	}
	if !d.Cfg.TimerAutoStart || ctx.Err() != nil {
		return
	}
	if err := d.Orchestrator.StartTimer(TimerPolicy(d.Cfg)); err != nil {
		d.Logger.Warn("Timer autostart failed", "error", err)
	}
}

// observe feeds metrics and persists every recorded outcome.
func (d *Daemon) observe(e capture.Event) {
	d.Metrics.Observe(e)

	if e.Kind != capture.EventUploadRecorded || e.Record == nil {
		return
	}
	if err := d.DbStore.RecordUpload(*e.Record, e.TargetID); err != nil {
		d.Logger.Error("Failed to persist upload outcome", "capture", e.Record.CaptureNumber, "error", err)
	}
}

// Stop is called when the service is being stopped.
func (d *Daemon) Stop(s service.Service) error {
	if d.Logger != nil {
		d.Logger.Info("Stopping camera2url daemon...")
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if d.ControlSvc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.ControlSvc.Shutdown(ctx); err != nil && d.Logger != nil {
			d.Logger.Error("Control API shutdown", "error", err)
		}
		cancel()
	}
	if d.Orchestrator != nil {
		if err := d.Orchestrator.Close(); err != nil && d.Logger != nil {
			d.Logger.Warn("Camera stop failed", "error", err)
		}
	}
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if d.PrunerSvc != nil {
		d.PrunerSvc.Stop()
	}
	if d.DbStore != nil {
		d.DbStore.Close()
	}
	return nil
}

// NewCamera builds the camera selected by cfg.CameraSource.
func NewCamera(cfg *config.Config, logger *slog.Logger) camera.Camera {
	if cfg.CameraSource == config.SourceSnapshot {
		timeout := time.Duration(cfg.SnapshotTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return camera.NewSnapshot(cfg.SnapshotDevices, cfg.CameraDevice, timeout)
	}
	debounce := time.Duration(cfg.CameraDebounceMS) * time.Millisecond
	return camera.NewFolder(cfg.CameraFolder, cfg.CameraDevice, debounce, logger)
}

// TimerPolicy returns the configured timer interval.
func TimerPolicy(cfg *config.Config) capture.TimerPolicy {
	unit, err := capture.ParseUnit(cfg.TimerUnit)
	if err != nil {
		unit = capture.Seconds
	}
	return capture.NewTimerPolicy(cfg.TimerValue, unit)
}

// SeedTarget returns the store's current target. An empty store is seeded
// with the target from cfg, if any. A nil target means none is configured.
func SeedTarget(st *store.Store, cfg *config.Config) (*api.TargetConfig, error) {
	current, ok, err := st.CurrentTarget()
	if err != nil {
		return nil, err
	}
	if ok {
		return &current, nil
	}
	if cfg.TargetURL == "" {
		return nil, nil
	}

	verb, err := api.ParseVerb(cfg.TargetVerb)
	if err != nil {
		return nil, err
	}
	if _, err := api.ParseTargetURL(cfg.TargetURL); err != nil {
		return nil, err
	}
	seeded, err := st.UpsertTarget(verb, cfg.TargetURL, cfg.TargetNote)
	if err != nil {
		return nil, fmt.Errorf("failed to seed target: %w", err)
	}
	return &seeded, nil
}
