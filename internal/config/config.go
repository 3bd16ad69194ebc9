package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"camera2url/internal/camera"

	"github.com/spf13/viper"
)

// FileName is the config file looked up next to the executable.
const FileName = "config.json"

// EnvPrefix prefixes environment overrides, e.g. CAMERA2URL_TARGET_URL.
const EnvPrefix = "CAMERA2URL"

const (
	SourceFolder   = "folder"
	SourceSnapshot = "snapshot"
)

type Config struct {
	DeviceID string `mapstructure:"device_id" json:"device_id"`

	CameraSource           string                  `mapstructure:"camera_source" json:"camera_source"`
	CameraFolder           string                  `mapstructure:"camera_folder" json:"camera_folder"`
	CameraDebounceMS       int                     `mapstructure:"camera_debounce_ms" json:"camera_debounce_ms"`
	CameraDevice           string                  `mapstructure:"camera_device" json:"camera_device"`
	SnapshotDevices        []camera.SnapshotDevice `mapstructure:"snapshot_devices" json:"snapshot_devices"`
	SnapshotTimeoutSeconds int                     `mapstructure:"snapshot_timeout_seconds" json:"snapshot_timeout_seconds"`

	TargetVerb string `mapstructure:"target_verb" json:"target_verb"`
	TargetURL  string `mapstructure:"target_url" json:"target_url"`
	TargetNote string `mapstructure:"target_note" json:"target_note"`

	TimerValue     int    `mapstructure:"timer_value" json:"timer_value"`
	TimerUnit      string `mapstructure:"timer_unit" json:"timer_unit"`
	TimerAutoStart bool   `mapstructure:"timer_autostart" json:"timer_autostart"`

	HistoryRecordManual bool `mapstructure:"history_record_manual" json:"history_record_manual"`

	DBPath        string `mapstructure:"db_path" json:"db_path"`
	LogPath       string `mapstructure:"log_path" json:"log_path"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" json:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" json:"log_max_age_days"`

	ControlAddr string `mapstructure:"control_addr" json:"control_addr"`

	UploadRetentionDays       int `mapstructure:"upload_retention_days" json:"upload_retention_days"`
	UploadMaxRows             int `mapstructure:"upload_max_rows" json:"upload_max_rows"`
	PruneIntervalMinutes      int `mapstructure:"prune_interval_minutes" json:"prune_interval_minutes"`
	PruneHighWatermarkPercent int `mapstructure:"prune_high_watermark_percent" json:"prune_high_watermark_percent"`
	PruneLowWatermarkPercent  int `mapstructure:"prune_low_watermark_percent" json:"prune_low_watermark_percent"`
}

// defaults lists every key with its default value. Registering each key is
// also what makes environment overrides visible to Unmarshal.
var defaults = map[string]any{
	"device_id":                    "",
	"camera_source":                SourceFolder,
	"camera_folder":                "./frames",
	"camera_debounce_ms":           500,
	"camera_device":                "",
	"snapshot_devices":             []camera.SnapshotDevice{},
	"snapshot_timeout_seconds":     10,
	"target_verb":                  "POST",
	"target_url":                   "",
	"target_note":                  "",
	"timer_value":                  30,
	"timer_unit":                   "seconds",
	"timer_autostart":              false,
	"history_record_manual":        true,
	"db_path":                      "./camera2url.db",
	"log_path":                     "./camera2url.log",
	"log_max_size_mb":              10,
	"log_max_backups":              5,
	"log_max_age_days":             30,
	"control_addr":                 "127.0.0.1:8089",
	"upload_retention_days":        30,
	"upload_max_rows":              10000,
	"prune_interval_minutes":       10,
	"prune_high_watermark_percent": 90,
	"prune_low_watermark_percent":  70,
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static; a decode failure is a programming error
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load reads path, applies CAMERA2URL_* overrides and resolves relative
// paths against the config file's directory. A missing file yields defaults.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	cfg.CameraFolder = resolve(base, cfg.CameraFolder)
	cfg.DBPath = resolve(base, cfg.DBPath)
	cfg.LogPath = resolve(base, cfg.LogPath)

	return cfg, cfg.Validate()
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks the values the daemon cannot run without.
func (c *Config) Validate() error {
	var errs []error
	switch c.CameraSource {
	case SourceFolder:
		if c.CameraFolder == "" {
			errs = append(errs, errors.New("camera_folder is required for the folder source"))
		}
	case SourceSnapshot:
		if len(c.SnapshotDevices) == 0 {
			errs = append(errs, errors.New("snapshot_devices is required for the snapshot source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown camera_source %q", c.CameraSource))
	}
	if c.PruneLowWatermarkPercent > c.PruneHighWatermarkPercent {
		errs = append(errs, errors.New("prune_low_watermark_percent must not exceed prune_high_watermark_percent"))
	}
	return errors.Join(errs...)
}

// Save writes cfg as indented JSON.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}

// DefaultPath returns config.json next to the running executable.
func DefaultPath() string {
	ex, err := os.Executable()
	if err != nil {
		return FileName
	}
	return filepath.Join(filepath.Dir(ex), FileName)
}
