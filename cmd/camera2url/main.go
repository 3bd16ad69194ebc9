package main

import (
	"io"
	"log"
	"log/slog"
	"os"

	"camera2url/internal/cli"
	"camera2url/internal/config"
	"camera2url/internal/daemon"
	"camera2url/internal/logger"

	"github.com/kardianos/service"
)

func main() {
	cfgPath := config.DefaultPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("Failed to load config, using defaults: %v", err)
		cfg = config.Default()
	}

	svcConfig := &service.Config{
		Name:        "camera2url",
		DisplayName: "camera2url",
		Description: "Captures photos and uploads them to an HTTP endpoint.",
		Arguments:   []string{"run"},
		Option: service.KeyValue{
			"UserService": true,
		},
	}

	prg := &daemon.Daemon{CfgPath: cfgPath}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	errs := make(chan error, 5)
	sysLogger, err := s.Logger(errs)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		for err := range errs {
			if err != nil {
				log.Print(err)
			}
		}
	}()

	logFile := logger.NewRotatingFile(cfg.LogPath, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays)
	defer logFile.Close()

	var console io.Writer
	if service.Interactive() {
		console = os.Stderr
	}
	prg.Logger = logger.Setup(sysLogger, logFile, logger.Options{Level: slog.LevelInfo, Console: console})

	rootCmd := cli.NewRootCmd(s, prg.Logger, cfg.LogPath, cfgPath)
	if err := rootCmd.Execute(); err != nil {
		logFile.Close()
		os.Exit(1)
	}
}
