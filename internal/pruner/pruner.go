package pruner

import (
	"log/slog"
	"time"

	"camera2url/internal/config"
)

// UploadLog is the part of the store the pruner works on.
type UploadLog interface {
	CountUploads() (int, error)
	DeleteUploadsBefore(cutoff time.Time) (int64, error)
	DeleteOldestUploads(n int) (int64, error)
}

// Pruner keeps the persisted upload log within its retention limits: rows
// older than the retention period are removed, and once the row count passes
// the high watermark the oldest rows are removed down to the low watermark.
type Pruner struct {
	cfg    *config.Config
	log    UploadLog
	logger *slog.Logger
	now    func() time.Time
	stop   chan struct{}
	done   chan struct{}
}

func NewPruner(cfg *config.Config, log UploadLog, logger *slog.Logger) *Pruner {
	return &Pruner{
		cfg:    cfg,
		log:    log,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *Pruner) interval() time.Duration {
	if p.cfg.PruneIntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(p.cfg.PruneIntervalMinutes) * time.Minute
}

// Start prunes once and then on every interval until Stop.
func (p *Pruner) Start() {
	ticker := time.NewTicker(p.interval())
	go func() {
		defer close(p.done)
		p.Prune()
		for {
			select {
			case <-ticker.C:
				p.Prune()
			case <-p.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (p *Pruner) Stop() {
	close(p.stop)
	<-p.done
}

// Prune runs one retention pass.
func (p *Pruner) Prune() {
	if days := p.cfg.UploadRetentionDays; days > 0 {
		cutoff := p.now().AddDate(0, 0, -days)
		n, err := p.log.DeleteUploadsBefore(cutoff)
		if err != nil {
			p.logger.Error("Pruner: failed to delete expired uploads", "error", err)
		} else if n > 0 {
			p.logger.Info("Pruner: deleted expired uploads", "rows", n, "cutoff", cutoff)
		}
	}

	maxRows := p.cfg.UploadMaxRows
	if maxRows <= 0 {
		return
	}

	count, err := p.log.CountUploads()
	if err != nil {
		p.logger.Error("Pruner: failed to count uploads", "error", err)
		return
	}

	high := watermark(maxRows, p.cfg.PruneHighWatermarkPercent, 100)
	low := watermark(maxRows, p.cfg.PruneLowWatermarkPercent, 100)
	if low > high {
		low = high
	}
	if count <= high {
		return
	}

	excess := count - low
	p.logger.Info("Pruner: upload log above high watermark", "rows", count, "high", high, "low", low)
	n, err := p.log.DeleteOldestUploads(excess)
	if err != nil {
		p.logger.Error("Pruner: failed to trim upload log", "error", err)
		return
	}
	p.logger.Info("Pruner: trimmed upload log", "rows", n)
}

func watermark(limit, percent, fallback int) int {
	if percent <= 0 || percent > 100 {
		percent = fallback
	}
	return limit * percent / 100
}
