package factory

import (
	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/writer"

	"go.uber.org/zap"
)

// CreateWriters builds the snapshot writers enabled in cfg. A writer that
// cannot be created is logged and skipped.
func CreateWriters(cfg *config.Config, logger *zap.SugaredLogger) []model.Writer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var writers []model.Writer

	if cfg.Snapshot.Enabled {
		interval, err := cfg.FileSnapshotInterval()
		if err != nil {
			logger.Warnw("invalid gob snapshot interval, skipping writer", "error", err)
		} else {
			writers = append(writers, writer.NewGobWriter(cfg.Snapshot.RootPath, interval, logger))
		}
	}

	if cfg.ClickHouse.Enabled {
		interval, err := cfg.SnapshotInterval()
		if err != nil {
			logger.Warnw("invalid clickhouse snapshot interval, skipping writer", "error", err)
		} else if w, err := writer.NewClickHouseWriter(cfg.ClickHouse, interval, logger); err != nil {
			logger.Warnw("failed to create clickhouse writer, skipping", "error", err)
		} else {
			writers = append(writers, w)
		}
	}

	logger.Infow("snapshot writers created", "count", len(writers))
	return writers
}
