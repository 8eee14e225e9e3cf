package writer

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"NetSpectraTables/internal/metrics"
	"NetSpectraTables/internal/model"

	"go.uber.org/zap"
)

// SummaryData holds the metadata of one table snapshot.
type SummaryData struct {
	Table         string `json:"table"`
	Protocol      string `json:"protocol"`
	Conversations int    `json:"conversations"`
	Endpoints     int    `json:"endpoints"`
	TotalBytes    uint64 `json:"total_bytes"`
	TotalPackets  uint64 `json:"total_packets"`
	Timestamp     string `json:"timestamp"`
}

// GobWriter writes table snapshots to disk in gob format.
// It implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewGobWriter creates a new file snapshot writer.
func NewGobWriter(rootPath string, interval time.Duration, logger *zap.SugaredLogger) model.Writer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &GobWriter{rootPath: rootPath, interval: interval, logger: logger}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores a model.TableSnapshot under <root>/<timestamp>/<table>/.
func (w *GobWriter) Write(payload interface{}, timestamp string) error {
	snapshot, ok := payload.(model.TableSnapshot)
	if !ok {
		return fmt.Errorf("invalid payload type for GobWriter: expected model.TableSnapshot, got %T", payload)
	}
	if len(snapshot.Conversations) == 0 && len(snapshot.Endpoints) == 0 {
		return nil
	}

	tableDir := filepath.Join(w.rootPath, timestamp, snapshot.Table)
	if err := os.MkdirAll(tableDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := writeGob(filepath.Join(tableDir, "conversations.dat"), snapshot.Conversations); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(tableDir, "endpoints.dat"), snapshot.Endpoints); err != nil {
		return err
	}

	summary := SummaryData{
		Table:         snapshot.Table,
		Protocol:      snapshot.Protocol,
		Conversations: len(snapshot.Conversations),
		Endpoints:     len(snapshot.Endpoints),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	for i := range snapshot.Conversations {
		m, _ := metrics.ForConversation(&snapshot.Conversations[i])
		summary.TotalBytes += m.TotalBytes
		summary.TotalPackets += m.TotalFrames
	}

	summaryFile, err := os.Create(filepath.Join(tableDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	w.logger.Debugw("wrote table snapshot", "table", snapshot.Table, "dir", tableDir,
		"conversations", summary.Conversations, "endpoints", summary.Endpoints)
	return nil
}

func writeGob(path string, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadGob decodes a snapshot file written by GobWriter into v.
func ReadGob(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return nil
}
