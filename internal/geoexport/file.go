package geoexport

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/model"

	"go.uber.org/zap"
)

// NewExporterFromConfig creates an exporter, loading the HTML template named
// in cfg when one is set.
func NewExporterFromConfig(cfg config.ExportConfig, logger *zap.SugaredLogger) (*Exporter, error) {
	opts := Options{OmitCity: cfg.OmitCity}
	if cfg.TemplatePath != "" {
		tmpl, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read map template: %w", err)
		}
		if bytes.Contains(tmpl, []byte(ScriptOpen)) {
			return nil, fmt.Errorf("map template %s already contains the data script tag", cfg.TemplatePath)
		}
		opts.Template = tmpl
	}
	return NewExporter(opts, logger), nil
}

// Format selects the output document type.
type Format int

const (
	FormatHTML Format = iota
	FormatJSON
)

// FormatForPath picks JSON for ".json" and ".geojson" destinations and HTML otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".geojson":
		return FormatJSON
	}
	return FormatHTML
}

// SaveFile writes the map to path. The document is written to a temporary
// file in the same directory and renamed into place, so a failed export never
// leaves a partial file at path.
func (x *Exporter) SaveFile(path string, format Format, endpoints []*model.Endpoint) (n int, err error) {
	write := x.WriteHTML
	if format == FormatJSON {
		write = x.WriteJSON
	}

	// Build the document before touching the filesystem so the empty case
	// creates nothing.
	if _, err := x.Collect(endpoints); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ipmap-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create map file in %s: %w", filepath.Dir(path), err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if n, err = write(tmp, endpoints); err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close map file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("failed to save map file %s: %w", path, err)
	}
	if x.logger != nil {
		x.logger.Infow("saved endpoint map", "path", path, "features", n)
	}
	return n, nil
}

// WriteTo writes the map to w in the given format.
func (x *Exporter) WriteTo(w io.Writer, format Format, endpoints []*model.Endpoint) (int, error) {
	if format == FormatJSON {
		return x.WriteJSON(w, endpoints)
	}
	return x.WriteHTML(w, endpoints)
}
