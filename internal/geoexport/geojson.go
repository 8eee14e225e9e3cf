// Package geoexport writes geolocated endpoints as a GeoJSON FeatureCollection,
// either standalone or embedded in an HTML map page.
package geoexport

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"NetSpectraTables/internal/model"

	"go.uber.org/zap"
)

// ErrNothingToMap is returned when no endpoint has usable coordinates.
var ErrNothingToMap = errors.New("no endpoints available to map")

const (
	// ScriptOpen and ScriptClose surround the embedded document in HTML output.
	ScriptOpen  = `<script id="ipmap-data" type="application/json">`
	ScriptClose = `</script>`
)

//go:embed templates/ipmap.html
var defaultTemplate []byte

// FeatureCollection is the GeoJSON root object.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one mapped endpoint.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry is a GeoJSON point. Coordinates are [longitude, latitude].
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Properties describe the endpoint behind a feature.
type Properties struct {
	IP                           string `json:"ip"`
	AutonomousSystemNumber       uint32 `json:"autonomous_system_number,omitempty"`
	AutonomousSystemOrganization string `json:"autonomous_system_organization,omitempty"`
	City                         string `json:"city,omitempty"`
	Country                      string `json:"country,omitempty"`
	Radius                       uint16 `json:"radius,omitempty"`
	Packets                      uint64 `json:"packets"`
	Bytes                        uint64 `json:"bytes"`
}

// Options control which optional properties are written.
type Options struct {
	OmitCity bool
	// Template replaces the built-in HTML page. It must not contain ScriptOpen.
	Template []byte
}

// Exporter turns endpoint records into GeoJSON.
type Exporter struct {
	opts   Options
	logger *zap.SugaredLogger
}

// NewExporter creates an exporter.
func NewExporter(opts Options, logger *zap.SugaredLogger) *Exporter {
	if len(opts.Template) == 0 {
		opts.Template = defaultTemplate
	}
	return &Exporter{opts: opts, logger: logger}
}

// Collect builds the feature collection. Endpoints without a found lookup or
// without valid coordinates are skipped. It returns ErrNothingToMap when no
// feature remains.
func (x *Exporter) Collect(endpoints []*model.Endpoint) (*FeatureCollection, error) {
	fc := &FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, e := range endpoints {
		if e == nil || !e.Geo.HasCoords() {
			continue
		}
		fc.Features = append(fc.Features, x.feature(e))
	}
	if len(fc.Features) == 0 {
		return nil, ErrNothingToMap
	}
	return fc, nil
}

func (x *Exporter) feature(e *model.Endpoint) Feature {
	geo := e.Geo
	props := Properties{
		IP:      e.Address.String(),
		Packets: e.TxFrames + e.RxFrames,
		Bytes:   e.TxBytes + e.RxBytes,
		Country: geo.Country,
		Radius:  geo.AccuracyRadius,
	}
	if geo.ASNumber != 0 && geo.ASOrganization != "" {
		props.AutonomousSystemNumber = geo.ASNumber
		props.AutonomousSystemOrganization = geo.ASOrganization
	}
	if !x.opts.OmitCity {
		props.City = geo.City
	}
	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: [2]float64{geo.Longitude, geo.Latitude},
		},
		Properties: props,
	}
}

// Marshal encodes the collection as indented JSON followed by a newline.
func Marshal(fc *FeatureCollection) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(fc); err != nil {
		return nil, fmt.Errorf("failed to encode feature collection: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON writes the standalone GeoJSON document and returns the number of
// features written.
func (x *Exporter) WriteJSON(w io.Writer, endpoints []*model.Endpoint) (int, error) {
	doc, n, err := x.document(endpoints)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(doc); err != nil {
		return 0, fmt.Errorf("failed to write geojson: %w", err)
	}
	return n, nil
}

// WriteHTML writes the map page with the GeoJSON document embedded after the
// template, and returns the number of features written.
func (x *Exporter) WriteHTML(w io.Writer, endpoints []*model.Endpoint) (int, error) {
	doc, n, err := x.document(endpoints)
	if err != nil {
		return 0, err
	}
	var page bytes.Buffer
	page.Write(x.opts.Template)
	if len(x.opts.Template) > 0 && x.opts.Template[len(x.opts.Template)-1] != '\n' {
		page.WriteByte('\n')
	}
	page.WriteString(ScriptOpen + "\n")
	page.Write(doc)
	page.WriteString(ScriptClose + "\n")
	if _, err := w.Write(page.Bytes()); err != nil {
		return 0, fmt.Errorf("failed to write map page: %w", err)
	}
	return n, nil
}

func (x *Exporter) document(endpoints []*model.Endpoint) ([]byte, int, error) {
	fc, err := x.Collect(endpoints)
	if err != nil {
		return nil, 0, err
	}
	doc, err := Marshal(fc)
	if err != nil {
		return nil, 0, err
	}
	if x.logger != nil {
		x.logger.Debugw("built endpoint map", "features", len(fc.Features), "candidates", len(endpoints))
	}
	return doc, len(fc.Features), nil
}

// ExtractJSON returns the GeoJSON document embedded in a map page.
func ExtractJSON(page []byte) ([]byte, error) {
	start := bytes.LastIndex(page, []byte(ScriptOpen))
	if start < 0 {
		return nil, errors.New("map page has no embedded geojson")
	}
	body := page[start+len(ScriptOpen):]
	end := bytes.Index(body, []byte(ScriptClose))
	if end < 0 {
		return nil, errors.New("map page geojson is not terminated")
	}
	return bytes.TrimPrefix(body[:end], []byte("\n")), nil
}
