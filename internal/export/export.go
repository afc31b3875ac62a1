// Package export writes finished point sets in interchange formats.
package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"bluenoise/internal/sampling"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
	FormatPDF     Format = "pdf"
	FormatXLSX    Format = "xlsx"
	FormatDXF     Format = "dxf"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatGeoJSON, FormatPDF, FormatXLSX, FormatDXF}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(s), "."))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.Errorf("unknown export format %q", s)
}

// FormatForPath picks the format from a file extension, json if none.
func FormatForPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return FormatJSON, nil
	}
	return ParseFormat(ext)
}

// ContentType returns the HTTP media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatDXF:
		return "application/dxf"
	default:
		return "application/json"
	}
}

// Meta describes the run a point set came from.
type Meta struct {
	RunID       string  `json:"runId,omitempty"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	MinDistance float64 `json:"minDistance"`
	MaxAttempts int     `json:"maxAttempts"`
	Seed        int64   `json:"seed"`
	Rounding    string  `json:"rounding,omitempty"`
	Trials      uint64  `json:"trials"`
}

// MetaFor builds Meta from a config and run counters.
func MetaFor(cfg sampling.Config, seed int64, trials uint64) Meta {
	return Meta{
		Width:       cfg.Width,
		Height:      cfg.Height,
		MinDistance: cfg.MinDistance,
		MaxAttempts: cfg.MaxAttempts,
		Seed:        seed,
		Rounding:    cfg.Rounding.String(),
		Trials:      trials,
	}
}

// Document is the JSON encoding of a run.
type Document struct {
	Meta   Meta             `json:"meta"`
	Count  int              `json:"count"`
	Points []sampling.Point `json:"points"`
}

// WriteJSON writes points and meta as one JSON document.
func WriteJSON(w io.Writer, points []sampling.Point, meta Meta) error {
	if points == nil {
		points = []sampling.Point{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(Document{Meta: meta, Count: len(points), Points: points}), "encode json")
}

// Write encodes points in format f.
func Write(w io.Writer, f Format, points []sampling.Point, meta Meta) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, points, meta)
	case FormatCSV:
		return WriteCSV(w, points)
	case FormatGeoJSON:
		return WriteGeoJSON(w, points, meta)
	case FormatPDF:
		return WritePDF(w, points, meta)
	case FormatXLSX:
		return WriteXLSX(w, points, meta)
	case FormatDXF:
		return writeViaFile(w, "bluenoise-*.dxf", func(path string) error {
			return SaveDXF(path, points, meta)
		})
	}
	return errors.Errorf("unknown export format %q", f)
}

// writeViaFile adapts an encoder that only saves to a path.
func writeViaFile(w io.Writer, pattern string, save func(path string) error) error {
	dir, err := os.MkdirTemp("", "bluenoise-export")
	if err != nil {
		return errors.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, strings.Replace(pattern, "*", "out", 1))
	if err := save(path); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "reopen export")
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return errors.Wrap(err, "copy export")
}
