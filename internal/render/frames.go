// Package render draws sampler progress as a numbered PNG sequence.
package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"bluenoise/internal/sampling"
)

var (
	colorBackground = color.RGBA{0, 0, 20, 255}
	colorSample     = color.RGBA{128, 128, 128, 255}
	colorActive     = color.RGBA{0, 0, 255, 255}
	colorCandidate  = color.RGBA{255, 255, 0, 255}
	colorAccepted   = color.RGBA{0, 128, 0, 255}
	colorRejected   = color.RGBA{255, 0, 0, 255}
)

const (
	hexSpawn   = "#FC0FC0"
	hexTextBox = "#005aab"
	boxPadding = 10.0
)

// Options controls canvas geometry and output.
type Options struct {
	Dir          string
	CanvasWidth  int
	CanvasHeight int
	Margin       float64 // region origin inside the canvas
	DotRadius    float64
	FontSize     float64
	Workers      int
	SkipRejected bool // no frame for rejected candidates
}

// DefaultOptions matches the 1920x1080 dump with a 100px margin.
func DefaultOptions() Options {
	return Options{
		Dir:          "frames",
		CanvasWidth:  1920,
		CanvasHeight: 1080,
		Margin:       100,
		DotRadius:    10,
		FontSize:     25,
	}
}

// frame is everything a worker needs to draw one image without touching
// the sampler.
type frame struct {
	index     int
	radius    float64
	k         int
	trials    uint64
	samples   []sampling.Point
	active    []sampling.Point
	candidate *sampling.Point
	accepted  *sampling.Point
	rejected  *sampling.Point
	spawn     *sampling.Point
}

// FrameRenderer is a sampling.Observer writing image-<n>.png per event.
// An empty frame precedes the seed and the Done event produces a final one.
type FrameRenderer struct {
	opts    Options
	font    *opentype.Font
	pool    *WorkerPool
	next    int
	written atomic.Int64
}

// NewFrameRenderer creates the output directory and starts the encoders.
func NewFrameRenderer(opts Options) (*FrameRenderer, error) {
	if opts.CanvasWidth <= 0 || opts.CanvasHeight <= 0 {
		return nil, errors.Errorf("invalid canvas %dx%d", opts.CanvasWidth, opts.CanvasHeight)
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create frame dir")
	}

	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "parse font")
	}

	r := &FrameRenderer{
		opts: opts,
		font: parsed,
		pool: NewWorkerPool(opts.Workers),
	}
	r.pool.Start()
	return r, nil
}

// Observe implements sampling.Observer.
func (r *FrameRenderer) Observe(ev sampling.Event, view sampling.View) {
	cfg := view.Config()

	if ev.Type == sampling.EventTypeSeeded {
		r.submit(frame{radius: cfg.MinDistance, k: cfg.MaxAttempts})
	}
	if ev.Type == sampling.EventTypeRejected && r.opts.SkipRejected {
		return
	}

	f := frame{
		radius:  cfg.MinDistance,
		k:       cfg.MaxAttempts,
		trials:  ev.Trials,
		samples: view.Samples(),
		active:  view.ActiveCentres(),
		spawn:   ev.SpawnCentre,
	}

	p := ev.Point
	switch ev.Type {
	case sampling.EventTypeSeeded:
		f.spawn = &p
	case sampling.EventTypeCandidateProposed:
		f.candidate = &p
	case sampling.EventTypeAccepted:
		f.accepted = &p
	case sampling.EventTypeRejected:
		f.rejected = &p
	case sampling.EventTypeRetired, sampling.EventTypeDone:
		// a retired centre is drawn as a plain sample
		f.spawn = nil
	}

	r.submit(f)
}

func (r *FrameRenderer) submit(f frame) {
	f.index = r.next
	r.next++
	r.pool.Submit(func() error {
		if err := r.write(f); err != nil {
			return err
		}
		r.written.Add(1)
		return nil
	})
}

// Close waits for pending frames and returns the first write error.
func (r *FrameRenderer) Close() error {
	return r.pool.Stop()
}

// Workers returns how many encoders are running.
func (r *FrameRenderer) Workers() int {
	return r.pool.Workers()
}

// Frames returns the number of frames written so far.
func (r *FrameRenderer) Frames() int {
	return int(r.written.Load())
}

// FramePath returns the file name used for frame n.
func (r *FrameRenderer) FramePath(n int) string {
	return filepath.Join(r.opts.Dir, fmt.Sprintf("image-%d.png", n))
}

func (r *FrameRenderer) write(f frame) error {
	// opentype faces are not safe for concurrent use; one per frame
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.opts.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return errors.Wrap(err, "create font face")
	}
	defer face.Close()

	dc := gg.NewContext(r.opts.CanvasWidth, r.opts.CanvasHeight)
	r.draw(dc, face, f)

	path := r.FramePath(f.index)
	if err := dc.SavePNG(path); err != nil {
		return errors.Wrapf(err, "write frame %s", path)
	}
	return nil
}

func (r *FrameRenderer) draw(dc *gg.Context, face font.Face, f frame) {
	dc.SetColor(colorBackground)
	dc.Clear()

	dc.SetColor(colorSample)
	for _, p := range f.samples {
		r.dot(dc, p)
	}
	dc.SetColor(colorActive)
	for _, p := range f.active {
		r.dot(dc, p)
	}

	if f.candidate != nil {
		dc.SetColor(colorCandidate)
		r.dot(dc, *f.candidate)
	}
	if f.accepted != nil {
		dc.SetColor(colorAccepted)
		r.dot(dc, *f.accepted)
	}
	if f.rejected != nil {
		dc.SetColor(colorRejected)
		r.dot(dc, *f.rejected)
	}
	if f.spawn != nil {
		dc.SetHexColor(hexSpawn)
		r.dot(dc, *f.spawn)
	}

	r.drawStatus(dc, face, f)
}

// dot draws a filled circle at a region coordinate
func (r *FrameRenderer) dot(dc *gg.Context, p sampling.Point) {
	dc.DrawCircle(p.X+r.opts.Margin, p.Y+r.opts.Margin, r.opts.DotRadius)
	dc.Fill()
}

func (r *FrameRenderer) drawStatus(dc *gg.Context, face font.Face, f frame) {
	dc.SetFontFace(face)
	text := fmt.Sprintf("Radius: %g | k: %d | Trials: %d | Active List: %d | Samples: %d",
		f.radius, f.k, f.trials, len(f.active), len(f.samples))
	w, h := dc.MeasureString(text)

	dc.SetHexColor(hexTextBox)
	dc.DrawRectangle(boxPadding, boxPadding, w+2*boxPadding, h+2*boxPadding)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, 2*boxPadding, 2*boxPadding, 0, 1)
}
