// Command bridson generates a Poisson-disc point set and writes it out,
// optionally dumping a PNG per sampler event and an NDJSON event log.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"bluenoise/internal/analysis"
	"bluenoise/internal/config"
	"bluenoise/internal/eventlog"
	"bluenoise/internal/export"
	"bluenoise/internal/render"
	"bluenoise/internal/sampling"
)

// options are the parsed command line on top of the environment defaults.
type options struct {
	sampling config.SamplingConfig
	frames   config.FrameConfig

	eventsPath string
	outPath    string
	format     string
	clipPath   string
	trace      int
	verify     bool
}

func parseFlags(args []string, app config.AppConfig) (options, error) {
	opts := options{sampling: app.Sampling, frames: app.Frames}

	fs := flag.NewFlagSet("bridson", flag.ContinueOnError)
	fs.Float64Var(&opts.sampling.Width, "w", opts.sampling.Width, "region width")
	fs.Float64Var(&opts.sampling.Height, "h", opts.sampling.Height, "region height")
	fs.Float64Var(&opts.sampling.MinDistance, "r", opts.sampling.MinDistance, "minimum distance between samples")
	fs.IntVar(&opts.sampling.MaxAttempts, "k", opts.sampling.MaxAttempts, "candidates per active sample before it retires")
	fs.Int64Var(&opts.sampling.Seed, "seed", opts.sampling.Seed, "random seed, 0 for time-based")
	fs.StringVar(&opts.sampling.Rounding, "rounding", opts.sampling.Rounding, "candidate rounding: nearest, floor or none")

	framesDir := ""
	if app.Frames.Enabled {
		framesDir = app.Frames.Dir
	}
	fs.StringVar(&framesDir, "frames", framesDir, "write one PNG per event into this directory")
	fs.IntVar(&opts.frames.Workers, "frame-workers", opts.frames.Workers, "PNG encoder goroutines")
	fs.StringVar(&opts.eventsPath, "events", app.EventLog.Path, "write every event as NDJSON to this file")
	fs.StringVar(&opts.outPath, "out", "-", "output file, - for stdout")
	fs.StringVar(&opts.format, "format", "", "output format (json, csv, geojson, pdf, xlsx, dxf); default from -out extension")
	fs.StringVar(&opts.clipPath, "clip", "", "GeoJSON polygon; samples its bounding box and keeps points inside")
	fs.IntVar(&opts.trace, "trace", 0, "log every Nth event, 0 to disable")
	fs.BoolVar(&opts.verify, "verify", false, "check every invariant after the run")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, errors.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.frames.Enabled = framesDir != ""
	opts.frames.Dir = framesDir
	return opts, nil
}

func (o options) outputFormat() (export.Format, error) {
	if o.format != "" {
		return export.ParseFormat(o.format)
	}
	if o.outPath == "-" {
		return export.FormatJSON, nil
	}
	return export.FormatForPath(o.outPath)
}

// run does the whole job; main only wires signals and exit codes.
func run(ctx context.Context, opts options, stdout io.Writer) error {
	format, err := opts.outputFormat()
	if err != nil {
		return err
	}

	var clip orb.MultiPolygon
	var origin sampling.Point
	if opts.clipPath != "" {
		f, err := os.Open(opts.clipPath)
		if err != nil {
			return errors.Wrap(err, "open clip")
		}
		clip, err = export.ReadClip(f)
		f.Close()
		if err != nil {
			return err
		}
		bound := clip.Bound()
		origin = sampling.Point{X: bound.Min.X(), Y: bound.Min.Y()}
		opts.sampling.Width = bound.Max.X() - bound.Min.X()
		opts.sampling.Height = bound.Max.Y() - bound.Min.Y()
		log.Printf("✂️ Clipping to %s: region %gx%g at %v", opts.clipPath, opts.sampling.Width, opts.sampling.Height, origin)
	}

	cfg, err := opts.sampling.ToCore()
	if err != nil {
		return err
	}

	var observers []sampling.Observer
	var frames *render.FrameRenderer
	var events *eventlog.EventLog

	// closeAll drains the collaborators once, on every return path.
	closed := false
	closeAll := func() error {
		if closed {
			return nil
		}
		closed = true
		var first error
		if frames != nil {
			if err := frames.Close(); err != nil {
				first = errors.Wrap(err, "render frames")
			}
			log.Printf("🖼️ Wrote %d frames", frames.Frames())
		}
		if events != nil {
			if err := events.Stop(); err != nil && first == nil {
				first = errors.Wrap(err, "write event log")
			}
		}
		return first
	}
	defer closeAll()

	if opts.frames.Enabled {
		frames, err = render.NewFrameRenderer(render.Options{
			Dir:          opts.frames.Dir,
			CanvasWidth:  opts.frames.CanvasWidth,
			CanvasHeight: opts.frames.CanvasHeight,
			Margin:       float64(opts.frames.Margin),
			DotRadius:    opts.frames.DotRadius,
			FontSize:     opts.frames.FontSize,
			Workers:      opts.frames.Workers,
		})
		if err != nil {
			return err
		}
		observers = append(observers, frames)
		log.Printf("🖼️ Frames: %s (%d workers)", opts.frames.Dir, frames.Workers())
	}

	if opts.eventsPath != "" {
		// Block so a file log holds every event of the run.
		events = eventlog.NewEventLog(eventlog.Options{Block: true})
		if err := events.Start(opts.eventsPath); err != nil {
			return errors.Wrap(err, "start event log")
		}
		observers = append(observers, events)
		log.Printf("📝 Event log: %s", opts.eventsPath)
	}

	if opts.trace > 0 {
		observers = append(observers, &eventlog.LogObserver{Every: opts.trace})
	}

	s, err := sampling.New(cfg, observers...)
	if err != nil {
		return err
	}

	start := time.Now()
	points, runErr := s.Run(ctx)
	elapsed := time.Since(start)

	// Drain before writing output, even after an interrupt.
	if err := closeAll(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	if opts.verify {
		if err := s.Verify(); err != nil {
			return errors.Wrap(err, "verify")
		}
		log.Println("✅ Invariants hold")
	}

	report := analysis.Analyze(points, cfg.Width, cfg.Height, cfg.MinDistance)
	grid := s.GridStats()
	log.Printf("🎲 %d samples, %d trials, %d steps, seed %d in %v (min distance %.3f, coverage %.3f)",
		len(points), s.Trials(), s.Steps(), s.Seed(), elapsed, report.MinPairDistance, report.Coverage)
	log.Printf("🧮 Grid %dx%d, %.1f%% of cells filled", grid.Cols, grid.Rows, 100*grid.FillRatio)

	meta := export.MetaFor(cfg, s.Seed(), s.Trials())
	if clip != nil {
		points = analysis.Clip(analysis.Translate(points, origin.X, origin.Y), clip)
		log.Printf("✂️ %d samples inside the clip", len(points))
	}

	return writeOutput(opts.outPath, stdout, format, points, meta)
}

func writeOutput(path string, stdout io.Writer, format export.Format, points []sampling.Point, meta export.Meta) error {
	if path == "-" {
		return export.Write(stdout, format, points, meta)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := export.Write(f, format, points, meta); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close output")
	}
	log.Printf("💾 Wrote %s (%s)", path, format)
	return nil
}

func main() {
	if err := godotenv.Load(".env"); err == nil {
		log.Println("✅ Loaded environment from .env")
	}

	opts, err := parseFlags(os.Args[1:], config.Load())
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Println("🛑 Interrupted")
			os.Exit(130)
		}
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
