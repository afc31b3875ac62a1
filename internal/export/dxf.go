package export

import (
	"github.com/pkg/errors"
	"github.com/yofu/dxf"

	"bluenoise/internal/sampling"
)

// Layer names in exported drawings.
const (
	layerRegion  = "REGION"
	layerSamples = "SAMPLES"
)

// SaveDXF writes a drawing with the region outline and one circle of radius
// r/2 per sample, for CAD and CNC tooling.
func SaveDXF(path string, points []sampling.Point, meta Meta) error {
	d := dxf.NewDrawing()

	if _, err := d.AddLayer(layerRegion, dxf.DefaultColor, dxf.DefaultLineType, true); err != nil {
		return errors.Wrap(err, "add region layer")
	}
	corners := [][2]float64{{0, 0}, {meta.Width, 0}, {meta.Width, meta.Height}, {0, meta.Height}}
	for i, a := range corners {
		b := corners[(i+1)%len(corners)]
		if _, err := d.Line(a[0], a[1], 0, b[0], b[1], 0); err != nil {
			return errors.Wrap(err, "draw region")
		}
	}

	if _, err := d.AddLayer(layerSamples, dxf.DefaultColor, dxf.DefaultLineType, true); err != nil {
		return errors.Wrap(err, "add samples layer")
	}
	radius := meta.MinDistance / 2
	for i, p := range points {
		if _, err := d.Circle(p.X, p.Y, 0, radius); err != nil {
			return errors.Wrapf(err, "draw sample %d", i)
		}
	}

	if err := d.SaveAs(path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
