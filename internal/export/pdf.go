package export

import (
	"fmt"
	"io"
	"math"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"bluenoise/internal/sampling"
)

// Page layout constants (A4 landscape in mm).
const (
	pageWidth    = 297.0
	pageHeight   = 210.0
	pageMargin   = 15.0
	headerHeight = 12.0
	drawAreaTop  = pageMargin + headerHeight + 5.0
)

// WritePDF draws the region and every sample as a disc of radius r/2, so
// touching discs mark pairs at exactly the minimum distance.
func WritePDF(w io.Writer, points []sampling.Point, meta Meta) error {
	if meta.Width <= 0 || meta.Height <= 0 {
		return errors.New("pdf export needs the region size")
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.AddPage()

	// Title
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetXY(pageMargin, pageMargin)
	title := fmt.Sprintf("Poisson-disc sample: %d points in %.0f x %.0f", len(points), meta.Width, meta.Height)
	pdf.CellFormat(pageWidth-2*pageMargin, headerHeight, title, "", 0, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(pageMargin, pageMargin+headerHeight)
	stats := fmt.Sprintf("Radius: %g | k: %d | Seed: %d | Trials: %d", meta.MinDistance, meta.MaxAttempts, meta.Seed, meta.Trials)
	pdf.CellFormat(pageWidth-2*pageMargin, 5, stats, "", 0, "L", false, 0, "")

	// Scale region to fit the drawing area
	drawWidth := pageWidth - 2*pageMargin
	drawHeight := pageHeight - drawAreaTop - pageMargin
	scale := math.Min(drawWidth/meta.Width, drawHeight/meta.Height)
	offsetX := pageMargin + (drawWidth-meta.Width*scale)/2
	offsetY := drawAreaTop

	pdf.SetFillColor(0, 0, 20)
	pdf.SetDrawColor(100, 100, 100)
	pdf.SetLineWidth(0.3)
	pdf.Rect(offsetX, offsetY, meta.Width*scale, meta.Height*scale, "FD")

	disc := meta.MinDistance / 2 * scale
	pdf.SetFillColor(128, 128, 128)
	for _, p := range points {
		pdf.Circle(offsetX+p.X*scale, offsetY+p.Y*scale, disc, "F")
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "write pdf")
	}
	return nil
}
