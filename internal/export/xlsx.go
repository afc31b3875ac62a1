package export

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"bluenoise/internal/sampling"
)

const (
	sheetPoints = "Points"
	sheetRun    = "Run"
)

// WriteXLSX writes a workbook with a Points sheet (index, x, y) and a Run
// sheet holding the parameters.
func WriteXLSX(w io.Writer, points []sampling.Point, meta Meta) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetPoints); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	if err := f.SetSheetRow(sheetPoints, "A1", &[]interface{}{"index", "x", "y"}); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i, p := range points {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "cell reference")
		}
		if err := f.SetSheetRow(sheetPoints, cell, &[]interface{}{i, p.X, p.Y}); err != nil {
			return errors.Wrapf(err, "write point %d", i)
		}
	}

	if _, err := f.NewSheet(sheetRun); err != nil {
		return errors.Wrap(err, "add run sheet")
	}
	rows := [][]interface{}{
		{"runId", meta.RunID},
		{"width", meta.Width},
		{"height", meta.Height},
		{"minDistance", meta.MinDistance},
		{"maxAttempts", meta.MaxAttempts},
		{"seed", meta.Seed},
		{"rounding", meta.Rounding},
		{"trials", meta.Trials},
		{"count", len(points)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetRun, cell, &row); err != nil {
			return errors.Wrap(err, "write run sheet")
		}
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "write xlsx")
	}
	return nil
}
