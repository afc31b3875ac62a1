package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"bluenoise/internal/sampling"
)

// WriteCSV writes an index,x,y table with a header row.
func WriteCSV(w io.Writer, points []sampling.Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "x", "y"}); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for i, p := range points {
		row := []string{
			strconv.Itoa(i),
			strconv.FormatFloat(p.X, 'f', -1, 64),
			strconv.FormatFloat(p.Y, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}
