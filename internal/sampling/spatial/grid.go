// Package spatial provides the background grid used by the Poisson-disc
// sampler for constant-time neighbour rejection.
//
// The grid stores sample indices (not points) in a preallocated row-major
// slice, so lookups never allocate and the sampler stays the single owner
// of the coordinates.
package spatial

import (
	"fmt"
	"math"
)

// Empty marks a cell that holds no sample.
const Empty = -1

// MaxCells is the largest grid NewGrid will allocate. Cells hold int32
// sample indices.
const MaxCells = math.MaxInt32

// DefaultQueryRadius is the neighbourhood searched around a candidate's cell.
// With cellSize = r/√2 a point up to r away can sit ⌈r/cellSize⌉ = 2 cells away.
const DefaultQueryRadius = 2

// InternalConsistencyError is the panic value raised when a second sample is
// inserted into an occupied cell. Given cellSize ≤ r/√2 this can only happen
// if the caller skipped the distance check.
type InternalConsistencyError struct {
	Col, Row int
	Existing int
	Incoming int
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("spatial: cell (%d,%d) already holds sample %d, cannot insert %d",
		e.Col, e.Row, e.Existing, e.Incoming)
}

// Grid maps 2D space to at most one sample index per cell.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
type Grid struct {
	cellSize    float64
	invCellSize float64 // 1/cellSize for faster division
	cols, rows  int
	cells       []int32
	scratch     []int // reusable buffer for query results
	occupied    int
}

// CellCount returns how many cells a grid over [0,width) × [0,height) needs.
// It is computed in float64 so that absurd requests report a huge count
// instead of wrapping around; compare it against MaxCells before NewGrid.
func CellCount(width, height, cellSize float64) float64 {
	return math.Max(1, math.Ceil(width/cellSize)) * math.Max(1, math.Ceil(height/cellSize))
}

// NewGrid creates an empty grid covering [0,width) × [0,height).
// Columns and rows are derived independently from width and height.
// It panics if the grid would exceed MaxCells.
func NewGrid(width, height, cellSize float64) *Grid {
	if n := CellCount(width, height, cellSize); !(n <= MaxCells) {
		panic(fmt.Errorf("spatial: %gx%g region with cell %g needs %g cells, limit %d", width, height, cellSize, n, MaxCells))
	}

	// at least 1x1
	cols := max(1, int(math.Ceil(width/cellSize)))
	rows := max(1, int(math.Ceil(height/cellSize)))

	cells := make([]int32, cols*rows)
	for i := range cells {
		cells[i] = Empty
	}

	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]int, 0, (2*DefaultQueryRadius+1)*(2*DefaultQueryRadius+1)),
	}
}

// CellSizeFor returns the cell edge that guarantees one sample per cell
// for the given minimum distance.
func CellSizeFor(minDistance float64) float64 {
	return minDistance / math.Sqrt2
}

// CellOf returns the column and row containing (x, y). The result is not
// clamped; callers check InBounds when the point may lie outside the region.
func (g *Grid) CellOf(x, y float64) (col, row int) {
	return int(math.Floor(x * g.invCellSize)), int(math.Floor(y * g.invCellSize))
}

// InBounds reports whether (col, row) addresses a cell of the grid.
func (g *Grid) InBounds(col, row int) bool {
	return col >= 0 && col < g.cols && row >= 0 && row < g.rows
}

// Insert records index at the cell containing (x, y).
// It panics with *InternalConsistencyError if the cell is already occupied
// and with a plain error if the point lies outside the grid.
func (g *Grid) Insert(index int, x, y float64) {
	col, row := g.CellOf(x, y)
	if !g.InBounds(col, row) {
		panic(fmt.Errorf("spatial: sample %d at (%g,%g) outside %dx%d grid", index, x, y, g.cols, g.rows))
	}

	idx := row*g.cols + col
	if existing := g.cells[idx]; existing != Empty {
		panic(&InternalConsistencyError{Col: col, Row: row, Existing: int(existing), Incoming: index})
	}
	g.cells[idx] = int32(index)
	g.occupied++
}

// Lookup returns the sample index stored at (col, row), or Empty.
func (g *Grid) Lookup(col, row int) int {
	if !g.InBounds(col, row) {
		return Empty
	}
	return int(g.cells[row*g.cols+col])
}

// Query returns the indices held by every non-empty cell within Chebyshev
// distance radiusInCells of the cell containing (x, y), clamped to the grid.
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Copy the results if you need to persist them.
func (g *Grid) Query(x, y float64, radiusInCells int) []int {
	g.scratch = g.scratch[:0]

	col, row := g.CellOf(x, y)
	minCol := max(0, col-radiusInCells)
	maxCol := min(g.cols-1, col+radiusInCells)
	minRow := max(0, row-radiusInCells)
	maxRow := min(g.rows-1, row+radiusInCells)

	for r := minRow; r <= maxRow; r++ {
		base := r * g.cols
		for c := minCol; c <= maxCol; c++ {
			if idx := g.cells[base+c]; idx != Empty {
				g.scratch = append(g.scratch, int(idx))
			}
		}
	}

	return g.scratch
}

// Occupied calls fn for every non-empty cell in row-major order.
// Iteration stops early if fn returns false.
func (g *Grid) Occupied(fn func(col, row, index int) bool) {
	for i, idx := range g.cells {
		if idx == Empty {
			continue
		}
		if !fn(i%g.cols, i/g.cols, int(idx)) {
			return
		}
	}
}

// Len returns the number of occupied cells.
func (g *Grid) Len() int {
	return g.occupied
}

// Stats returns grid statistics for debugging/profiling.
func (g *Grid) Stats() GridStats {
	fill := 0.0
	if len(g.cells) > 0 {
		fill = float64(g.occupied) / float64(len(g.cells))
	}
	return GridStats{
		Cols:          g.cols,
		Rows:          g.rows,
		CellSize:      g.cellSize,
		TotalCells:    len(g.cells),
		OccupiedCells: g.occupied,
		FillRatio:     fill,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	Cols          int     `json:"cols"`
	Rows          int     `json:"rows"`
	CellSize      float64 `json:"cellSize"`
	TotalCells    int     `json:"totalCells"`
	OccupiedCells int     `json:"occupiedCells"`
	FillRatio     float64 `json:"fillRatio"`
}

// Dimensions returns the grid dimensions.
func (g *Grid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}
