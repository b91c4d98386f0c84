// Package datasheet collects the data points recorded during a test run and
// the cells a script writes in spreadsheet mode.
package datasheet

import (
	"math"
	"sort"
	"sync"

	"thrustrig/debug"
	"thrustrig/rig"
	"thrustrig/runtime"
	"thrustrig/telemetry"
)

// Point is one recorded row. Missing sensor values are NaN.
type Point struct {
	ElapsedMs int64
	Throttle  int
	Cell1     float64
	Cell2     float64
	Voltage   float64
	Current   float64
}

// Cell addresses the spreadsheet grid. X is the column, Y the row.
type Cell struct {
	X, Y int
}

// Sheet is safe for concurrent use; the run goroutine writes while front ends
// read.
type Sheet struct {
	mu        sync.Mutex
	points    []Point
	cells     map[Cell]float64
	cellMode  bool
	observers []func(Point)
}

func New() *Sheet {
	return &Sheet{cells: make(map[Cell]float64)}
}

var _ runtime.Sheet = (*Sheet)(nil)

// OnPoint registers fn to be called after every Add. fn must not block.
func (s *Sheet) OnPoint(fn func(Point)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Sheet) Add(p Point) {
	s.mu.Lock()
	s.points = append(s.points, p)
	observers := s.observers
	s.mu.Unlock()
	for _, fn := range observers {
		fn(p)
	}
}

// Points returns a copy of the recorded points in order.
func (s *Sheet) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Sheet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// Reset drops all points and cells and leaves spreadsheet mode. Observers are
// kept.
func (s *Sheet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
	s.cells = make(map[Cell]float64)
	s.cellMode = false
}

// UseSpreadsheet switches the sheet into grid mode.
func (s *Sheet) UseSpreadsheet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cellMode = true
}

func (s *Sheet) SpreadsheetMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cellMode
}

// WriteCell stores value at column x, row y. Writes before USE_SPREADSHEET are
// still kept.
func (s *Sheet) WriteCell(value float64, x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cellMode {
		debug.Log("datasheet: cell (%d,%d) written outside spreadsheet mode", x, y)
	}
	s.cells[Cell{X: x, Y: y}] = value
}

// Cells returns a copy of the grid.
func (s *Sheet) Cells() map[Cell]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Cell]float64, len(s.cells))
	for c, v := range s.cells {
		out[c] = v
	}
	return out
}

// sortedCells returns the grid addresses row by row.
func sortedCells(cells map[Cell]float64) []Cell {
	keys := make([]Cell, 0, len(cells))
	for c := range cells {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	return keys
}

// Recorder returns the ADD_POINT hook for a run: each call snapshots the board
// and appends a point with calibrated values.
func Recorder(b *telemetry.Board, s *Sheet) runtime.RecordFunc {
	return func(elapsedMs int64) {
		snap := b.Snapshot()
		value := func(ch rig.Channel) float64 {
			v, ok := snap.Calibrated(ch)
			if !ok {
				return math.NaN()
			}
			return v
		}
		s.Add(Point{
			ElapsedMs: elapsedMs,
			Throttle:  snap.Throttle,
			Cell1:     value(rig.Cell1),
			Cell2:     value(rig.Cell2),
			Voltage:   value(rig.Voltage),
			Current:   value(rig.Current),
		})
	}
}
