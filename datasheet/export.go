package datasheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// Header is the column row of exported point files.
var Header = []string{"Time", "Throttle", "Thrust", "Torque", "Voltage", "Current"}

// CellHeader is the column row of exported spreadsheet cells.
var CellHeader = []string{"X", "Y", "Value"}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Row renders p in Header order. Missing values are empty.
func (p Point) Row() []string {
	return []string{
		strconv.FormatInt(p.ElapsedMs, 10),
		strconv.Itoa(p.Throttle),
		formatValue(p.Cell1),
		formatValue(p.Cell2),
		formatValue(p.Voltage),
		formatValue(p.Current),
	}
}

// WriteCSV writes the header and every point.
func (s *Sheet) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, p := range s.Points() {
		if err := cw.Write(p.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCells writes one X,Y,Value row per written cell, row by row.
// Unwritten cells are omitted.
func (s *Sheet) WriteCells(w io.Writer) error {
	cells := s.Cells()
	cw := csv.NewWriter(w)
	if err := cw.Write(CellHeader); err != nil {
		return err
	}
	for _, c := range sortedCells(cells) {
		row := []string{strconv.Itoa(c.X), strconv.Itoa(c.Y), formatValue(cells[c])}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the points to path.
func (s *Sheet) ExportCSV(path string) error {
	return writeFile(path, s.WriteCSV)
}

// ExportCells writes the grid to path.
func (s *Sheet) ExportCells(path string) error {
	return writeFile(path, s.WriteCells)
}

func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
