package datasheet

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// SessionPath returns the session file inside dir.
func SessionPath(dir string) string {
	return filepath.Join(dir, "session.json")
}

type persistedCell struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Value float64 `json:"value"`
}

type persistedSheet struct {
	Points      []Point         `json:"points"`
	Cells       []persistedCell `json:"cells,omitempty"`
	Spreadsheet bool            `json:"spreadsheet,omitempty"`
}

// Save writes the sheet to path as JSON. The write is atomic: data goes to a
// temp file which is then renamed into place.
func Save(s *Sheet, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	state := persistedSheet{Points: s.Points()}
	cells := s.Cells()
	for _, c := range sortedCells(cells) {
		state.Cells = append(state.Cells, persistedCell{X: c.X, Y: c.Y, Value: cells[c]})
	}
	state.Spreadsheet = s.SpreadsheetMode()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sheet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp sheet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename sheet file: %w", err)
	}
	return nil
}

// Load reads a saved sheet into s, replacing its contents. A missing file
// leaves s empty. An unreadable or corrupt file is logged, renamed to
// .corrupt, and s is left empty.
func Load(s *Sheet, path string) {
	s.Reset()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Printf("warning: cannot read sheet %s: %v (starting fresh)", path, err)
		preserveCorrupt(path)
		return
	}

	var state persistedSheet
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("warning: corrupt sheet %s: %v (starting fresh)", path, err)
		preserveCorrupt(path)
		return
	}

	s.mu.Lock()
	s.points = state.Points
	for _, c := range state.Cells {
		s.cells[Cell{X: c.X, Y: c.Y}] = c.Value
	}
	s.cellMode = state.Spreadsheet
	s.mu.Unlock()
	log.Printf("loaded %d points from %s", len(state.Points), path)
}

func preserveCorrupt(path string) {
	corrupt := path + ".corrupt"
	if err := os.Rename(path, corrupt); err != nil {
		log.Printf("warning: could not preserve corrupt sheet: %v", err)
	} else {
		log.Printf("preserved corrupt sheet as %s", corrupt)
	}
}
