package datasheet

import (
	"encoding/json"
	"math"
)

// pointJSON is the wire form of Point. JSON has no NaN, so missing values
// are null.
type pointJSON struct {
	ElapsedMs int64    `json:"elapsed_ms"`
	Throttle  int      `json:"throttle"`
	Cell1     *float64 `json:"cell1"`
	Cell2     *float64 `json:"cell2"`
	Voltage   *float64 `json:"voltage"`
	Current   *float64 `json:"current"`
}

func toPtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func fromPtr(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{
		ElapsedMs: p.ElapsedMs,
		Throttle:  p.Throttle,
		Cell1:     toPtr(p.Cell1),
		Cell2:     toPtr(p.Cell2),
		Voltage:   toPtr(p.Voltage),
		Current:   toPtr(p.Current),
	})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var j pointJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*p = Point{
		ElapsedMs: j.ElapsedMs,
		Throttle:  j.Throttle,
		Cell1:     fromPtr(j.Cell1),
		Cell2:     fromPtr(j.Cell2),
		Voltage:   fromPtr(j.Voltage),
		Current:   fromPtr(j.Current),
	}
	return nil
}
