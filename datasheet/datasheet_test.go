package datasheet

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"thrustrig/rig"
	"thrustrig/telemetry"
)

func TestRecorderUsesCalibratedSnapshot(t *testing.T) {
	b := telemetry.NewBoard(nil)
	b.Update(rig.Cell1, 112, true)
	b.SetOffset(rig.Cell1, 12)
	b.Update(rig.Cell2, 30, true)
	b.Update(rig.Voltage, 12.5, true)
	if err := b.SetThrottle(40); err != nil {
		t.Fatalf("SetThrottle: %v", err)
	}

	s := New()
	record := Recorder(b, s)
	record(0)
	record(250)

	want := []Point{
		{ElapsedMs: 0, Throttle: 40, Cell1: 100, Cell2: 30, Voltage: 12.5, Current: math.NaN()},
		{ElapsedMs: 250, Throttle: 40, Cell1: 100, Cell2: 30, Voltage: 12.5, Current: math.NaN()},
	}
	if diff := cmp.Diff(want, s.Points(), cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestOnPoint(t *testing.T) {
	s := New()
	var seen []int64
	s.OnPoint(func(p Point) { seen = append(seen, p.ElapsedMs) })
	s.Add(Point{ElapsedMs: 1})
	s.Add(Point{ElapsedMs: 2})
	if diff := cmp.Diff([]int64{1, 2}, seen); diff != "" {
		t.Fatalf("observer (-want +got):\n%s", diff)
	}
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("Len after Reset = %d", s.Len())
	}
	s.Add(Point{ElapsedMs: 3})
	if len(seen) != 3 {
		t.Fatalf("observer dropped by Reset")
	}
}

func TestWriteCSV(t *testing.T) {
	s := New()
	s.Add(Point{ElapsedMs: 0, Throttle: 10, Cell1: 1.5, Cell2: -2, Voltage: 12, Current: math.NaN()})
	s.Add(Point{ElapsedMs: 1000, Throttle: 20, Cell1: 3, Cell2: 0, Voltage: 11.9, Current: 2.25})

	var buf bytes.Buffer
	if err := s.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "Time,Throttle,Thrust,Torque,Voltage,Current\n" +
		"0,10,1.5,-2,12,\n" +
		"1000,20,3,0,11.9,2.25\n"
	if buf.String() != want {
		t.Fatalf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteCells(t *testing.T) {
	s := New()
	s.UseSpreadsheet()
	s.WriteCell(1, 0, 0)
	s.WriteCell(2.5, 2, 1)
	s.WriteCell(-3, 0, 1)

	var buf bytes.Buffer
	if err := s.WriteCells(&buf); err != nil {
		t.Fatalf("WriteCells: %v", err)
	}
	want := "X,Y,Value\n0,0,1\n0,1,-3\n2,1,2.5\n"
	if buf.String() != want {
		t.Fatalf("cells = %q, want %q", buf.String(), want)
	}

	var empty bytes.Buffer
	if err := New().WriteCells(&empty); err != nil || empty.String() != "X,Y,Value\n" {
		t.Fatalf("empty grid wrote %q, %v", empty.String(), err)
	}
}

func TestWriteCellsFarAddress(t *testing.T) {
	s := New()
	s.UseSpreadsheet()
	s.WriteCell(7, 16383, 1048575)
	s.WriteCell(1, 0, 50000000)

	var buf bytes.Buffer
	if err := s.WriteCells(&buf); err != nil {
		t.Fatalf("WriteCells: %v", err)
	}
	want := "X,Y,Value\n16383,1048575,7\n0,50000000,1\n"
	if buf.String() != want {
		t.Fatalf("cells = %q, want %q", buf.String(), want)
	}
}

func TestExportCSV(t *testing.T) {
	s := New()
	s.Add(Point{ElapsedMs: 5, Throttle: 1})
	path := filepath.Join(t.TempDir(), "out", "run.csv")
	if err := s.ExportCSV(path); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "Time,") || !strings.Contains(string(data), "5,1,0,0,0,0") {
		t.Fatalf("export = %q", data)
	}
}

func TestSaveLoad(t *testing.T) {
	path := SessionPath(t.TempDir())
	s := New()
	s.Add(Point{ElapsedMs: 10, Throttle: 50, Cell1: 1, Cell2: math.NaN(), Voltage: 12, Current: 3})
	s.UseSpreadsheet()
	s.WriteCell(7, 1, 2)
	if err := Save(s, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	got := New()
	Load(got, path)
	if diff := cmp.Diff(s.Points(), got.Points(), cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("points after load (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Cells(), got.Cells()); diff != "" {
		t.Fatalf("cells after load (-want +got):\n%s", diff)
	}
	if !got.SpreadsheetMode() {
		t.Fatalf("spreadsheet mode not restored")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := New()
	s.Add(Point{})
	Load(s, filepath.Join(t.TempDir(), "nope.json"))
	if s.Len() != 0 {
		t.Fatalf("Load of missing file kept %d points", s.Len())
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := SessionPath(t.TempDir())
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := New()
	Load(s, path)
	if s.Len() != 0 {
		t.Fatalf("corrupt load produced %d points", s.Len())
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt file not preserved: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file still at original path")
	}
}

func TestPointJSON(t *testing.T) {
	p := Point{ElapsedMs: 3, Throttle: 9, Cell1: 1.25, Cell2: math.NaN(), Voltage: 12, Current: 0}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"elapsed_ms":3,"throttle":9,"cell1":1.25,"cell2":null,"voltage":12,"current":0}`
	if string(data) != want {
		t.Fatalf("json = %s\nwant   %s", data, want)
	}
	var got Point
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(p, got, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("decoded (-want +got):\n%s", diff)
	}
}
