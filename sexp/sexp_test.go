package sexp

import (
	"strings"
	"testing"

	"thrustrig/parser"
)

func parseAndEmit(t *testing.T, source string) string {
	t.Helper()
	prog, err := parser.Parse(source)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return EmitProgram(prog)
}

func TestEmptyProgram(t *testing.T) {
	if got := parseAndEmit(t, "# nothing here\n"); got != "(program)\n" {
		t.Errorf("got %q, want (program)", got)
	}
}

func TestMinimalDialect(t *testing.T) {
	source := `
SET_THROTTLE 42
WAIT 250
READ_CELL_1
READ_VOLTAGE
USE_RAW true
USE_SPREADSHEET
WRITE_SHEET_CELL 1.5 2 3
ADD_POINT
`
	want := `(program
  (set_throttle 42)
  (wait 250)
  (read cell1)
  (read voltage)
  (use_raw true)
  (use_spreadsheet)
  (write_sheet_cell 1.5 2 3)
  (add_point))
`
	if got := parseAndEmit(t, source); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestNestedBlocks(t *testing.T) {
	source := "T = READ_SENSOR torque\nIF T * 2 >= 10 THEN { REPEAT 2 { ADD_POINT } } ELSE { }\n"
	want := `(program
  (read_assign T cell2)
  (if (>= (* T 2) 10)
    (then
      (repeat 2
        (add_point)))
    (else)))
`
	if got := parseAndEmit(t, source); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestIfWithoutElse(t *testing.T) {
	got := parseAndEmit(t, "IF X THEN { Y = X - 1 }")
	if strings.Contains(got, "(else") {
		t.Errorf("unexpected else section in %s", got)
	}
	if !strings.Contains(got, "(assign Y (- X 1))") {
		t.Errorf("missing assignment in %s", got)
	}
}

func TestIDIgnoresLayout(t *testing.T) {
	a, err := parser.Parse("SET_THROTTLE 10\nWAIT 5 # settle\nADD_POINT")
	if err != nil {
		t.Fatal(err)
	}
	b, err := parser.Parse("  SET_THROTTLE   10 WAIT 5 ADD_POINT  ")
	if err != nil {
		t.Fatal(err)
	}
	c, err := parser.Parse("SET_THROTTLE 11 WAIT 5 ADD_POINT")
	if err != nil {
		t.Fatal(err)
	}

	if ID(a) != ID(b) {
		t.Errorf("layout changed the ID: %s vs %s", ID(a), ID(b))
	}
	if ID(a) == ID(c) {
		t.Errorf("different scripts share ID %s", ID(a))
	}
	if len(ID(a)) != 8 {
		t.Errorf("expected 8 hex chars, got %q", ID(a))
	}
}
