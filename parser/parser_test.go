package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"thrustrig/rig"
)

var ignorePos = cmpopts.IgnoreTypes(Pos{})

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return prog
}

func TestSingleStatements(t *testing.T) {
	tests := []struct {
		src  string
		want Stmt
	}{
		{"SET_THROTTLE 42", &SetThrottle{Value: 42}},
		{"SET_THROTTLE -5", &SetThrottle{Value: -5}},
		{"SET_THROTTLE 150", &SetThrottle{Value: 150}},
		{"WAIT 1000", &Wait{Millis: 1000}},
		{"READ_CELL_1", &Read{Channel: rig.Cell1}},
		{"READ_CELL_2", &Read{Channel: rig.Cell2}},
		{"READ_CURRENT", &Read{Channel: rig.Current}},
		{"READ_VOLTAGE", &Read{Channel: rig.Voltage}},
		{"READ_SENSOR thrust", &Read{Channel: rig.Cell1}},
		{"USE_RAW true", &UseRaw{Flag: "true"}},
		{"USE_RAW FALSE", &UseRaw{Flag: "FALSE"}},
		{"USE_RAW maybe", &UseRaw{Flag: "maybe"}},
		{"USE_SPREADSHEET", &UseSpreadsheet{}},
		{"WRITE_SHEET_CELL 3.25 1 2", &WriteSheetCell{Value: &Number{Value: 3.25}, X: 1, Y: 2}},
		{"WRITE_SHEET_CELL -1 0 0", &WriteSheetCell{Value: &Number{Value: -1}}},
		{"WRITE_SHEET_CELL T 4 5", &WriteSheetCell{Value: &Var{Name: "T"}, X: 4, Y: 5}},
		{"WRITE_SHEET_CELL 0 16383 1048575", &WriteSheetCell{Value: &Number{Value: 0}, X: 16383, Y: 1048575}},
		{"ADD_POINT", &AddPoint{}},
		{"X = 1", &Assign{Name: "X", Value: &Number{Value: 1}}},
		{"T = READ_SENSOR voltage", &ReadAssign{Name: "T", Channel: rig.Voltage}},
		{"T = READ_CURRENT", &Assign{Name: "T", Value: &ReadExpr{Channel: rig.Current}}},
		{"REPEAT 3 { }", &Repeat{Count: 3, Body: []Stmt{}}},
		{"REPEAT 2.9 { ADD_POINT }", &Repeat{Count: 2, Body: []Stmt{&AddPoint{}}}},
		{"REPEAT -4 { ADD_POINT }", &Repeat{Count: 0, Body: []Stmt{&AddPoint{}}}},
		{"IF 1 THEN { }", &If{Cond: &Number{Value: 1}, Then: []Stmt{}}},
	}

	for _, tt := range tests {
		prog := mustParse(t, tt.src)
		if len(prog.Stmts) != 1 {
			t.Errorf("%q: expected 1 statement, got %d", tt.src, len(prog.Stmts))
			continue
		}
		if diff := cmp.Diff(tt.want, prog.Stmts[0], ignorePos); diff != "" {
			t.Errorf("%q mismatch (-want +got):\n%s", tt.src, diff)
		}
	}
}

func TestIfElse(t *testing.T) {
	prog := mustParse(t, "IF 1 > 0 THEN { X = 1 } ELSE { X = 2 }")
	want := &If{
		Cond: &Compare{Op: OpGT, Left: &Number{Value: 1}, Right: &Number{Value: 0}},
		Then: []Stmt{&Assign{Name: "X", Value: &Number{Value: 1}}},
		Else: []Stmt{&Assign{Name: "X", Value: &Number{Value: 2}}},
	}
	if diff := cmp.Diff(want, prog.Stmts[0], ignorePos); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecedence(t *testing.T) {
	prog := mustParse(t, "Y = 1 + 2 * (3 - A) / 4 < B - -1")
	// ((1 + ((2 * (3 - A)) / 4)) < (B - -1))
	want := &Assign{Name: "Y", Value: &Compare{
		Op: OpLT,
		Left: &Binary{Op: OpAdd,
			Left: &Number{Value: 1},
			Right: &Binary{Op: OpDiv,
				Left: &Binary{Op: OpMul,
					Left:  &Number{Value: 2},
					Right: &Binary{Op: OpSub, Left: &Number{Value: 3}, Right: &Var{Name: "A"}},
				},
				Right: &Number{Value: 4},
			},
		},
		Right: &Binary{Op: OpSub, Left: &Var{Name: "B"}, Right: &Number{Value: -1}},
	}}
	if diff := cmp.Diff(want, prog.Stmts[0], ignorePos); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLeftAssociative(t *testing.T) {
	prog := mustParse(t, "Z = 8 - 4 - 2")
	want := &Assign{Name: "Z", Value: &Binary{Op: OpSub,
		Left:  &Binary{Op: OpSub, Left: &Number{Value: 8}, Right: &Number{Value: 4}},
		Right: &Number{Value: 2},
	}}
	if diff := cmp.Diff(want, prog.Stmts[0], ignorePos); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLayoutAndComments(t *testing.T) {
	src := `# header comment
SET_THROTTLE 10   # inline comment
   WAIT 5 ADD_POINT
X = 2 Y = X
REPEAT 2 {
	# inside a block
	ADD_POINT
}
`
	prog := mustParse(t, src)
	if len(prog.Stmts) != 6 {
		t.Fatalf("expected 6 statements, got %d", len(prog.Stmts))
	}
	if pos := prog.Stmts[1].Position(); pos != (Pos{Line: 3, Column: 4}) {
		t.Errorf("WAIT position = %v, want 3:4", pos)
	}
	if pos := prog.Stmts[4].Position(); pos != (Pos{Line: 4, Column: 7}) {
		t.Errorf("second assignment position = %v, want 4:7", pos)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src       string
		line, col int
	}{
		{"SET_THROTTLE 4.5", 1, 14},
		{"SET_THROTTLE", 1, 13},
		{"WAIT -1", 1, 6},
		{"WAIT 1.0", 1, 6},
		{"ADD_POINT\n  FLY 3", 2, 7},
		{"X = READ_SENSOR rpm", 1, 17},
		{"REPEAT 3 { ADD_POINT", 1, 21},
		{"IF 1 { }", 1, 6},
		{"IF 1 < 2 < 3 THEN { }", 1, 10},
		{"X = (1 + 2", 1, 11},
		{"X = 3 ! 4", 1, 7},
		{"set_throttle 4", 1, 14},
		{"USE_RAW", 1, 8},
		{"WRITE_SHEET_CELL 1 2", 1, 21},
		{"WRITE_SHEET_CELL 1 16384 0", 1, 20},
		{"WRITE_SHEET_CELL 1 0 1048576", 1, 22},
		{"ELSE { }", 1, 1},
		{"X = WAIT", 1, 5},
		{"}", 1, 1},
		{"X = 1 @", 1, 7},
	}

	for _, tt := range tests {
		prog, err := Parse(tt.src)
		if err == nil {
			t.Errorf("%q: expected error, got tree with %d statements", tt.src, len(prog.Stmts))
			continue
		}
		if prog != nil {
			t.Errorf("%q: expected no partial tree", tt.src)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("%q: expected *ParseError, got %T", tt.src, err)
			continue
		}
		if pe.Line != tt.line || pe.Column != tt.col {
			t.Errorf("%q: error at %d:%d, want %d:%d (%v)", tt.src, pe.Line, pe.Column, tt.line, tt.col, err)
		}
	}
}

func TestKeywordsAreCaseSensitive(t *testing.T) {
	// Lower-case words are variable names, so this is an assignment.
	prog := mustParse(t, "wait = 3")
	if _, ok := prog.Stmts[0].(*Assign); !ok {
		t.Fatalf("expected assignment, got %T", prog.Stmts[0])
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spin.rig")
	if err := os.WriteFile(path, []byte("SET_THROTTLE 30\nWAIT 100\nADD_POINT\n"), 0644); err != nil {
		t.Fatal(err)
	}
	prog, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(prog.Stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(prog.Stmts))
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.rig")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
