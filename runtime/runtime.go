// Package runtime executes parsed bench scripts.
//
// The Interpreter walks a parser.Program in source order and turns each
// statement into calls on a rig.Port. Every statement and every expression
// leaf first checks the run's Abort flag, so a cancelled run stops before its
// next side effect. WAIT sleeps on the flag itself and wakes as soon as it is
// raised.
package runtime

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"thrustrig/debug"
	"thrustrig/parser"
	"thrustrig/rig"
)

// ErrAborted is returned by Execute when the run was cancelled. It is the
// normal result of a cancel, not a failure.
var ErrAborted = errors.New("script aborted")

// RuntimeValueError reports a value the script cannot use, such as a sensor
// with no reading or a division by zero. The run fails rather than record a
// made-up number.
type RuntimeValueError struct {
	Pos     parser.Pos
	Message string
	Err     error
}

func (e *RuntimeValueError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

func (e *RuntimeValueError) Unwrap() error { return e.Err }

// RecordFunc is called for each ADD_POINT with the milliseconds elapsed since
// the run started.
type RecordFunc func(elapsedMs int64)

// Sheet receives the spreadsheet reporting statements. It has no influence on
// control flow.
type Sheet interface {
	UseSpreadsheet()
	WriteCell(value float64, x, y int)
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithSheet forwards USE_SPREADSHEET and WRITE_SHEET_CELL to s.
func WithSheet(s Sheet) Option {
	return func(in *Interpreter) { in.sheet = s }
}

// Interpreter runs one script once. It owns the run's variable table and
// read mode; create a fresh one per run.
type Interpreter struct {
	port   rig.Port
	record RecordFunc
	abort  *Abort
	sheet  Sheet

	vars   map[string]float64
	useRaw bool
	start  time.Time
}

// New creates an interpreter bound to a port, a point recorder and the run's
// abort flag. record may be nil.
func New(port rig.Port, record RecordFunc, abort *Abort, opts ...Option) *Interpreter {
	in := &Interpreter{
		port:   port,
		record: record,
		abort:  abort,
		vars:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Execute runs prog to completion. It returns nil when the script ends,
// ErrAborted when the abort flag stopped it, and any other error when a
// statement failed.
func (in *Interpreter) Execute(prog *parser.Program) error {
	in.start = time.Now()
	return in.block(prog.Stmts)
}

// Vars returns a copy of the variable table.
func (in *Interpreter) Vars() map[string]float64 {
	cp := make(map[string]float64, len(in.vars))
	for k, v := range in.vars {
		cp[k] = v
	}
	return cp
}

func (in *Interpreter) block(stmts []parser.Stmt) error {
	for _, s := range stmts {
		if err := in.exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) exec(s parser.Stmt) error {
	if in.abort.IsSet() {
		return ErrAborted
	}

	switch s := s.(type) {
	case *parser.SetThrottle:
		if s.Value < 0 || s.Value > 100 {
			debug.Log("line %d: throttle %d out of range, not sent", s.Line, s.Value)
			return nil
		}
		debug.Log("line %d: set throttle %d", s.Line, s.Value)
		if err := in.port.SetThrottle(s.Value); err != nil {
			return fmt.Errorf("line %d: set throttle: %w", s.Line, err)
		}

	case *parser.Wait:
		debug.Log("line %d: wait %dms", s.Line, s.Millis)
		if in.abort.Wait(time.Duration(s.Millis) * time.Millisecond) {
			return ErrAborted
		}

	case *parser.Read:
		if _, err := in.read(s.Pos, s.Channel); err != nil {
			return err
		}

	case *parser.UseRaw:
		switch {
		case strings.EqualFold(s.Flag, "true"):
			in.useRaw = true
		case strings.EqualFold(s.Flag, "false"):
			in.useRaw = false
		default:
			log.Printf("interpreter: line %d: USE_RAW %q ignored, read mode unchanged", s.Line, s.Flag)
		}

	case *parser.Assign:
		v, err := in.eval(s.Value)
		if err != nil {
			return err
		}
		in.vars[s.Name] = v
		debug.Log("line %d: %s = %g", s.Line, s.Name, v)

	case *parser.ReadAssign:
		v, err := in.read(s.Pos, s.Channel)
		if err != nil {
			return err
		}
		in.vars[s.Name] = v
		debug.Log("line %d: %s = %g (%s)", s.Line, s.Name, v, s.Channel)

	case *parser.If:
		cond, err := in.eval(s.Cond)
		if err != nil {
			return err
		}
		if cond != 0 {
			return in.block(s.Then)
		}
		if s.Else != nil {
			return in.block(s.Else)
		}

	case *parser.Repeat:
		for i := 0; i < s.Count; i++ {
			if in.abort.IsSet() {
				return ErrAborted
			}
			if err := in.block(s.Body); err != nil {
				return err
			}
		}

	case *parser.AddPoint:
		elapsed := time.Since(in.start).Milliseconds()
		debug.Log("line %d: add point at %dms", s.Line, elapsed)
		if in.record != nil {
			in.record(elapsed)
		}

	case *parser.UseSpreadsheet:
		if in.sheet != nil {
			in.sheet.UseSpreadsheet()
		}

	case *parser.WriteSheetCell:
		v, err := in.eval(s.Value)
		if err != nil {
			return err
		}
		if in.sheet != nil {
			in.sheet.WriteCell(v, s.X, s.Y)
		}

	default:
		panic(fmt.Sprintf("runtime: unknown statement %T", s))
	}
	return nil
}

func (in *Interpreter) read(pos parser.Pos, ch rig.Channel) (float64, error) {
	if in.abort.IsSet() {
		return 0, ErrAborted
	}
	var v float64
	var err error
	if in.useRaw {
		v, err = in.port.Raw(ch)
	} else {
		v, err = in.port.Calibrated(ch)
	}
	if err != nil {
		return 0, &RuntimeValueError{Pos: pos, Message: fmt.Sprintf("read %s: %v", ch, err), Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &RuntimeValueError{Pos: pos, Message: fmt.Sprintf("read %s: not a number", ch)}
	}
	return v, nil
}

func (in *Interpreter) eval(e parser.Expr) (float64, error) {
	switch e := e.(type) {
	case *parser.Number:
		if in.abort.IsSet() {
			return 0, ErrAborted
		}
		return e.Value, nil

	case *parser.Var:
		if in.abort.IsSet() {
			return 0, ErrAborted
		}
		return in.vars[e.Name], nil

	case *parser.ReadExpr:
		return in.read(e.Pos, e.Channel)

	case *parser.Binary:
		l, err := in.eval(e.Left)
		if err != nil {
			return 0, err
		}
		r, err := in.eval(e.Right)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case parser.OpAdd:
			return l + r, nil
		case parser.OpSub:
			return l - r, nil
		case parser.OpMul:
			return l * r, nil
		case parser.OpDiv:
			if r == 0 {
				return 0, &RuntimeValueError{Pos: e.Pos, Message: "division by zero"}
			}
			return l / r, nil
		}
		panic(fmt.Sprintf("runtime: unknown arithmetic operator %q", e.Op))

	case *parser.Compare:
		l, err := in.eval(e.Left)
		if err != nil {
			return 0, err
		}
		r, err := in.eval(e.Right)
		if err != nil {
			return 0, err
		}
		var ok bool
		switch e.Op {
		case parser.OpGT:
			ok = l > r
		case parser.OpLT:
			ok = l < r
		case parser.OpGE:
			ok = l >= r
		case parser.OpLE:
			ok = l <= r
		case parser.OpEQ:
			ok = l == r
		case parser.OpNE:
			ok = l != r
		default:
			panic(fmt.Sprintf("runtime: unknown comparison %q", e.Op))
		}
		if ok {
			return 1, nil
		}
		return 0, nil
	}
	panic(fmt.Sprintf("runtime: unknown expression %T", e))
}
