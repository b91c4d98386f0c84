package console

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"thrustrig/bench"
	"thrustrig/controller"
	"thrustrig/datasheet"
	"thrustrig/rig"
)

type fakeBench struct {
	mu        sync.Mutex
	ran       []string
	throttles []int
	zeroed    []string
	cancels   int
	points    []datasheet.Point
	runErr    error
}

func (f *fakeBench) Run(script string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, script)
	return "abcd1234", f.runErr
}

func (f *fakeBench) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeBench) SetThrottle(percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttles = append(f.throttles, percent)
	return nil
}

func (f *fakeBench) Zero(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zeroed = append(f.zeroed, channel)
	return nil
}

func (f *fakeBench) Points() ([]datasheet.Point, error) {
	return f.points, nil
}

func newTestModel(f *fakeBench) Model {
	m := New(f, nil, nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

// update feeds msg to m and runs the returned command once, feeding its
// result back in. Commands returned while the prompt is open only blink the
// cursor and are skipped.
func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd != nil && m.prompt == promptNone {
		if res, ok := cmd().(resultMsg); ok {
			next, _ = m.Update(res)
			m = next.(Model)
		}
	}
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func idleStatus(scripts ...string) statusMsg {
	return statusMsg(bench.StatusPayload{
		Run:     controller.Status{State: controller.Idle},
		Scripts: scripts,
	})
}

func TestRunSelectedScript(t *testing.T) {
	f := &fakeBench{}
	m := newTestModel(f)
	m = update(t, m, idleStatus("hold", "ramp"))
	m = update(t, m, key("down"))
	m = update(t, m, key("enter"))

	if len(f.ran) != 1 || f.ran[0] != "ramp" {
		t.Fatalf("ran %v, want [ramp]", f.ran)
	}
	if !strings.Contains(m.note, "abcd1234") {
		t.Fatalf("note = %q", m.note)
	}
}

func TestRunErrorShown(t *testing.T) {
	f := &fakeBench{runErr: errors.New("a script is already running")}
	m := newTestModel(f)
	m = update(t, m, idleStatus("ramp"))
	m = update(t, m, key("r"))
	if !strings.Contains(m.errText, "already running") {
		t.Fatalf("errText = %q", m.errText)
	}
	if !strings.Contains(m.View(), "already running") {
		t.Fatalf("error not rendered")
	}
}

func TestNoScripts(t *testing.T) {
	m := newTestModel(&fakeBench{})
	m = update(t, m, idleStatus())
	m = update(t, m, key("enter"))
	if m.errText == "" {
		t.Fatalf("running with an empty library gave no error")
	}
}

func TestThrottlePrompt(t *testing.T) {
	f := &fakeBench{}
	m := newTestModel(f)
	m = update(t, m, idleStatus())
	m = update(t, m, key("t"))
	if m.prompt != promptThrottle {
		t.Fatalf("prompt = %v", m.prompt)
	}
	m = update(t, m, key("4"))
	m = update(t, m, key("2"))
	m = update(t, m, key("enter"))
	if len(f.throttles) != 1 || f.throttles[0] != 42 {
		t.Fatalf("throttles = %v", f.throttles)
	}
	if m.prompt != promptNone {
		t.Fatalf("prompt still open")
	}

	m = update(t, m, key("t"))
	m = update(t, m, key("x"))
	m = update(t, m, key("enter"))
	if !strings.Contains(m.errText, "whole number") || len(f.throttles) != 1 {
		t.Fatalf("bad throttle: errText = %q, throttles = %v", m.errText, f.throttles)
	}

	m = update(t, m, key("t"))
	m = update(t, m, key("esc"))
	if m.prompt != promptNone || len(f.throttles) != 1 {
		t.Fatalf("esc did not dismiss the prompt")
	}
}

func TestCancelAndZero(t *testing.T) {
	f := &fakeBench{}
	m := newTestModel(f)
	m = update(t, m, idleStatus())
	m = update(t, m, key("c"))
	m = update(t, m, key("z"))
	if f.cancels != 1 || len(f.zeroed) != 1 || f.zeroed[0] != "" {
		t.Fatalf("cancels = %d, zeroed = %v", f.cancels, f.zeroed)
	}
	if m.note != "zeroed" {
		t.Fatalf("note = %q", m.note)
	}
}

func TestPointsClearedOnNewRun(t *testing.T) {
	m := newTestModel(&fakeBench{})
	start := time.Now()
	running := bench.StatusPayload{Run: controller.Status{State: controller.Running, StartedAt: start}}
	m = update(t, m, statusMsg(running))
	m = update(t, m, pointMsg(datasheet.Point{ElapsedMs: 10, Cell1: math.NaN()}))
	m = update(t, m, pointMsg(datasheet.Point{ElapsedMs: 20}))
	m = update(t, m, statusMsg(running))
	if len(m.points) != 2 || len(m.table.Rows()) != 2 {
		t.Fatalf("points = %d, rows = %d", len(m.points), len(m.table.Rows()))
	}
	if got := m.table.Rows()[0][2]; got != "n/a" {
		t.Fatalf("missing thrust rendered as %q", got)
	}

	running.Run.StartedAt = start.Add(time.Second)
	m = update(t, m, statusMsg(running))
	if len(m.points) != 0 {
		t.Fatalf("points not cleared for new run")
	}
}

func TestExport(t *testing.T) {
	f := &fakeBench{points: []datasheet.Point{{ElapsedMs: 1, Throttle: 2, Cell1: 3, Cell2: 4, Voltage: 5, Current: 6}}}
	m := newTestModel(f)
	m = update(t, m, idleStatus())
	path := filepath.Join(t.TempDir(), "out.csv")

	m = update(t, m, key("e"))
	m.input.SetValue(path)
	m = update(t, m, key("enter"))
	if m.errText != "" {
		t.Fatalf("export error: %s", m.errText)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "1,2,3,4,5,6") {
		t.Fatalf("export = %q", data)
	}
}

func TestViewShowsTelemetry(t *testing.T) {
	m := newTestModel(&fakeBench{})
	if got := m.View(); !strings.Contains(got, "Connecting") {
		t.Fatalf("view before first status = %q", got)
	}
	st := bench.StatusPayload{
		Run:     controller.Status{State: controller.Completed, ScriptID: "feedbeef", Points: 3},
		Scripts: []string{"ramp"},
	}
	st.Telemetry.Throttle = 35
	st.Telemetry.Readings[rig.Cell1].Value = 120
	st.Telemetry.Readings[rig.Cell1].Valid = true
	st.Telemetry.Offsets[rig.Cell1] = 20
	m = update(t, m, statusMsg(st))

	view := m.View()
	for _, want := range []string{"throttle 35%", "100.00", "feedbeef", "ramp", "n/a"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}
