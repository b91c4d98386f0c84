// Package controller owns the lifecycle of script runs on the bench.
//
// A Controller runs at most one script at a time. Start parses the script on
// the caller's goroutine, then executes it on a goroutine of its own with a
// fresh Interpreter and a fresh Abort flag. Cancel raises that flag. Whatever
// way a run ends (end of script, cancel, runtime error, parse error, or a
// recovered interpreter panic) the controller makes exactly one state
// transition and calls the run's completion callback exactly once.
//
// The controller never touches the hardware itself; all side effects go
// through the rig.Port handed to New.
package controller

import (
	"errors"
	"fmt"
	"log"
	"os"
	rtdebug "runtime/debug"
	"sync"
	"time"

	"thrustrig/debug"
	"thrustrig/parser"
	"thrustrig/rig"
	"thrustrig/runtime"
	"thrustrig/sexp"
)

type State string

const (
	Idle      State = "idle"
	Running   State = "running"
	Completed State = "completed"
	Aborted   State = "aborted"
	Failed    State = "failed"
)

// ErrBusy is returned by Start while a run is in progress.
var ErrBusy = errors.New("a script is already running")

// Outcome is passed to the completion callback of a run.
type Outcome struct {
	State State
	// Err is set for failed runs.
	Err      error
	ScriptID string
	Points   int
	Elapsed  time.Duration
}

// Status is a snapshot of the controller.
type Status struct {
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Script     string    `json:"script,omitempty"`
	ScriptID   string    `json:"script_id,omitempty"`
	Points     int       `json:"points"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

type Controller struct {
	port rig.Port
	opts []runtime.Option

	mu        sync.Mutex
	status    Status
	abort     *runtime.Abort
	done      chan struct{}
	observers []func(Status)
}

// New creates an idle controller. opts are applied to every run's
// Interpreter.
func New(port rig.Port, opts ...runtime.Option) *Controller {
	return &Controller{
		port:   port,
		opts:   opts,
		status: Status{State: Idle},
	}
}

// OnChange registers fn to be called after every state transition. fn runs on
// the goroutine that caused the transition and must not block.
func (c *Controller) OnChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run reads the script at path and starts it. An unreadable file is reported
// as an error and no run is started.
func (c *Controller) Run(path string, record runtime.RecordFunc, onComplete func(Outcome)) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return c.StartNamed(path, string(src), record, onComplete)
}

// Start parses script and runs it on a new goroutine. It returns ErrBusy if a
// run is in progress. A script that does not parse fails the run: onComplete
// is called before Start returns and Start returns nil.
func (c *Controller) Start(script string, record runtime.RecordFunc, onComplete func(Outcome)) error {
	return c.StartNamed("", script, record, onComplete)
}

// StartNamed is Start for source already read from a file; name is reported
// in the run's Status.
func (c *Controller) StartNamed(name, src string, record runtime.RecordFunc, onComplete func(Outcome)) error {
	c.mu.Lock()
	if c.status.State == Running {
		c.mu.Unlock()
		return ErrBusy
	}

	now := time.Now()
	prog, err := parser.Parse(src)
	if err != nil {
		c.status = Status{
			State:      Failed,
			Reason:     err.Error(),
			Script:     name,
			StartedAt:  now,
			FinishedAt: now,
		}
		st, observers := c.status, c.observers
		c.abort, c.done = nil, nil
		c.mu.Unlock()

		log.Printf("controller: script %s does not parse: %v", displayName(name), err)
		notify(observers, st)
		if onComplete != nil {
			onComplete(Outcome{State: Failed, Err: err})
		}
		return nil
	}

	id := sexp.ID(prog)
	debug.LogTree("script", id, sexp.EmitProgram(prog))

	abort := runtime.NewAbort()
	done := make(chan struct{})
	counted := func(elapsedMs int64) {
		c.mu.Lock()
		c.status.Points++
		c.mu.Unlock()
		if record != nil {
			record(elapsedMs)
		}
	}
	in := runtime.New(c.port, counted, abort, c.opts...)

	c.status = Status{
		State:     Running,
		Script:    name,
		ScriptID:  id,
		StartedAt: now,
	}
	c.abort, c.done = abort, done
	st, observers := c.status, c.observers
	c.mu.Unlock()

	log.Printf("controller: run %s started (%s)", id, displayName(name))
	notify(observers, st)
	go c.execute(in, prog, done, onComplete)
	return nil
}

// execute is the goroutine body of a run.
func (c *Controller) execute(in *runtime.Interpreter, prog *parser.Program, done chan struct{}, onComplete func(Outcome)) {
	defer close(done)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("controller: interpreter panic: %v\n%s", r, rtdebug.Stack())
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		return in.Execute(prog)
	}()

	state := Completed
	switch {
	case err == nil:
	case errors.Is(err, runtime.ErrAborted):
		state = Aborted
		err = nil
	default:
		state = Failed
	}

	c.mu.Lock()
	c.status.State = state
	c.status.FinishedAt = time.Now()
	if err != nil {
		c.status.Reason = err.Error()
	}
	st, observers := c.status, c.observers
	c.mu.Unlock()

	elapsed := st.FinishedAt.Sub(st.StartedAt)
	if err != nil {
		log.Printf("controller: run %s failed after %v: %v", st.ScriptID, elapsed.Round(time.Millisecond), err)
	} else {
		log.Printf("controller: run %s %s after %v (%d points)", st.ScriptID, state, elapsed.Round(time.Millisecond), st.Points)
	}
	debug.Log("controller: final variables %v", in.Vars())

	notify(observers, st)
	if onComplete != nil {
		onComplete(Outcome{
			State:    state,
			Err:      err,
			ScriptID: st.ScriptID,
			Points:   st.Points,
			Elapsed:  elapsed,
		})
	}
}

// Cancel asks the current run to stop. It is safe to call at any time and any
// number of times; with no run in progress it does nothing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State != Running || c.abort == nil {
		return
	}
	if !c.abort.IsSet() {
		log.Printf("controller: cancelling run %s", c.status.ScriptID)
	}
	c.abort.Set()
}

// Wait blocks until the current run, if any, has ended and its completion
// callback has returned. It reports false if timeout passed first.
func (c *Controller) Wait(timeout time.Duration) bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Shutdown cancels the current run and waits for it to end.
func (c *Controller) Shutdown(timeout time.Duration) error {
	c.Cancel()
	if !c.Wait(timeout) {
		return fmt.Errorf("run did not stop within %v", timeout)
	}
	return nil
}

func notify(observers []func(Status), st Status) {
	for _, fn := range observers {
		fn(st)
	}
}

func displayName(name string) string {
	if name == "" {
		return "inline script"
	}
	return name
}
