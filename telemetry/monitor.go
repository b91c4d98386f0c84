package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"thrustrig/debug"
)

// Monitor reads telemetry lines and feeds them into a Board.
type Monitor struct {
	board *Board

	// Tap, if set, sees every raw line before it is decoded.
	Tap func(line string)

	// Follow keeps reading after io.EOF. Serial ports opened with a read
	// timeout report EOF whenever the bench is quiet.
	Follow bool

	// Idle is how long Follow waits after an empty read.
	Idle time.Duration
}

func NewMonitor(b *Board) *Monitor {
	return &Monitor{board: b, Idle: 10 * time.Millisecond}
}

// Run decodes lines from r until ctx is cancelled, r is exhausted (when not
// following) or a read fails. A blocked read is only interrupted by closing r.
func (m *Monitor) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	var partial strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := br.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			m.handle(partial.String())
			partial.Reset()
			continue
		}
		if errors.Is(err, io.EOF) && m.Follow {
			if chunk == "" {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(m.Idle):
				}
			}
			continue
		}
		if partial.Len() > 0 {
			m.handle(partial.String())
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read telemetry: %w", err)
	}
}

func (m *Monitor) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if m.Tap != nil {
		m.Tap(line)
	}
	s, ok := Decode(line)
	if !ok {
		debug.Log("monitor: ignoring %q", line)
		return
	}
	m.board.Update(s.Channel, s.Value, s.Valid)
}

// Attach starts a Monitor for rw on a new goroutine and points the board's
// throttle output at rw. tap, if not nil, becomes the monitor's Tap. The
// returned channel yields the monitor's exit error.
func Attach(ctx context.Context, b *Board, rw io.ReadWriter, follow bool, tap func(string)) <-chan error {
	b.mu.Lock()
	b.out = rw
	b.mu.Unlock()

	m := NewMonitor(b)
	m.Follow = follow
	m.Tap = tap
	done := make(chan error, 1)
	go func() {
		err := m.Run(ctx, rw)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("monitor: %v", err)
		}
		done <- err
	}()
	return done
}
