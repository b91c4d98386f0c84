// Package telemetry keeps the bench's latest sensor readings and drives its
// motor. A Monitor feeds readings decoded from the serial line into a Board;
// scripts and the operator console read them back through rig.Port.
package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"thrustrig/rig"
)

// ErrNoReading is returned for a channel that has not reported yet, or whose
// last report was "n" (sensor not ready).
var ErrNoReading = errors.New("no reading")

// Reading is the latest value of one channel.
type Reading struct {
	Value float64   `json:"value"`
	Valid bool      `json:"valid"`
	At    time.Time `json:"at"`
}

// Snapshot is a consistent copy of the board state.
type Snapshot struct {
	Throttle int                      `json:"throttle"`
	Readings [rig.NumChannels]Reading `json:"readings"`
	Offsets  [rig.NumChannels]float64 `json:"offsets"`
}

// Calibrated returns the calibrated value of ch in the snapshot, and whether it
// is valid.
func (s Snapshot) Calibrated(ch rig.Channel) (float64, bool) {
	r := s.Readings[ch]
	return r.Value - s.Offsets[ch], r.Valid
}

// Board is the shared telemetry state of the bench. It is safe for concurrent
// use and implements rig.Port.
type Board struct {
	mu       sync.RWMutex
	readings [rig.NumChannels]Reading
	offsets  [rig.NumChannels]float64
	throttle int
	out      io.Writer

	obsMu     sync.Mutex
	observers []func(rig.Channel, Reading)
}

// NewBoard creates a board. Throttle commands are written to out; pass nil for
// a board with no motor attached.
func NewBoard(out io.Writer) *Board {
	return &Board{out: out}
}

// OnReading registers fn to be called after every update. fn runs on the
// updating goroutine and must not block.
func (b *Board) OnReading(fn func(rig.Channel, Reading)) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, fn)
}

// Update stores a new reading for ch. valid is false when the sensor reported
// no value.
func (b *Board) Update(ch rig.Channel, value float64, valid bool) {
	r := Reading{Value: value, Valid: valid, At: time.Now()}
	b.mu.Lock()
	b.readings[ch] = r
	b.mu.Unlock()

	b.obsMu.Lock()
	observers := b.observers
	b.obsMu.Unlock()
	for _, fn := range observers {
		fn(ch, r)
	}
}

// Raw returns the latest reading of ch.
func (b *Board) Raw(ch rig.Channel) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.readings[ch]
	if !r.Valid {
		return 0, fmt.Errorf("%s: %w", ch, ErrNoReading)
	}
	return r.Value, nil
}

// Calibrated returns the latest reading of ch minus its zero offset.
func (b *Board) Calibrated(ch rig.Channel) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.readings[ch]
	if !r.Valid {
		return 0, fmt.Errorf("%s: %w", ch, ErrNoReading)
	}
	return r.Value - b.offsets[ch], nil
}

// SetThrottle records the new throttle and sends it to the motor controller.
func (b *Board) SetThrottle(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("throttle %d out of range [0,100]", percent)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out != nil {
		if _, err := fmt.Fprintf(b.out, "%s\n", EncodeThrottle(percent)); err != nil {
			return fmt.Errorf("send throttle: %w", err)
		}
	}
	b.throttle = percent
	return nil
}

// Throttle returns the last throttle sent.
func (b *Board) Throttle() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.throttle
}

// Zero makes the current raw reading of ch the new zero point.
func (b *Board) Zero(ch rig.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.readings[ch]
	if !r.Valid {
		return fmt.Errorf("zero %s: %w", ch, ErrNoReading)
	}
	b.offsets[ch] = r.Value
	return nil
}

// ZeroAll zeroes every channel that has a reading and returns the errors for
// those that do not.
func (b *Board) ZeroAll() error {
	var errs []error
	for _, ch := range rig.Channels {
		if err := b.Zero(ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetOffset sets the zero offset of ch directly.
func (b *Board) SetOffset(ch rig.Channel, offset float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offsets[ch] = offset
}

// Snapshot copies the current board state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Throttle: b.throttle,
		Readings: b.readings,
		Offsets:  b.offsets,
	}
}
