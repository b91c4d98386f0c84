package telemetry

import (
	"context"
	"io"
	"log"
	"time"

	"thrustrig/rig"
)

// Options adjusts how Connect sets up the bench.
type Options struct {
	// Dummy uses a Simulator in place of the serial port.
	Dummy bool

	// Tap sees every raw line from the bench, as a serial monitor would.
	Tap func(line string)

	// Offsets are zero offsets applied before the first reading arrives.
	Offsets map[rig.Channel]float64
}

// Connect opens the bench described by cfg, or a Simulator when opts.Dummy is
// set, and starts feeding its telemetry into a new Board. Closing the returned
// io.Closer stops the monitor and releases the port.
func Connect(ctx context.Context, cfg SerialConfig, opts Options) (*Board, io.Closer, error) {
	var (
		port   io.ReadWriteCloser
		follow bool
	)
	if opts.Dummy {
		port = NewSimulator(100 * time.Millisecond)
		log.Printf("telemetry: using simulated bench")
	} else {
		p, err := OpenSerial(cfg)
		if err != nil {
			return nil, nil, err
		}
		port = p
		follow = cfg.ReadTimeout > 0
		log.Printf("telemetry: connected to %s", cfg.Port)
	}

	ctx, cancel := context.WithCancel(ctx)
	b := NewBoard(nil)
	for ch, off := range opts.Offsets {
		b.SetOffset(ch, off)
	}
	done := Attach(ctx, b, port, follow, opts.Tap)
	return b, &connection{port: port, cancel: cancel, done: done}, nil
}

type connection struct {
	port   io.Closer
	cancel context.CancelFunc
	done   <-chan error
}

func (c *connection) Close() error {
	c.cancel()
	err := c.port.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
		log.Printf("telemetry: monitor did not stop")
	}
	return err
}
