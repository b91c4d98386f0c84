package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// OpenSerial opens the bench's serial port. With a non-zero ReadTimeout reads
// return io.EOF when the line is idle, so the port should be read by a Monitor
// in Follow mode.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("open serial: no port configured")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	return p, nil
}
