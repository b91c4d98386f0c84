package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Simulator stands in for the bench when no hardware is attached. It speaks the
// same line protocol as the real board: throttle commands written to it shape
// the readings it emits every tick.
type Simulator struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	throttle int
	pending  string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSimulator starts a simulated bench that reports every tick.
func NewSimulator(tick time.Duration) *Simulator {
	pr, pw := io.Pipe()
	s := &Simulator{pr: pr, pw: pw, stop: make(chan struct{})}
	s.wg.Add(1)
	go s.loop(tick)
	return s
}

func (s *Simulator) loop(tick time.Duration) {
	defer s.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		s.mu.Lock()
		thr := float64(s.throttle)
		s.mu.Unlock()

		noise := func(scale float64) float64 { return (rng.Float64() - 0.5) * scale }
		cur := thr*0.3 + noise(0.1)
		lines := fmt.Sprintf("lc1(%d)\nlc2(%d)\ncur(%.2f)\nvtg(%.2f)\n",
			int(thr*40+noise(8)),
			int(thr*6+noise(4)),
			cur,
			12.6-cur*0.05+noise(0.02),
		)
		if _, err := io.WriteString(s.pw, lines); err != nil {
			return
		}
	}
}

// Read returns simulated telemetry lines.
func (s *Simulator) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Write accepts throttle commands. Anything else is ignored.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending += string(p)
	complete := strings.LastIndexByte(s.pending, '\n')
	if complete < 0 {
		return len(p), nil
	}
	sc := bufio.NewScanner(strings.NewReader(s.pending[:complete]))
	s.pending = s.pending[complete+1:]
	for sc.Scan() {
		if n, ok := DecodeThrottle(sc.Text()); ok {
			s.throttle = n
		}
	}
	return len(p), nil
}

// Throttle returns the last throttle the simulator received.
func (s *Simulator) Throttle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle
}

// Close stops the simulator. Pending reads return io.EOF.
func (s *Simulator) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.pr.CloseWithError(io.EOF)
		s.pw.Close()
		s.wg.Wait()
	})
	return nil
}
