// Package bench is the TCP control plane of the test bench.
//
// The server owns the run controller, the telemetry board and the data sheet
// of one bench, and lets front ends (rigctl, the operator console) start and
// cancel scripts, drive the motor by hand and watch telemetry. Messages are
// newline-delimited JSON envelopes. A connection may send any number of
// requests; after a subscribe it also receives status and point pushes.
package bench

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"thrustrig/controller"
	"thrustrig/datasheet"
	"thrustrig/parser"
	"thrustrig/registry"
	"thrustrig/rig"
	"thrustrig/telemetry"
)

// errRunning refuses manual control while a script drives the bench.
var errRunning = errors.New("a script is running")

// writeTimeout bounds every write to a client.
const writeTimeout = time.Second

// pushQueueSize is how many pushes a subscriber may fall behind before it is
// dropped.
const pushQueueSize = 256

// peer is one client connection. Replies are written directly. Pushes go
// through queue and are written by the peer's own goroutine.
type peer struct {
	conn net.Conn

	// wmu serializes writes to conn.
	wmu sync.Mutex

	// queue is nil until the peer subscribes. It is closed, under the
	// server's mu, when the peer leaves the subscriber set.
	queue chan []byte
}

func (p *peer) write(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := p.conn.Write(data)
	return err
}

type Server struct {
	ctl      *controller.Controller
	board    *telemetry.Board
	sheet    *datasheet.Sheet
	registry *registry.Registry

	// DataDir, if set, receives the session file after every run.
	DataDir string
	// TelemetryInterval is how often subscribers get a status push with
	// fresh telemetry. Zero disables periodic pushes.
	TelemetryInterval time.Duration

	listener net.Listener
	addr     string
	ready    chan struct{}

	// runMu makes the busy check, the sheet reset and the start of a run
	// one step.
	runMu sync.Mutex

	// mu guards subscribers.
	mu          sync.Mutex
	subscribers map[*peer]bool
	pushers     sync.WaitGroup

	done chan struct{}
}

// NewServer creates a server for one bench. Call ListenAndServe to start
// accepting connections.
func NewServer(ctl *controller.Controller, board *telemetry.Board, sheet *datasheet.Sheet, reg *registry.Registry, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		ctl:               ctl,
		board:             board,
		sheet:             sheet,
		registry:          reg,
		TelemetryInterval: 250 * time.Millisecond,
		addr:              addr,
		ready:             make(chan struct{}),
		subscribers:       make(map[*peer]bool),
		done:              make(chan struct{}),
	}

	ctl.OnChange(func(controller.Status) { s.PushStatus() })
	sheet.OnPoint(func(p datasheet.Point) { s.broadcast(MsgPoint, p) })
	return s
}

// ListenAndServe starts the TCP listener and accepts connections.
// It blocks until Stop is called or the listener fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	close(s.ready)
	log.Printf("bench server listening on %s", ln.Addr())

	if s.TelemetryInterval > 0 {
		go s.telemetryLoop()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				log.Printf("server: accept error: %v", err)
				continue
			}
		}
		go s.handleConn(conn)
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listener's address, useful in tests where port 0 is used.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes the listener, sends a shutdown notice to subscribers and closes
// their connections. The current run, if any, is left to the caller.
func (s *Server) Stop() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)

	if s.listener != nil {
		s.listener.Close()
	}

	notice, err := encode(MsgShutdownNotice, ShutdownNoticePayload{Reason: "bench server shutting down"})
	s.mu.Lock()
	for p := range s.subscribers {
		if err == nil {
			select {
			case p.queue <- notice:
			default:
			}
		}
		s.unsubscribeLocked(p)
	}
	s.mu.Unlock()

	flushed := make(chan struct{})
	go func() {
		s.pushers.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(2 * writeTimeout):
		log.Printf("server: subscribers did not drain before shutdown")
	}
}

func (s *Server) handleConn(conn net.Conn) {
	p := &peer{conn: conn}
	defer func() {
		s.mu.Lock()
		s.unsubscribeLocked(p)
		s.mu.Unlock()
		conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Printf("server: malformed message from %s: %v", conn.RemoteAddr(), err)
			continue
		}

		switch env.Type {
		case MsgRunRequest:
			s.handleRun(p, &env)
		case MsgCancelRequest:
			s.ctl.Cancel()
			s.send(p, MsgAck, AckPayload{Request: env.Type})
		case MsgThrottleRequest:
			s.handleThrottle(p, &env)
		case MsgZeroRequest:
			s.handleZero(p, &env)
		case MsgPointsRequest:
			s.send(p, MsgPoints, PointsPayload{Points: s.sheet.Points()})
		case MsgSubscribe:
			s.subscribe(p)
		default:
			log.Printf("server: unknown message type %q from %s", env.Type, conn.RemoteAddr())
		}
	}
}

// subscribe adds p to the push set and queues the current status as its first
// push.
func (s *Server) subscribe(p *peer) {
	st, err := encode(MsgStatus, s.status())
	if err != nil {
		log.Printf("server: marshal %s: %v", MsgStatus, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if s.subscribers[p] {
		select {
		case p.queue <- st:
		default:
		}
		return
	}
	p.queue = make(chan []byte, pushQueueSize)
	p.queue <- st
	s.subscribers[p] = true
	s.pushers.Add(1)
	go s.pushLoop(p.queue, p)
}

// unsubscribeLocked removes p from the push set. s.mu must be held.
func (s *Server) unsubscribeLocked(p *peer) {
	if !s.subscribers[p] {
		return
	}
	delete(s.subscribers, p)
	close(p.queue)
}

// pushLoop writes queued pushes to p until its queue is closed, then closes
// the connection.
func (s *Server) pushLoop(queue <-chan []byte, p *peer) {
	defer s.pushers.Done()
	defer p.conn.Close()
	for data := range queue {
		if err := p.write(data); err != nil {
			log.Printf("server: push to %s: %v", p.conn.RemoteAddr(), err)
			p.conn.Close()
			for range queue {
			}
			return
		}
	}
}

func (s *Server) handleRun(p *peer, env *Envelope) {
	var req RunRequest
	if err := env.DecodePayload(&req); err != nil {
		s.send(p, MsgRunResponse, RunResponse{Error: fmt.Sprintf("decode error: %v", err)})
		return
	}

	name, src := "", req.Source
	if src == "" {
		path, err := s.registry.Resolve(req.Script)
		if err != nil {
			s.send(p, MsgRunResponse, RunResponse{Error: err.Error()})
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.send(p, MsgRunResponse, RunResponse{Error: fmt.Sprintf("read script: %v", err)})
			return
		}
		name, src = path, string(data)
	}

	s.runMu.Lock()
	if s.ctl.Status().State == controller.Running {
		s.runMu.Unlock()
		s.send(p, MsgRunResponse, RunResponse{Error: controller.ErrBusy.Error()})
		return
	}
	// A script that does not parse still goes to the controller so its
	// status reports the failure, but the last run's points are kept.
	if _, err := parser.Parse(src); err == nil {
		s.sheet.Reset()
	}
	err := s.ctl.StartNamed(name, src, datasheet.Recorder(s.board, s.sheet), s.runFinished)
	st := s.ctl.Status()
	s.runMu.Unlock()

	if err != nil {
		s.send(p, MsgRunResponse, RunResponse{Error: err.Error()})
		return
	}
	resp := RunResponse{ScriptID: st.ScriptID}
	if st.State == controller.Failed && st.ScriptID == "" {
		resp.Error = st.Reason
	}
	s.send(p, MsgRunResponse, resp)
}

// runFinished saves the session after every run that got past parsing.
func (s *Server) runFinished(out controller.Outcome) {
	if s.DataDir == "" {
		return
	}
	if out.State == controller.Failed && out.ScriptID == "" {
		return
	}
	path := datasheet.SessionPath(s.DataDir)
	if err := datasheet.Save(s.sheet, path); err != nil {
		log.Printf("server: save session: %v", err)
	}
}

func (s *Server) handleThrottle(p *peer, env *Envelope) {
	var req ThrottleRequest
	if err := env.DecodePayload(&req); err != nil {
		s.ack(p, env.Type, fmt.Errorf("decode error: %w", err))
		return
	}
	if s.ctl.Status().State == controller.Running {
		s.ack(p, env.Type, errRunning)
		return
	}
	err := s.board.SetThrottle(req.Percent)
	s.ack(p, env.Type, err)
	if err == nil {
		s.PushStatus()
	}
}

func (s *Server) handleZero(p *peer, env *Envelope) {
	var req ZeroRequest
	if err := env.DecodePayload(&req); err != nil {
		s.ack(p, env.Type, fmt.Errorf("decode error: %w", err))
		return
	}
	if s.ctl.Status().State == controller.Running {
		s.ack(p, env.Type, errRunning)
		return
	}
	var err error
	if req.Channel == "" {
		err = s.board.ZeroAll()
	} else if ch, ok := rig.LookupSensor(req.Channel); ok {
		err = s.board.Zero(ch)
	} else {
		err = fmt.Errorf("unknown channel %q", req.Channel)
	}
	s.ack(p, env.Type, err)
	s.PushStatus()
}

func (s *Server) ack(p *peer, req MessageType, err error) {
	ack := AckPayload{Request: req}
	if err != nil {
		ack.Error = err.Error()
	}
	s.send(p, MsgAck, ack)
}

func (s *Server) status() StatusPayload {
	return StatusPayload{
		Run:       s.ctl.Status(),
		Telemetry: s.board.Snapshot(),
		Scripts:   s.registry.Names(),
		Points:    s.sheet.Len(),
	}
}

// PushStatus sends the current status to every subscriber.
func (s *Server) PushStatus() {
	s.broadcast(MsgStatus, s.status())
}

func (s *Server) telemetryLoop() {
	t := time.NewTicker(s.TelemetryInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.mu.Lock()
			n := len(s.subscribers)
			s.mu.Unlock()
			if n > 0 {
				s.PushStatus()
			}
		}
	}
}

// broadcast queues a push for every subscriber. It never blocks on the
// network; a subscriber whose queue is full is dropped.
func (s *Server) broadcast(msgType MessageType, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Printf("server: marshal %s: %v", msgType, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.subscribers {
		select {
		case p.queue <- data:
		default:
			log.Printf("server: dropping %s, %d pushes behind", p.conn.RemoteAddr(), pushQueueSize)
			s.unsubscribeLocked(p)
		}
	}
}

// send marshals and writes a single envelope to a connection.
func (s *Server) send(p *peer, msgType MessageType, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Printf("server: marshal %s: %v", msgType, err)
		return
	}
	if err := p.write(data); err != nil {
		log.Printf("server: write to %s: %v", p.conn.RemoteAddr(), err)
	}
}
