package bench

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"thrustrig/datasheet"
)

// ErrClosed is returned by requests on a closed client.
var ErrClosed = errors.New("client closed")

// Client talks to a bench server. Requests block until the server answers.
// After Subscribe, status and point pushes arrive on StatusCh and PointCh.
type Client struct {
	conn    net.Conn
	addr    string
	scanner *bufio.Scanner

	// StatusCh delivers status pushes. Only the latest is kept if the
	// reader falls behind.
	StatusCh chan StatusPayload

	// PointCh delivers recorded points in order.
	PointCh chan datasheet.Point

	// ErrCh delivers disconnects and shutdown notices.
	ErrCh chan error

	// Timeout bounds each request.
	Timeout time.Duration

	replies chan *Envelope

	reqMu  sync.Mutex
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial connects to the bench server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to bench at %s (is `rigctl serve` running?): %w", addr, err)
	}
	c := &Client{
		conn:     conn,
		addr:     addr,
		scanner:  bufio.NewScanner(conn),
		StatusCh: make(chan StatusPayload, 16),
		PointCh:  make(chan datasheet.Point, 1024),
		ErrCh:    make(chan error, 4),
		Timeout:  5 * time.Second,
		replies:  make(chan *Envelope, 4),
		done:     make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, 4*1024*1024), 4*1024*1024)
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Printf("client: malformed message: %v", err)
			continue
		}

		switch env.Type {
		case MsgStatus:
			var payload StatusPayload
			if err := env.DecodePayload(&payload); err != nil {
				log.Printf("client: decode status: %v", err)
				continue
			}
			select {
			case c.StatusCh <- payload:
			default:
				select {
				case <-c.StatusCh:
				default:
				}
				c.StatusCh <- payload
			}

		case MsgPoint:
			var p datasheet.Point
			if err := env.DecodePayload(&p); err != nil {
				log.Printf("client: decode point: %v", err)
				continue
			}
			select {
			case c.PointCh <- p:
			default:
				log.Printf("client: point channel full, dropping point at %dms", p.ElapsedMs)
			}

		case MsgRunResponse, MsgAck, MsgPoints:
			select {
			case c.replies <- &env:
			default:
				log.Printf("client: dropping unrequested %s", env.Type)
			}

		case MsgShutdownNotice:
			var payload ShutdownNoticePayload
			env.DecodePayload(&payload)
			c.ErrCh <- fmt.Errorf("bench shutting down: %s", payload.Reason)
			return

		default:
			log.Printf("client: unexpected message type: %s", env.Type)
		}
	}

	if err := c.scanner.Err(); err != nil {
		c.ErrCh <- fmt.Errorf("connection error: %w", err)
	} else {
		c.ErrCh <- fmt.Errorf("bench disconnected")
	}
}

// request sends one message and, if want is not empty, waits for the reply of
// that type.
func (c *Client) request(msgType MessageType, payload any, want MessageType) (*Envelope, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// Discard replies to requests that timed out.
	for len(c.replies) > 0 {
		<-c.replies
	}
	if err := c.write(msgType, payload); err != nil {
		return nil, err
	}
	if want == "" {
		return nil, nil
	}

	t := time.NewTimer(c.Timeout)
	defer t.Stop()
	select {
	case env := <-c.replies:
		if env.Type != want {
			return nil, fmt.Errorf("%s: unexpected reply %s", msgType, env.Type)
		}
		return env, nil
	case <-c.done:
		return nil, fmt.Errorf("%s: connection closed", msgType)
	case <-t.C:
		return nil, fmt.Errorf("%s: no reply within %v", msgType, c.Timeout)
	}
}

func (c *Client) write(msgType MessageType, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	data, err := encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Subscribe asks for status and point pushes.
func (c *Client) Subscribe() error {
	_, err := c.request(MsgSubscribe, SubscribeRequest{}, "")
	return err
}

// Run starts a registered script or a script file on the server's machine and
// returns the script ID.
func (c *Client) Run(script string) (string, error) {
	return c.run(RunRequest{Script: script})
}

// RunSource starts the given script text.
func (c *Client) RunSource(src string) (string, error) {
	return c.run(RunRequest{Source: src})
}

func (c *Client) run(req RunRequest) (string, error) {
	env, err := c.request(MsgRunRequest, req, MsgRunResponse)
	if err != nil {
		return "", err
	}
	var resp RunResponse
	if err := env.DecodePayload(&resp); err != nil {
		return "", fmt.Errorf("decode run response: %w", err)
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.ScriptID, nil
}

func (c *Client) Cancel() error {
	return c.ackRequest(MsgCancelRequest, CancelRequest{})
}

func (c *Client) SetThrottle(percent int) error {
	return c.ackRequest(MsgThrottleRequest, ThrottleRequest{Percent: percent})
}

// Zero zeroes channel, or every channel if channel is empty.
func (c *Client) Zero(channel string) error {
	return c.ackRequest(MsgZeroRequest, ZeroRequest{Channel: channel})
}

func (c *Client) ackRequest(msgType MessageType, payload any) error {
	env, err := c.request(msgType, payload, MsgAck)
	if err != nil {
		return err
	}
	var ack AckPayload
	if err := env.DecodePayload(&ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if ack.Error != "" {
		return errors.New(ack.Error)
	}
	return nil
}

// Points fetches every point recorded by the last run.
func (c *Client) Points() ([]datasheet.Point, error) {
	env, err := c.request(MsgPointsRequest, PointsRequest{}, MsgPoints)
	if err != nil {
		return nil, err
	}
	var payload PointsPayload
	if err := env.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	return payload.Points, nil
}

// Close disconnects from the server.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	c.mu.Unlock()
	<-c.done
	return err
}
