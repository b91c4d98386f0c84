package bench

import (
	"encoding/json"

	"thrustrig/config"
	"thrustrig/controller"
	"thrustrig/datasheet"
	"thrustrig/telemetry"
)

// DefaultAddr is the address the bench server listens on and clients connect
// to.
const DefaultAddr = config.DefaultAddr

// MessageType identifies the kind of protocol message.
type MessageType string

const (
	MsgRunRequest      MessageType = "run_request"
	MsgRunResponse     MessageType = "run_response"
	MsgCancelRequest   MessageType = "cancel_request"
	MsgThrottleRequest MessageType = "throttle_request"
	MsgZeroRequest     MessageType = "zero_request"
	MsgPointsRequest   MessageType = "points_request"
	MsgPoints          MessageType = "points"
	MsgAck             MessageType = "ack"
	MsgSubscribe       MessageType = "subscribe"
	MsgStatus          MessageType = "status"
	MsgPoint           MessageType = "point"
	MsgShutdownNotice  MessageType = "shutdown_notice"
)

// Envelope wraps every protocol message. Clients and server exchange
// newline-delimited JSON objects; each must include a "type" field.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RunRequest starts a script. Script is a registered name or a path on the
// server's machine; Source, if set, is run instead.
type RunRequest struct {
	Script string `json:"script,omitempty"`
	Source string `json:"source,omitempty"`
}

type RunResponse struct {
	ScriptID string `json:"script_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CancelRequest struct{}

// ThrottleRequest sets the throttle by hand. Refused while a script runs.
type ThrottleRequest struct {
	Percent int `json:"percent"`
}

// ZeroRequest zeroes one channel, or all of them when Channel is empty.
// Refused while a script runs.
type ZeroRequest struct {
	Channel string `json:"channel,omitempty"`
}

type PointsRequest struct{}

type PointsPayload struct {
	Points []datasheet.Point `json:"points"`
}

// AckPayload answers cancel, throttle and zero requests.
type AckPayload struct {
	Request MessageType `json:"request"`
	Error   string      `json:"error,omitempty"`
}

type SubscribeRequest struct{}

// StatusPayload is pushed to subscribers on every run transition and
// periodically with fresh telemetry.
type StatusPayload struct {
	Run       controller.Status  `json:"run"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
	Scripts   []string           `json:"scripts"`
	Points    int                `json:"points"`
}

type ShutdownNoticePayload struct {
	Reason string `json:"reason"`
}

// NewEnvelope creates an Envelope with the given type and marshalled payload.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:    msgType,
		Payload: json.RawMessage(data),
	}, nil
}

// DecodePayload unmarshals the Envelope's payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// encode renders an envelope as one protocol line.
func encode(msgType MessageType, payload any) ([]byte, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
