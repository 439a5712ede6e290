package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// inboundFrame is {op, t?, s?, d} as received from the gateway
type inboundFrame struct {
	Op int             `json:"op"`
	T  *string         `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// outboundFrame is {op, d} as sent to the gateway
type outboundFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

var errMissingOp = errors.New("frame has no op")

// DecodeEvent parses one inbound gateway frame
func DecodeEvent(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if _, ok := raw["op"]; !ok {
		return nil, errMissingOp
	}

	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Op {
	case OpDispatch:
		if f.T == nil || f.S == nil {
			return nil, fmt.Errorf("dispatch frame without t or s")
		}
		return Dispatch{Sequence: *f.S, Type: *f.T, Data: f.D}, nil
	case OpHello:
		var d helloData
		if err := json.Unmarshal(f.D, &d); err != nil {
			return nil, fmt.Errorf("decode hello: %w", err)
		}
		if d.HeartbeatInterval <= 0 {
			return nil, fmt.Errorf("hello with heartbeat interval %d", d.HeartbeatInterval)
		}
		return Hello{HeartbeatInterval: time.Duration(d.HeartbeatInterval) * time.Millisecond}, nil
	case OpInvalidSession:
		var resumable bool
		if len(f.D) > 0 {
			if err := json.Unmarshal(f.D, &resumable); err != nil {
				return nil, fmt.Errorf("decode invalid session: %w", err)
			}
		}
		return InvalidSession{Resumable: resumable}, nil
	case OpHeartbeatAck:
		return HeartbeatAck{}, nil
	case OpHeartbeat:
		return heartbeatRequest{}, nil
	case OpReconnect:
		return reconnectRequest{}, nil
	}
	return nil, fmt.Errorf("unknown op %d", f.Op)
}

// EncodeEvent renders an event as the frame the gateway would have sent for
// it. Init and TransportError have no wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case Dispatch:
		t, s := ev.Type, ev.Sequence
		data := ev.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		return json.Marshal(inboundFrame{Op: OpDispatch, T: &t, S: &s, D: data})
	case Hello:
		d, _ := json.Marshal(helloData{HeartbeatInterval: ev.HeartbeatInterval.Milliseconds()})
		return json.Marshal(inboundFrame{Op: OpHello, D: d})
	case InvalidSession:
		d, _ := json.Marshal(ev.Resumable)
		return json.Marshal(inboundFrame{Op: OpInvalidSession, D: d})
	case HeartbeatAck:
		return json.Marshal(inboundFrame{Op: OpHeartbeatAck})
	case heartbeatRequest:
		return json.Marshal(inboundFrame{Op: OpHeartbeat})
	case reconnectRequest:
		return json.Marshal(inboundFrame{Op: OpReconnect})
	}
	return nil, fmt.Errorf("event %T has no wire form", ev)
}

// EncodeCommand renders a command as an outbound {op, d} frame
func EncodeCommand(c Command) ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil command")
	}
	return json.Marshal(outboundFrame{Op: c.Op(), D: c})
}

// DecodeCommand parses an outbound frame back into its command
func DecodeCommand(data []byte) (Command, error) {
	var f struct {
		Op *int            `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if f.Op == nil {
		return nil, errMissingOp
	}

	var c Command
	switch *f.Op {
	case OpHeartbeat:
		var h Heartbeat
		if err := json.Unmarshal(nullIfEmpty(f.D), &h); err != nil {
			return nil, fmt.Errorf("decode heartbeat: %w", err)
		}
		return h, nil
	case OpIdentify:
		c = &Identify{}
	case OpResume:
		c = &Resume{}
	case OpRequestGuildMembers:
		c = &RequestGuildMembers{}
	case OpUpdateSubscriptions:
		c = &UpdateSubscriptions{}
	default:
		return nil, fmt.Errorf("unknown command op %d", *f.Op)
	}
	if err := json.Unmarshal(nullIfEmpty(f.D), c); err != nil {
		return nil, fmt.Errorf("decode op %d: %w", *f.Op, err)
	}

	switch c := c.(type) {
	case *Identify:
		return *c, nil
	case *Resume:
		return *c, nil
	case *RequestGuildMembers:
		return *c, nil
	case *UpdateSubscriptions:
		return *c, nil
	}
	return c, nil
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
