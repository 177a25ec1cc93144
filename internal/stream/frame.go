package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the routing class of an inbound frame.
type Kind int

const (
	KindIgnored Kind = iota
	KindTelemetry
	KindAlert
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindAlert:
		return "alert"
	default:
		return "ignored"
	}
}

// Frame is one parsed stream message.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var ErrMalformedFrame = errors.New("malformed frame")

func (f Frame) Kind() Kind {
	switch f.Type {
	case "uplink", "telemetry":
		return KindTelemetry
	case "alert":
		return KindAlert
	default:
		return KindIgnored
	}
}

// ParseFrame decodes the envelope. The payload stays raw; unknown types are
// valid frames with KindIgnored.
func ParseFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Frame{}, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}
