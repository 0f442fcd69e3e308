// Package message decodes the push feed and the REST bodies at the boundary,
// so the rest of the pipeline only sees typed values.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yitech/stockview/model/candle"
)

// Kind tags a push message.
type Kind int

const (
	Unknown Kind = iota
	Initial
	Update
)

func (k Kind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Update:
		return "update"
	default:
		return "unknown"
	}
}

func kindOf(tag string) Kind {
	switch tag {
	case "initial":
		return Initial
	case "update":
		return Update
	default:
		return Unknown
	}
}

// Envelope is the push message as it appears on the wire.
type Envelope struct {
	Type string           `json:"type"`
	Data candle.RawSeries `json:"data"`
}

// Message is a decoded push message. Series is nil for the Unknown arm.
type Message struct {
	Kind   Kind
	Series *candle.Series
}

// Decode turns one push frame into a Message. Untagged or unknown frames come
// back as Kind Unknown with a nil error so callers can drop them; frames that
// fail to parse return an error.
func Decode(frame []byte, loc *time.Location) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, fmt.Errorf("message: decode: %w", err)
	}
	kind := kindOf(env.Type)
	if kind == Unknown {
		return Message{Kind: Unknown}, nil
	}
	s, err := candle.Parse(env.Data, candle.Minute5, loc)
	if err != nil {
		return Message{}, fmt.Errorf("message: %s payload: %w", kind, err)
	}
	return Message{Kind: kind, Series: s}, nil
}

// Encode renders a series as a push frame.
func Encode(kind Kind, s *candle.Series) ([]byte, error) {
	if kind == Unknown {
		return nil, fmt.Errorf("message: encode: unknown kind")
	}
	return json.Marshal(Envelope{Type: kind.String(), Data: s.Raw()})
}

// ErrorBody is the error surface of the REST endpoints.
type ErrorBody struct {
	Error string `json:"error"`
}
