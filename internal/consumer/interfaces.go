package consumer

import (
	"github.com/Heurr/pps-sub000/internal/message"
)

// MessageParser defines the interface for decoding the envelope of a raw message
type MessageParser interface {
	Parse(body []byte) (*message.Header, error)
}
