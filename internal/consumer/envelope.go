package consumer

import (
	"context"

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/message"
)

// Envelope pairs a decoded header with the raw broker message it came from
type Envelope struct {
	Header  *message.Header
	message *broker.Message
}

// NewEnvelope creates a new message envelope
func NewEnvelope(header *message.Header, msg *broker.Message) *Envelope {
	return &Envelope{
		Header:  header,
		message: msg,
	}
}

// Body returns the raw payload pushed to the intermediate queue
func (e *Envelope) Body() []byte {
	return e.message.Body
}

// Ack acknowledges successful processing
func (e *Envelope) Ack(ctx context.Context) error {
	return e.message.Ack(ctx)
}

// Nack hands the message back to the broker for redelivery
func (e *Envelope) Nack(ctx context.Context) error {
	return e.message.Nack(ctx)
}
