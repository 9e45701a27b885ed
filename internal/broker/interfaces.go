package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by a source whose underlying connection went away
var ErrClosed = errors.New("broker source closed")

// Source defines the interface for pulling entity messages from one broker queue
type Source interface {
	// Receive returns up to max messages, waiting for the first one at most
	// for the source's configured wait time. An empty slice is not an error.
	Receive(ctx context.Context, max int) ([]*Message, error)

	// Name identifies the underlying queue in logs
	Name() string
}

// Publisher defines the interface for publishing documents to the broker
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Message is a raw broker message with acknowledgment callbacks
type Message struct {
	ID   string
	Body []byte
	ack  func(context.Context) error
	nack func(context.Context) error
}

// NewMessage creates a message settled through the given callbacks
func NewMessage(id string, body []byte, ack, nack func(context.Context) error) *Message {
	return &Message{
		ID:   id,
		Body: body,
		ack:  ack,
		nack: nack,
	}
}

// Ack removes the message from the broker
func (m *Message) Ack(ctx context.Context) error {
	if m.ack != nil {
		return m.ack(ctx)
	}
	return nil
}

// Nack hands the message back to the broker for redelivery
func (m *Message) Nack(ctx context.Context) error {
	if m.nack != nil {
		return m.nack(ctx)
	}
	return nil
}
