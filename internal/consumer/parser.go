package consumer

import (
	"github.com/Heurr/pps-sub000/internal/message"
)

// JSONEnvelopeParser implements MessageParser for JSON entity messages
type JSONEnvelopeParser struct{}

// NewJSONEnvelopeParser creates a new JSON envelope parser
func NewJSONEnvelopeParser() *JSONEnvelopeParser {
	return &JSONEnvelopeParser{}
}

// Parse decodes id, version, action and country code without validating the
// rest of the body
func (p *JSONEnvelopeParser) Parse(body []byte) (*message.Header, error) {
	header, err := message.ParseHeader(body)
	if err != nil {
		return nil, err
	}
	return &header, nil
}
