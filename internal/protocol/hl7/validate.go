package hl7

import (
	"bytes"
	"fmt"

	"github.com/danmuck/mllp/internal/protocol"
)

// InvalidPayloadReason explains why payload is not a well-formed HL7
// message, or returns "" when it is. The reason never quotes payload bytes;
// they travel on the error and render only with sensitive logging enabled.
func InvalidPayloadReason(payload []byte) string {
	if len(payload) == 0 {
		return "HL7 payload is empty"
	}
	if !bytes.HasPrefix(payload, []byte("MSH")) {
		return "The first segment of the HL7 payload is not an MSH segment"
	}
	for i, b := range payload {
		switch b {
		case protocol.StartOfBlock:
			return fmt.Sprintf("HL7 payload contains an embedded START_OF_BLOCK {0x%x, ASCII <VT>} at index %d", b, i)
		case protocol.EndOfBlock:
			return fmt.Sprintf("HL7 payload contains an embedded END_OF_BLOCK {0x%x, ASCII <FS>} at index %d", b, i)
		}
	}
	last := payload[len(payload)-1]
	if last != protocol.SegmentDelimiter && last != protocol.MessageTerminator {
		return fmt.Sprintf(
			"The HL7 payload terminating byte [0x%x] is incorrect - expected [0x%x]  {ASCII [<CR>]}",
			last, protocol.SegmentDelimiter,
		)
	}
	return ""
}

// Validate returns an invalid-message error when payload is malformed.
func Validate(payload []byte) error {
	if reason := InvalidPayloadReason(payload); reason != "" {
		return protocol.NewInvalidMessage(reason, payload)
	}
	return nil
}

// ValidateAck checks that ack carries an MSA segment with a known code.
func ValidateAck(message, ack []byte) error {
	if reason := InvalidPayloadReason(ack); reason != "" {
		return protocol.NewInvalidAck(reason, message, ack)
	}
	raw, err := FindAckCode(ack)
	if err != nil {
		return protocol.NewInvalidAck(err.Error(), message, ack)
	}
	if _, ok := ParseAckCode(raw); !ok {
		return protocol.NewInvalidAck(fmt.Sprintf("unknown acknowledgement code %q", raw), message, ack)
	}
	return nil
}
