package hl7

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/mllp/internal/protocol"
)

// AckCode is the MSA-1 acknowledgement code.
type AckCode string

const (
	ApplicationAccept AckCode = "AA"
	ApplicationError  AckCode = "AE"
	ApplicationReject AckCode = "AR"
	CommitAccept      AckCode = "CA"
	CommitError       AckCode = "CE"
	CommitReject      AckCode = "CR"
)

// TimestampLayout is the MSH-7 layout written into generated acknowledgements.
const TimestampLayout = "20060102150405.000-0700"

func (c AckCode) Valid() bool {
	switch c {
	case ApplicationAccept, ApplicationError, ApplicationReject, CommitAccept, CommitError, CommitReject:
		return true
	}
	return false
}

// Accept reports whether the code is AA or CA.
func (c AckCode) Accept() bool {
	return c == ApplicationAccept || c == CommitAccept
}

// ParseAckCode normalizes s into a known code.
func ParseAckCode(s string) (AckCode, bool) {
	c := AckCode(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// GenerateAck builds an acknowledgement for message with the given code.
// text, when non-empty, becomes MSA-3 as UTF-8.
func GenerateAck(message []byte, code AckCode, text string) ([]byte, error) {
	return generateAckAt(message, code, text, Charset{}, time.Now())
}

// GenerateAckIn is GenerateAck with MSA-3 encoded in cs, the charset the
// message was received in. Runes cs cannot represent become '?'.
func GenerateAckIn(message []byte, code AckCode, text string, cs Charset) ([]byte, error) {
	return generateAckAt(message, code, text, cs, time.Now())
}

func generateAckAt(message []byte, code AckCode, text string, cs Charset, now time.Time) ([]byte, error) {
	if !code.Valid() {
		return nil, protocol.NewAckGeneration(fmt.Sprintf("unknown acknowledgement code %q", code), message)
	}
	if len(message) < 8 || !bytes.HasPrefix(message, []byte("MSH")) {
		return nil, protocol.NewAckGeneration("message does not start with an MSH segment", message)
	}
	fs := message[3]
	comp := message[4]

	end := bytes.IndexByte(message, protocol.SegmentDelimiter)
	if end < 0 {
		end = len(message)
	}
	fields := bytes.Split(message[:end], []byte{fs})
	if len(fields) < 12 {
		return nil, protocol.NewAckGeneration(
			fmt.Sprintf("MSH segment has %d fields, need at least 12", len(fields)),
			message,
		)
	}

	msgType := []byte("ACK")
	if comps := bytes.Split(fields[8], []byte{comp}); len(comps) > 1 {
		msgType = append(msgType, comp)
		msgType = append(msgType, comps[1]...)
	}
	controlID := fields[9]

	var b bytes.Buffer
	b.Grow(end + 64)
	sep := func() { b.WriteByte(fs) }

	b.WriteString("MSH")
	sep()
	b.Write(fields[1])
	sep()
	b.Write(fields[4])
	sep()
	b.Write(fields[5])
	sep()
	b.Write(fields[2])
	sep()
	b.Write(fields[3])
	sep()
	b.WriteString(now.Format(TimestampLayout))
	sep()
	sep()
	b.Write(msgType)
	sep()
	b.Write(controlID)
	b.WriteByte('A')
	for _, f := range fields[10:] {
		sep()
		b.Write(f)
	}
	b.WriteByte(protocol.SegmentDelimiter)

	b.WriteString("MSA")
	sep()
	b.WriteString(string(code))
	sep()
	b.Write(controlID)
	if text = SanitizeText(text, fs, message[4:8]); text != "" {
		sep()
		b.Write(encodeText(cs, text))
	}
	b.WriteByte(protocol.SegmentDelimiter)
	return b.Bytes(), nil
}

func encodeText(cs Charset, text string) []byte {
	if out, err := cs.Encode(text); err == nil {
		return out
	}
	return []byte(strings.Map(func(r rune) rune {
		if r >= 0x80 {
			return '?'
		}
		return r
	}, text))
}

// SanitizeText strips segment, field and encoding characters from free text
// so it can sit in a single HL7 field.
func SanitizeText(text string, fs byte, encoding []byte) string {
	if text == "" {
		return ""
	}
	drop := string(append([]byte{fs, protocol.SegmentDelimiter, protocol.MessageTerminator}, encoding...))
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x80 && strings.ContainsRune(drop, r) {
			return ' '
		}
		return r
	}, text))
}

// FindAckCode locates the MSA segment in ack and returns its code bytes
// without interpreting them.
func FindAckCode(ack []byte) (string, error) {
	if len(ack) < 4 {
		return "", fmt.Errorf("acknowledgement too short (%d bytes)", len(ack))
	}
	fs := ack[3]
	for i := 0; i < len(ack); i++ {
		if ack[i] != protocol.SegmentDelimiter {
			continue
		}
		// i+1..i+3 = "MSA", i+4 = field separator, i+5..i+6 = code.
		if i+4 >= len(ack) {
			break
		}
		if ack[i+1] != 'M' || ack[i+2] != 'S' || ack[i+3] != 'A' || ack[i+4] != fs {
			continue
		}
		if i+6 >= len(ack) {
			return "", fmt.Errorf("MSA segment truncated at index %d", i+1)
		}
		return string(ack[i+5 : i+7]), nil
	}
	return "", fmt.Errorf("MSA segment not found")
}

// ClassifyAck reads the MSA code of ack. Accept codes return a nil error;
// error and reject codes return the matching negative-ack error; anything
// else is an invalid acknowledgement. The code is returned whenever one was
// recognized.
func ClassifyAck(message, ack []byte) (AckCode, error) {
	raw, err := FindAckCode(ack)
	if err != nil {
		return "", protocol.NewInvalidAck(err.Error(), message, ack)
	}
	code := AckCode(raw)
	switch code {
	case ApplicationAccept, CommitAccept:
		return code, nil
	case ApplicationError:
		return code, protocol.NewApplicationErrorAck(message, ack)
	case ApplicationReject:
		return code, protocol.NewApplicationRejectAck(message, ack)
	case CommitError:
		return code, protocol.NewCommitErrorAck(message, ack)
	case CommitReject:
		return code, protocol.NewCommitRejectAck(message, ack)
	default:
		return "", protocol.NewInvalidAck(fmt.Sprintf("unknown acknowledgement code %q", raw), message, ack)
	}
}
