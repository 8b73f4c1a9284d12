package protocol

// Envelope control bytes. A frame is StartOfBlock payload EndOfBlock EndOfData.
const (
	StartOfBlock byte = 0x0B
	EndOfBlock   byte = 0x1C
	EndOfData    byte = 0x0D

	// SegmentDelimiter terminates every HL7 segment.
	SegmentDelimiter byte = 0x0D
	// MessageTerminator is tolerated after segments by some senders.
	MessageTerminator byte = 0x0A
)

// Phase names where a timeout happened.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseMidFrame Phase = "mid-frame"
	PhaseAck      Phase = "ack"
)
