// Package protocol owns the MLLP wire contract and its error taxonomy.
//
// Ownership boundary:
// - envelope control bytes
// - frame codec and socket reader/writer (frame)
// - HL7 acknowledgement generation/classification (hl7)
// - connection configuration and socket lifecycle (session)
package protocol
