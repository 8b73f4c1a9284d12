// Package hl7 reads and writes the few HL7 v2 fields the MLLP engine needs:
// the MSH header, the MSA acknowledgement code and the MSH-18 charset.
//
// Classification scans raw bytes and assumes the segment delimiter, the
// field separator and the MSA code are single-byte characters. Messages in
// UTF-16 ("UNICODE") are not classified; header extraction decodes through
// the resolved charset first and is not subject to that restriction.
package hl7
