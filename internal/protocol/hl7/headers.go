package hl7

import (
	"strings"
)

// Header keys attached to a received exchange.
const (
	HeaderSendingApplication   = "sending_application"
	HeaderSendingFacility      = "sending_facility"
	HeaderReceivingApplication = "receiving_application"
	HeaderReceivingFacility    = "receiving_facility"
	HeaderTimestamp            = "timestamp"
	HeaderSecurity             = "security"
	HeaderMessageType          = "message_type"
	HeaderEventType            = "event_type"
	HeaderTriggerEvent         = "trigger_event"
	HeaderMessageControlID     = "message_control_id"
	HeaderProcessingID         = "processing_id"
	HeaderVersionID            = "version_id"
	HeaderCharset              = "charset"
)

// mshHeaders is keyed by MSH field number.
var mshHeaders = map[int]string{
	3:  HeaderSendingApplication,
	4:  HeaderSendingFacility,
	5:  HeaderReceivingApplication,
	6:  HeaderReceivingFacility,
	7:  HeaderTimestamp,
	8:  HeaderSecurity,
	9:  HeaderMessageType,
	10: HeaderMessageControlID,
	11: HeaderProcessingID,
	12: HeaderVersionID,
	18: HeaderCharset,
}

// ExtractHeaders decodes message with cs and returns the MSH header fields.
// configuredCharset, when set, overrides the MSH-18 value. A message without
// an MSH segment yields an empty map.
func ExtractHeaders(message []byte, cs Charset, configuredCharset string) map[string]string {
	out := make(map[string]string)
	text, err := cs.Decode(message)
	if err != nil || len(text) < 8 || !strings.HasPrefix(text, "MSH") {
		return out
	}
	runes := []rune(text)
	if len(runes) < 5 {
		return out
	}
	fs := string(runes[3])
	compSep := string(runes[4])

	segment := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		segment = text[:i]
	}
	parts := strings.Split(segment, fs)
	// parts[0] is "MSH" and parts[1] is MSH-2, so MSH-n is parts[n-1].
	for n, key := range mshHeaders {
		if n-1 >= len(parts) {
			continue
		}
		value := parts[n-1]
		if n == 18 && strings.TrimSpace(configuredCharset) != "" {
			value = configuredCharset
		}
		out[key] = value
		if n == 9 {
			comps := strings.SplitN(value, compSep, 3)
			out[HeaderEventType] = comps[0]
			if len(comps) >= 2 {
				out[HeaderTriggerEvent] = comps[1]
			}
		}
	}
	return out
}

// MessageControlID returns MSH-10, or "" when absent.
func MessageControlID(message []byte) string {
	return ExtractHeaders(message, DefaultCharset(), "")[HeaderMessageControlID]
}
