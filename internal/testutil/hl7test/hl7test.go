// Package hl7test holds HL7 message fixtures shared by tests.
package hl7test

import "fmt"

// OrderMessage is an ORM^O01 with control ID 00001.
const OrderMessage = "MSH|^~\\&|REQUESTING|ICE|INHOUSE|RTH00|20161206193919||ORM^O01|00001|D|2.3|||||||\r" +
	"PID|1||ICE999999^^^ICE^ICE||Testpatient^Testy^^^Mr||19740401|M|||123 Barrel Drive^^^^SW18 4RT|||||2||||||||||||||\r" +
	"NTE|1||Free text for entering clinical details|\r" +
	"PV1|1||^^^^^^^^Admin Location|||||||||||||||NHS|\r" +
	"ORC|NW|213||175|REQ||||20080808093202|ahsl^^Administrator||G999999^TestDoctor^GPtests^^^^^^NAT|^^^^^^^^Admin Location | 819600|200808080932||RTH00||ahsl^^Administrator||\r" +
	"OBR|1|213||CCOR^Serum Cortisol ^ JRH06|||200808080932||0.100||||||^|G999999^TestDoctor^GPtests^^^^^^NAT|819600|ADM162||||||820|||^^^^^R||||||||\r"

// Message builds a minimal ADT^A01 with the given control ID.
func Message(controlID string) []byte {
	return []byte(fmt.Sprintf(
		"MSH|^~\\&|A|B|C|D|20240101120000||ADT^A01|%s|P|2.5|||||||\rPID|1||%s||Doe^John\r",
		controlID, controlID,
	))
}

// Ack builds an acknowledgement with code and control ID.
func Ack(code, controlID string) []byte {
	return []byte(fmt.Sprintf(
		"MSH|^~\\&|C|D|A|B|20240101120001||ACK^A01|%sA|P|2.5\rMSA|%s|%s\r",
		controlID, code, controlID,
	))
}
