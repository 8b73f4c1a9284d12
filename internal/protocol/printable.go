package protocol

import (
	"strings"
)

const (
	NullReplacement  = "<null>"
	EmptyReplacement = "<empty>"
)

var printReplacements = map[byte]string{
	StartOfBlock:      "<0x0B VT>",
	EndOfBlock:        "<0x1C FS>",
	SegmentDelimiter:  "<0x0D CR>",
	MessageTerminator: "<0x0A LF>",
	'\t':              "<0x09 TAB>",
}

// PrintFriendly renders control bytes as readable tokens.
func PrintFriendly(b []byte) string {
	return PrintFriendlyBounded(b, 0)
}

// PrintFriendlyBounded renders at most maxBytes input bytes; maxBytes <= 0
// renders everything.
func PrintFriendlyBounded(b []byte, maxBytes int) string {
	if b == nil {
		return NullReplacement
	}
	if len(b) == 0 {
		return EmptyReplacement
	}
	n := len(b)
	if maxBytes > 0 && maxBytes < n {
		n = maxBytes
	}
	var sb strings.Builder
	sb.Grow(n + 16)
	for _, c := range b[:n] {
		if r, ok := printReplacements[c]; ok {
			sb.WriteString(r)
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
