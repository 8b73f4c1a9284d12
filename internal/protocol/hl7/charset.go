package hl7

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

var ErrUnknownCharset = errors.New("hl7: unknown charset")

// DefaultCharsetName applies when neither configuration nor MSH-18 names one.
const DefaultCharsetName = "ISO-8859-1"

// msh18Names maps HL7 table 0211 values to IANA charset names.
var msh18Names = map[string]string{
	"ASCII":          "US-ASCII",
	"8859/1":         "ISO-8859-1",
	"8859/2":         "ISO-8859-2",
	"8859/3":         "ISO-8859-3",
	"8859/4":         "ISO-8859-4",
	"8859/5":         "ISO-8859-5",
	"8859/6":         "ISO-8859-6",
	"8859/7":         "ISO-8859-7",
	"8859/8":         "ISO-8859-8",
	"8859/9":         "ISO-8859-9",
	"8859/15":        "ISO-8859-15",
	"UNICODE UTF-8":  "UTF-8",
	"UNICODE UTF-16": "UTF-16",
	"UNICODE":        "UTF-16",
}

// Charset is a resolved text encoding.
type Charset struct {
	Name     string
	Encoding encoding.Encoding
}

func DefaultCharset() Charset {
	return Charset{Name: DefaultCharsetName, Encoding: charmap.ISO8859_1}
}

// LookupCharset resolves an IANA name (ISO-8859-1, UTF-8, ...) or an MSH-18
// value (8859/1, UNICODE UTF-8, ...).
func LookupCharset(name string) (Charset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Charset{}, fmt.Errorf("%w: empty name", ErrUnknownCharset)
	}
	iana := name
	if mapped, ok := msh18Names[strings.ToUpper(name)]; ok {
		iana = mapped
	}
	enc, err := ianaindex.IANA.Encoding(iana)
	if err != nil || enc == nil {
		return Charset{}, fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
	canonical, err := ianaindex.MIME.Name(enc)
	if err != nil {
		canonical = iana
	}
	return Charset{Name: canonical, Encoding: enc}, nil
}

// ResolveCharset picks the configured charset, then MSH-18, then the default.
// Unknown names fall through to the next source.
func ResolveCharset(configured string, message []byte) Charset {
	if cs, err := LookupCharset(configured); err == nil {
		return cs
	}
	if cs, err := LookupCharset(FindMSH18(message)); err == nil {
		return cs
	}
	return DefaultCharset()
}

// FindMSH18 returns the raw MSH-18 value, or "" when the MSH segment is too
// short to carry it.
func FindMSH18(message []byte) string {
	if len(message) < 4 || !bytes.HasPrefix(message, []byte("MSH")) {
		return ""
	}
	fs := message[3]
	end := bytes.IndexByte(message, '\r')
	if end < 0 {
		end = len(message)
	}
	// MSH-1 is the separator itself, so MSH-n starts after the (n-1)th one.
	seen := 0
	for i := 3; i < end; i++ {
		if message[i] != fs {
			continue
		}
		seen++
		if seen == 17 {
			rest := message[i+1 : end]
			if j := bytes.IndexByte(rest, fs); j >= 0 {
				rest = rest[:j]
			}
			return strings.TrimSpace(string(rest))
		}
	}
	return ""
}

// Decode converts b to UTF-8.
func (c Charset) Decode(b []byte) (string, error) {
	if c.Encoding == nil {
		return string(b), nil
	}
	out, err := c.Encoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Encode converts s from UTF-8 to the charset.
func (c Charset) Encode(s string) ([]byte, error) {
	if c.Encoding == nil {
		return []byte(s), nil
	}
	return c.Encoding.NewEncoder().Bytes([]byte(s))
}
