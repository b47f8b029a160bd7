package packet

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Charset converts intake strings between the client encoding and UTF-8.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is the default client charset.
var UTF8 = Charset{name: "utf-8", enc: unicode.UTF8}

// LookupCharset resolves a WHATWG encoding label such as "utf-8", "big5" or
// "shift_jis". An empty name selects UTF-8.
func LookupCharset(name string) (Charset, error) {
	if name == "" {
		return UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return Charset{}, fmt.Errorf("charset %q: %w", name, err)
	}
	canon, err := htmlindex.Name(enc)
	if err != nil {
		canon = name
	}
	return Charset{name: canon, enc: enc}, nil
}

func (c Charset) Name() string {
	if c.enc == nil {
		return UTF8.name
	}
	return c.name
}

func (c Charset) isUTF8() bool { return c.enc == nil || c.enc == unicode.UTF8 }

// Decode converts client bytes to a UTF-8 string. Pure ASCII passes through
// unchanged.
func (c Charset) Decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if c.isUTF8() || isASCII(raw) {
		return string(raw)
	}
	decoded, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// Encode converts a UTF-8 string to client bytes.
func (c Charset) Encode(s string) []byte {
	if c.isUTF8() || isASCII([]byte(s)) {
		return []byte(s)
	}
	encoded, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return encoded
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
