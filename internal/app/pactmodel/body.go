package pactmodel

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// BodyState is the presence state of an HTTP or message body.
type BodyState int

const (
	// BodyMissing means no body key was present at all.
	BodyMissing BodyState = iota
	// BodyEmpty means an explicit zero-length body.
	BodyEmpty
	// BodyNull means an explicit JSON null body.
	BodyNull
	// BodyPresent means bytes are available.
	BodyPresent
)

// ContentTypeHint lets a caller override content detection for a body.
type ContentTypeHint int

const (
	HintDefault ContentTypeHint = iota
	HintText
	HintBinary
)

func (h ContentTypeHint) String() string {
	switch h {
	case HintText:
		return "TEXT"
	case HintBinary:
		return "BINARY"
	}
	return "DEFAULT"
}

// ParseContentTypeHint maps the V4 JSON form back to a hint.
func ParseContentTypeHint(s string) ContentTypeHint {
	switch s {
	case "TEXT":
		return HintText
	case "BINARY":
		return HintBinary
	}
	return HintDefault
}

// OptionalBody is a body that may be missing, empty, null or present.
type OptionalBody struct {
	State       BodyState
	Value       []byte
	ContentType string
	Hint        ContentTypeHint
}

// MissingBody returns the absent body.
func MissingBody() OptionalBody {
	return OptionalBody{State: BodyMissing}
}

// EmptyBody returns an explicit zero-length body.
func EmptyBody() OptionalBody {
	return OptionalBody{State: BodyEmpty}
}

// NullBody returns an explicit null body.
func NullBody() OptionalBody {
	return OptionalBody{State: BodyNull}
}

// PresentBody wraps bytes with an optional declared content type.
func PresentBody(value []byte, contentType string) OptionalBody {
	if len(value) == 0 {
		return OptionalBody{State: BodyEmpty, ContentType: contentType}
	}
	return OptionalBody{State: BodyPresent, Value: value, ContentType: contentType}
}

// IsPresent reports whether bytes are available.
func (b OptionalBody) IsPresent() bool {
	return b.State == BodyPresent
}

// magic byte prefixes checked during content sniffing, most specific first.
var magicBytes = []struct {
	prefix []byte
	mime   string
}{
	{[]byte("%PDF-"), "application/pdf"},
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, "image/png"},
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte("PK\x03\x04"), "application/zip"},
	{[]byte{0x1f, 0x8b}, "application/gzip"},
	{[]byte("<?xml"), "application/xml"},
}

// DetectContentType resolves the effective content type of the body, in
// order: declared type, caller hint, magic-byte sniffing, then text/plain
// for valid UTF-8 and application/octet-stream otherwise.
func (b OptionalBody) DetectContentType() ContentType {
	if b.ContentType != "" {
		if ct, err := ParseContentType(b.ContentType); err == nil {
			return ct
		}
	}
	switch b.Hint {
	case HintText:
		return ContentType{MediaType: "text/plain"}
	case HintBinary:
		return ContentType{MediaType: "application/octet-stream"}
	}
	return SniffContentType(b.Value)
}

// SniffContentType guesses a media type from the leading bytes of a value.
func SniffContentType(value []byte) ContentType {
	for _, m := range magicBytes {
		if bytes.HasPrefix(value, m.prefix) {
			return ContentType{MediaType: m.mime}
		}
	}
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return ContentType{MediaType: "application/json"}
	}
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return ContentType{MediaType: "application/xml"}
	}
	if utf8.Valid(value) {
		return ContentType{MediaType: "text/plain"}
	}
	return ContentType{MediaType: "application/octet-stream"}
}

func (b OptionalBody) String() string {
	switch b.State {
	case BodyMissing:
		return "Missing"
	case BodyEmpty:
		return "Empty"
	case BodyNull:
		return "Null"
	}
	if utf8.Valid(b.Value) {
		return string(b.Value)
	}
	return "<binary body>"
}
