package pactmodel

import (
	"mime"
	"strings"

	"github.com/pkg/errors"
)

// ContentType is a parsed MIME type with its parameters.
type ContentType struct {
	MediaType  string
	Parameters map[string]string
}

// ParseContentType parses a Content-Type header value.
func ParseContentType(value string) (ContentType, error) {
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return ContentType{}, errors.Wrapf(err, "unable to parse content type %q", value)
	}
	return ContentType{MediaType: mediaType, Parameters: params}, nil
}

func (c ContentType) String() string {
	if len(c.Parameters) == 0 {
		return c.MediaType
	}
	return mime.FormatMediaType(c.MediaType, c.Parameters)
}

// Base returns the media type without parameters.
func (c ContentType) Base() string {
	return c.MediaType
}

// IsJSON reports whether the media type carries a JSON payload, including
// suffixed types such as application/hal+json.
func (c ContentType) IsJSON() bool {
	return c.MediaType == "application/json" ||
		strings.HasSuffix(c.MediaType, "+json") ||
		strings.HasPrefix(c.MediaType, "application/json")
}

// IsXML reports whether the media type carries an XML payload.
func (c ContentType) IsXML() bool {
	return c.MediaType == "application/xml" || c.MediaType == "text/xml" ||
		strings.HasSuffix(c.MediaType, "+xml")
}

// IsText reports whether the payload is textual.
func (c ContentType) IsText() bool {
	return strings.HasPrefix(c.MediaType, "text/") || c.IsJSON() || c.IsXML() ||
		c.MediaType == "application/x-www-form-urlencoded"
}

// Matches reports whether the actual type is acceptable for this expected
// type: media types must be equal and every expected parameter must be
// present in the actual with the same value. Extra actual parameters are
// allowed.
func (c ContentType) Matches(actual ContentType) bool {
	if !strings.EqualFold(c.MediaType, actual.MediaType) {
		return false
	}
	for k, v := range c.Parameters {
		av, ok := actual.Parameters[strings.ToLower(k)]
		if !ok {
			av, ok = actual.Parameters[k]
		}
		if !ok || !strings.EqualFold(v, av) {
			return false
		}
	}
	return true
}

// Equivalent reports whether two types share the same media type, compared
// case-insensitively and ignoring parameters. A +suffix type such as
// application/hal+json is not equivalent to application/json.
func (c ContentType) Equivalent(other ContentType) bool {
	return strings.EqualFold(c.MediaType, other.MediaType)
}
