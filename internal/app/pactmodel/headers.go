package pactmodel

import (
	"strings"
)

// MultiValueHeaders are the headers known to carry multiple comma-separated
// values per RFC 7230/9110. Only these are split on commas; any other header
// keeps its raw value so dates and JSON-encoded values survive intact.
var MultiValueHeaders = []string{
	"accept",
	"accept-charset",
	"accept-encoding",
	"accept-language",
	"accept-ranges",
	"access-control-allow-headers",
	"access-control-allow-methods",
	"access-control-expose-headers",
	"access-control-request-headers",
	"allow",
	"cache-control",
	"connection",
	"content-encoding",
	"content-language",
	"expect",
	"if-match",
	"if-none-match",
	"pragma",
	"proxy-authenticate",
	"te",
	"trailer",
	"transfer-encoding",
	"upgrade",
	"vary",
	"via",
	"warning",
	"www-authenticate",
	"x-forwarded-for",
}

// ParameterisedHeaders are matched by media type plus parameters rather than
// by raw string comparison.
var ParameterisedHeaders = []string{"accept", "content-type"}

// IsMultiValueHeader reports whether the named header may be split on commas.
func IsMultiValueHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range MultiValueHeaders {
		if h == lower {
			return true
		}
	}
	return false
}

// IsParameterisedHeader reports whether the named header is compared as a
// media type.
func IsParameterisedHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range ParameterisedHeaders {
		if h == lower {
			return true
		}
	}
	return false
}

// ParseHeaderValue splits a raw header value into its logical values,
// honouring the multi-value list.
func ParseHeaderValue(name, value string) []string {
	if !IsMultiValueHeader(name) {
		return []string{strings.TrimSpace(value)}
	}
	parts := strings.Split(value, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		values = append(values, strings.TrimSpace(p))
	}
	return values
}
