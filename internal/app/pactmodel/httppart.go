package pactmodel

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// QueryValue is one value of a query parameter. Missing set means the
// parameter was present with no value, e.g. "?flag"; Value is then empty.
type QueryValue struct {
	Value   string
	Missing bool
}

// StringValue wraps a concrete query value.
func StringValue(s string) QueryValue {
	return QueryValue{Value: s}
}

// NoValue is a parameter present without a value.
func NoValue() QueryValue {
	return QueryValue{Missing: true}
}

// Request is the request half of an HTTP interaction.
type Request struct {
	Method        string
	Path          string
	Query         map[string][]QueryValue
	Headers       map[string][]string
	Body          OptionalBody
	MatchingRules *MatchingRules
	Generators    *Generators
}

// Response is the response half of an HTTP interaction.
type Response struct {
	Status        int
	Headers       map[string][]string
	Body          OptionalBody
	MatchingRules *MatchingRules
	Generators    *Generators
}

// NewRequest returns a GET / request with empty rule sets.
func NewRequest() Request {
	return Request{
		Method:        "GET",
		Path:          "/",
		Query:         map[string][]QueryValue{},
		Headers:       map[string][]string{},
		Body:          MissingBody(),
		MatchingRules: NewMatchingRules(),
		Generators:    NewGenerators(),
	}
}

// NewResponse returns a 200 response with empty rule sets.
func NewResponse() Response {
	return Response{
		Status:        200,
		Headers:       map[string][]string{},
		Body:          MissingBody(),
		MatchingRules: NewMatchingRules(),
		Generators:    NewGenerators(),
	}
}

// HeaderValue returns the first value of a header, case-insensitively.
func HeaderValue(headers map[string][]string, name string) (string, bool) {
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// ResolveContentType determines the effective content type of a part from
// its headers and body.
func ResolveContentType(headers map[string][]string, body OptionalBody) ContentType {
	if raw, ok := HeaderValue(headers, "Content-Type"); ok {
		if ct, err := ParseContentType(raw); err == nil {
			return ct
		}
	}
	return body.DetectContentType()
}

// ParseQueryString decodes a V2 query string like "a=1&b=2&flag" into the
// query map, preserving value order per name.
func ParseQueryString(raw string) map[string][]QueryValue {
	out := map[string][]QueryValue{}
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			name, _ := url.QueryUnescape(pair)
			out[name] = append(out[name], NoValue())
			continue
		}
		name, _ := url.QueryUnescape(pair[:eq])
		value, _ := url.QueryUnescape(pair[eq+1:])
		out[name] = append(out[name], StringValue(value))
	}
	return out
}

// EncodeQueryString renders the query map back to its wire form with names
// sorted for stable output.
func EncodeQueryString(query map[string][]QueryValue) string {
	names := make([]string, 0, len(query))
	for n := range query {
		names = append(names, n)
	}
	sort.Strings(names)
	var parts []string
	for _, n := range names {
		for _, v := range query[n] {
			if v.Missing {
				parts = append(parts, url.QueryEscape(n))
			} else {
				parts = append(parts, url.QueryEscape(n)+"="+url.QueryEscape(v.Value))
			}
		}
	}
	return strings.Join(parts, "&")
}

func parseQueryJSON(v interface{}) (map[string][]QueryValue, error) {
	out := map[string][]QueryValue{}
	switch q := v.(type) {
	case nil:
		return out, nil
	case string:
		return ParseQueryString(q), nil
	case map[string]interface{}:
		for name, raw := range q {
			switch vals := raw.(type) {
			case string:
				out[name] = []QueryValue{StringValue(vals)}
			case nil:
				out[name] = []QueryValue{NoValue()}
			case []interface{}:
				list := make([]QueryValue, 0, len(vals))
				for _, item := range vals {
					if item == nil {
						list = append(list, NoValue())
						continue
					}
					s, ok := item.(string)
					if !ok {
						return nil, errors.Errorf("query parameter %q has a non-string value %v", name, item)
					}
					list = append(list, StringValue(s))
				}
				out[name] = list
			default:
				return nil, errors.Errorf("query parameter %q has unsupported value %v", name, raw)
			}
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported query representation %v", v)
}

func queryToJSON(query map[string][]QueryValue, version SpecVersion) interface{} {
	if len(query) == 0 {
		return nil
	}
	if version < V3 {
		return EncodeQueryString(query)
	}
	out := map[string]interface{}{}
	for name, vals := range query {
		list := make([]interface{}, 0, len(vals))
		for _, v := range vals {
			if v.Missing {
				list = append(list, nil)
			} else {
				list = append(list, v.Value)
			}
		}
		out[name] = list
	}
	return out
}

func parseHeadersJSON(v interface{}) (map[string][]string, error) {
	out := map[string][]string{}
	switch h := v.(type) {
	case nil:
		return out, nil
	case map[string]interface{}:
		for name, raw := range h {
			switch val := raw.(type) {
			case string:
				out[name] = ParseHeaderValue(name, val)
			case []interface{}:
				for _, item := range val {
					s, ok := item.(string)
					if !ok {
						return nil, errors.Errorf("header %q has a non-string value %v", name, item)
					}
					out[name] = append(out[name], s)
				}
			default:
				return nil, errors.Errorf("header %q has unsupported value %v", name, raw)
			}
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported headers representation %v", v)
}

func headersToJSON(headers map[string][]string, version SpecVersion) interface{} {
	if len(headers) == 0 {
		return nil
	}
	out := map[string]interface{}{}
	for name, vals := range headers {
		if version < V3 || len(vals) == 1 {
			out[name] = strings.Join(vals, ", ")
		} else {
			list := make([]interface{}, 0, len(vals))
			for _, v := range vals {
				list = append(list, v)
			}
			out[name] = list
		}
	}
	return out
}

// parseBodyJSON decodes the pre-V4 body: any JSON value, inlined.
func parseBodyJSON(v interface{}, present bool, contentType string) (OptionalBody, error) {
	if !present {
		return MissingBody(), nil
	}
	switch val := v.(type) {
	case nil:
		return NullBody(), nil
	case string:
		if val == "" {
			return OptionalBody{State: BodyEmpty, ContentType: contentType}, nil
		}
		return PresentBody([]byte(val), contentType), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return MissingBody(), errors.Wrap(err, "unable to re-encode body")
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return PresentBody(raw, contentType), nil
	}
}

// parseV4BodyJSON decodes the V4 body object {"content": ..., "contentType":
// ..., "encoded": false|"base64", "contentTypeHint": ...}.
func parseV4BodyJSON(v interface{}) (OptionalBody, error) {
	if v == nil {
		return MissingBody(), nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return MissingBody(), errors.Errorf("V4 body is not an object: %v", v)
	}
	content, hasContent := obj["content"]
	if !hasContent {
		return MissingBody(), nil
	}
	contentType := strAttr(obj, "contentType")
	hint := ParseContentTypeHint(strAttr(obj, "contentTypeHint"))

	var value []byte
	switch c := content.(type) {
	case nil:
		return NullBody(), nil
	case string:
		if c == "" {
			if enc, ok := obj["encoded"].(bool); ok && !enc {
				return OptionalBody{State: BodyEmpty, ContentType: contentType, Hint: hint}, nil
			}
			return NullBody(), nil
		}
		switch enc := obj["encoded"].(type) {
		case string:
			if strings.EqualFold(enc, "base64") {
				decoded, err := base64.StdEncoding.DecodeString(c)
				if err != nil {
					return MissingBody(), errors.Wrap(err, "unable to decode base64 body content")
				}
				value = decoded
			} else if strings.EqualFold(enc, "json") {
				value = []byte(c)
			} else {
				value = []byte(c)
			}
		default:
			value = []byte(c)
		}
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return MissingBody(), errors.Wrap(err, "unable to re-encode V4 body content")
		}
		value = raw
	}
	body := PresentBody(value, contentType)
	body.Hint = hint
	return body, nil
}

func bodyToJSON(body OptionalBody, version SpecVersion) (interface{}, bool) {
	if version >= V4 {
		switch body.State {
		case BodyMissing:
			return nil, false
		case BodyNull:
			return map[string]interface{}{"content": nil}, true
		case BodyEmpty:
			return map[string]interface{}{"content": "", "encoded": false}, true
		}
		out := map[string]interface{}{
			"contentType":     body.DetectContentType().String(),
			"contentTypeHint": body.Hint.String(),
		}
		ct := body.DetectContentType()
		switch {
		case ct.IsJSON() && json.Valid(body.Value):
			var inline interface{}
			if err := json.Unmarshal(body.Value, &inline); err == nil {
				out["content"] = inline
				out["encoded"] = false
				return out, true
			}
			fallthrough
		case !ct.IsText() || body.Hint == HintBinary:
			out["content"] = base64.StdEncoding.EncodeToString(body.Value)
			out["encoded"] = "base64"
		default:
			out["content"] = string(body.Value)
			out["encoded"] = false
		}
		return out, true
	}

	switch body.State {
	case BodyMissing, BodyEmpty:
		return nil, false
	case BodyNull:
		return nil, true
	}
	if body.DetectContentType().IsJSON() && json.Valid(body.Value) {
		var inline interface{}
		if err := json.Unmarshal(body.Value, &inline); err == nil {
			return inline, true
		}
	}
	return string(body.Value), true
}

// ParseRequest decodes a request object of any spec version.
func ParseRequest(raw map[string]interface{}, version SpecVersion) (Request, error) {
	req := NewRequest()
	if m, ok := raw["method"].(string); ok {
		req.Method = strings.ToUpper(m)
	}
	if p, ok := raw["path"].(string); ok {
		req.Path = p
	}
	query, err := parseQueryJSON(raw["query"])
	if err != nil {
		return req, err
	}
	req.Query = query
	headers, err := parseHeadersJSON(raw["headers"])
	if err != nil {
		return req, err
	}
	req.Headers = headers

	contentType := ""
	if ct, ok := HeaderValue(req.Headers, "Content-Type"); ok {
		contentType = ct
	}
	if version >= V4 {
		req.Body, err = parseV4BodyJSON(raw["body"])
	} else {
		body, present := raw["body"]
		req.Body, err = parseBodyJSON(body, present, contentType)
	}
	if err != nil {
		return req, err
	}

	if err := parsePartRules(raw, version, req.MatchingRules, req.Generators); err != nil {
		return req, err
	}
	return req, nil
}

// ParseResponse decodes a response object of any spec version.
func ParseResponse(raw map[string]interface{}, version SpecVersion) (Response, error) {
	res := NewResponse()
	if s, ok := raw["status"].(float64); ok {
		res.Status = int(s)
	}
	headers, err := parseHeadersJSON(raw["headers"])
	if err != nil {
		return res, err
	}
	res.Headers = headers

	contentType := ""
	if ct, ok := HeaderValue(res.Headers, "Content-Type"); ok {
		contentType = ct
	}
	if version >= V4 {
		res.Body, err = parseV4BodyJSON(raw["body"])
	} else {
		body, present := raw["body"]
		res.Body, err = parseBodyJSON(body, present, contentType)
	}
	if err != nil {
		return res, err
	}

	if err := parsePartRules(raw, version, res.MatchingRules, res.Generators); err != nil {
		return res, err
	}
	return res, nil
}

func parsePartRules(raw map[string]interface{}, version SpecVersion, rules *MatchingRules, gens *Generators) error {
	if mr, ok := raw["matchingRules"].(map[string]interface{}); ok {
		var parsed *MatchingRules
		var err error
		if version.NestedRules() {
			parsed, err = ParseV3MatchingRules(mr)
		} else {
			parsed, err = ParseV2MatchingRules(mr)
		}
		if err != nil {
			return err
		}
		*rules = *parsed
	}
	if g, ok := raw["generators"].(map[string]interface{}); ok {
		parsed, err := ParseGenerators(g)
		if err != nil {
			return err
		}
		*gens = *parsed
	}
	return nil
}

// ToJSON encodes the request for the given spec version.
func (r Request) ToJSON(version SpecVersion) map[string]interface{} {
	out := map[string]interface{}{
		"method": strings.ToUpper(r.Method),
		"path":   r.Path,
	}
	if q := queryToJSON(r.Query, version); q != nil {
		out["query"] = q
	}
	if h := headersToJSON(r.Headers, version); h != nil {
		out["headers"] = h
	}
	if body, ok := bodyToJSON(r.Body, version); ok {
		out["body"] = body
	}
	if rules := r.MatchingRules.ToJSON(version); rules != nil && version >= V2 {
		out["matchingRules"] = rules
	}
	if gens := r.Generators.ToJSON(); gens != nil && version >= V3 {
		out["generators"] = gens
	}
	return out
}

// ToJSON encodes the response for the given spec version.
func (r Response) ToJSON(version SpecVersion) map[string]interface{} {
	out := map[string]interface{}{"status": r.Status}
	if h := headersToJSON(r.Headers, version); h != nil {
		out["headers"] = h
	}
	if body, ok := bodyToJSON(r.Body, version); ok {
		out["body"] = body
	}
	if rules := r.MatchingRules.ToJSON(version); rules != nil && version >= V2 {
		out["matchingRules"] = rules
	}
	if gens := r.Generators.ToJSON(); gens != nil && version >= V3 {
		out["generators"] = gens
	}
	return out
}
