package matching

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/paths"
)

// BodyCodec compares two bodies of a content-type family under a rule
// context.
type BodyCodec interface {
	Name() string
	Compare(expected, actual []byte, ctx *Context) []Mismatch
}

// CodecFor selects the codec for a resolved content type.
func CodecFor(ct pactmodel.ContentType) BodyCodec {
	switch {
	case ct.IsJSON():
		return jsonCodec{}
	case ct.IsXML():
		return xmlCodec{}
	case ct.Base() == "application/x-www-form-urlencoded":
		return formCodec{}
	case strings.HasPrefix(ct.Base(), "multipart/"):
		return multipartCodec{}
	case ct.IsText():
		return textCodec{}
	}
	return binaryCodec{}
}

type textCodec struct{}

func (textCodec) Name() string { return "text" }

// Compare matches whole strings, honouring any rule attached at the root.
func (textCodec) Compare(expected, actual []byte, ctx *Context) []Mismatch {
	root := paths.RootPath()
	if list, ok := ctx.SelectRules(root); ok {
		var mismatches []Mismatch
		for _, err := range ApplyRuleList(list, root, string(expected), string(actual), ctx) {
			mismatches = append(mismatches, Mismatch{
				Kind: BodyMismatch, Path: "$",
				Expected: string(expected), Actual: string(actual),
				Description: err.Error(),
			})
		}
		return mismatches
	}
	if !bytes.Equal(expected, actual) {
		return []Mismatch{{
			Kind: BodyMismatch, Path: "$",
			Expected: string(expected), Actual: string(actual),
			Description: fmt.Sprintf("expected body %q but received %q", string(expected), string(actual)),
		}}
	}
	return nil
}

type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

// Compare matches bytes exactly unless a ContentType rule at the root
// switches to magic-byte detection.
func (binaryCodec) Compare(expected, actual []byte, ctx *Context) []Mismatch {
	root := paths.RootPath()
	if list, ok := ctx.SelectRules(root); ok {
		var mismatches []Mismatch
		for _, err := range ApplyRuleList(list, root, expected, actual, ctx) {
			mismatches = append(mismatches, Mismatch{
				Kind: BodyMismatch, Path: "$",
				Expected: fmt.Sprintf("%d bytes", len(expected)),
				Actual:   fmt.Sprintf("%d bytes", len(actual)),
				Description: err.Error(),
			})
		}
		return mismatches
	}
	if !bytes.Equal(expected, actual) {
		return []Mismatch{{
			Kind: BodyMismatch, Path: "$",
			Expected:    fmt.Sprintf("%d bytes", len(expected)),
			Actual:      fmt.Sprintf("%d bytes", len(actual)),
			Description: "binary bodies differ",
		}}
	}
	return nil
}

type formCodec struct{}

func (formCodec) Name() string { return "form" }

// Compare parses both bodies as form data and matches them as an object
// of value lists, so body rules like $.name apply per parameter.
func (formCodec) Compare(expected, actual []byte, ctx *Context) []Mismatch {
	expectedForm, err := url.ParseQuery(string(expected))
	if err != nil {
		return []Mismatch{{Kind: BodyMismatch, Path: "$", Expected: string(expected), Actual: string(actual), Description: err.Error()}}
	}
	actualForm, err := url.ParseQuery(string(actual))
	if err != nil {
		return []Mismatch{{Kind: BodyMismatch, Path: "$", Expected: string(expected), Actual: string(actual), Description: err.Error()}}
	}

	var mismatches []Mismatch
	root := paths.RootPath()

	names := make([]string, 0, len(expectedForm))
	for name := range expectedForm {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		expectedValues := expectedForm[name]
		actualValues, present := actualForm[name]
		paramPath := root.Child(name)
		if !present {
			mismatches = append(mismatches, Mismatch{
				Kind: BodyMismatch, Path: paramPath.String(),
				Expected:    strings.Join(expectedValues, ", "),
				Description: fmt.Sprintf("expected form parameter %q but it was missing", name),
			})
			continue
		}
		mismatches = append(mismatches, compareValueLists(BodyMismatch, name, paramPath, expectedValues, actualValues, ctx)...)
	}
	for name, values := range actualForm {
		if _, present := expectedForm[name]; !present {
			mismatches = append(mismatches, Mismatch{
				Kind: BodyMismatch, Path: root.Child(name).String(),
				Actual:      strings.Join(values, ", "),
				Description: fmt.Sprintf("unexpected form parameter %q", name),
			})
		}
	}
	return mismatches
}

// compareValueLists matches two ordered string lists under the rules at
// the list path, used for form parameters.
func compareValueLists(kind MismatchKind, name string, listPath paths.Path, expected, actual []string, ctx *Context) []Mismatch {
	var mismatches []Mismatch
	ruled := ctx.MatcherDefined(listPath)
	if !ruled && len(expected) != len(actual) {
		mismatches = append(mismatches, Mismatch{
			Kind: kind, Path: listPath.String(), Parameter: name,
			Expected:    strings.Join(expected, ", "),
			Actual:      strings.Join(actual, ", "),
			Description: fmt.Sprintf("expected %d values for %q but received %d", len(expected), name, len(actual)),
		})
	}
	if ruled {
		if list, ok := ctx.SelectRules(listPath); ok {
			expectedAny := stringsToAny(expected)
			actualAny := stringsToAny(actual)
			for _, err := range ApplyRuleList(list, listPath, expectedAny, actualAny, ctx) {
				mismatches = append(mismatches, Mismatch{
					Kind: kind, Path: listPath.String(), Parameter: name,
					Expected:    strings.Join(expected, ", "),
					Actual:      strings.Join(actual, ", "),
					Description: err.Error(),
				})
			}
		}
	}
	for i := range actual {
		if i >= len(expected) {
			break
		}
		elemPath := listPath.Elem(i)
		template := expected[i]
		if list, ok := ctx.SelectRules(elemPath); ok {
			for _, err := range ApplyRuleList(list, elemPath, template, actual[i], ctx) {
				mismatches = append(mismatches, Mismatch{
					Kind: kind, Path: elemPath.String(), Parameter: name,
					Expected: template, Actual: actual[i],
					Description: err.Error(),
				})
			}
			continue
		}
		if ruled {
			continue
		}
		if template != actual[i] {
			mismatches = append(mismatches, Mismatch{
				Kind: kind, Path: elemPath.String(), Parameter: name,
				Expected: template, Actual: actual[i],
				Description: fmt.Sprintf("expected %q for %q but received %q", template, name, actual[i]),
			})
		}
	}
	return mismatches
}

func stringsToAny(values []string) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

type multipartCodec struct{}

func (multipartCodec) Name() string { return "multipart" }

// Compare splits both bodies by their MIME boundary and matches each
// expected part against the actual part of the same name using the part's
// own content-type codec.
func (multipartCodec) Compare(expected, actual []byte, ctx *Context) []Mismatch {
	expectedParts, err := parseMultipart(expected, ctx.expectedBoundary)
	if err != nil {
		return []Mismatch{{Kind: BodyTypeMismatch, Path: "$", Description: err.Error()}}
	}
	actualParts, err := parseMultipart(actual, ctx.actualBoundary)
	if err != nil {
		return []Mismatch{{Kind: BodyTypeMismatch, Path: "$", Description: err.Error()}}
	}

	var mismatches []Mismatch
	for name, expectedPart := range expectedParts {
		actualPart, present := actualParts[name]
		if !present {
			mismatches = append(mismatches, Mismatch{
				Kind: BodyMismatch, Path: "$." + name,
				Expected:    name,
				Description: fmt.Sprintf("expected a part named %q but it was missing", name),
			})
			continue
		}
		expectedCT := pactmodel.SniffContentType(expectedPart.content)
		if expectedPart.contentType != "" {
			if ct, err := pactmodel.ParseContentType(expectedPart.contentType); err == nil {
				expectedCT = ct
			}
		}
		codec := CodecFor(expectedCT)
		mismatches = append(mismatches, codec.Compare(expectedPart.content, actualPart.content, ctx)...)
	}
	return mismatches
}

type multipartPart struct {
	contentType string
	content     []byte
}

func parseMultipart(data []byte, boundary string) (map[string]multipartPart, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart body has no boundary parameter")
	}
	reader := multipart.NewReader(bytes.NewReader(data), boundary)
	parts := map[string]multipartPart{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to parse multipart body: %v", err)
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("unable to read multipart part: %v", err)
		}
		name := part.FormName()
		if name == "" {
			name = part.FileName()
		}
		parts[name] = multipartPart{
			contentType: part.Header.Get("Content-Type"),
			content:     content,
		}
	}
	return parts, nil
}

// boundaryFromContentType extracts the boundary parameter of a multipart
// media type.
func boundaryFromContentType(value string) string {
	_, params, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	return params["boundary"]
}
