package matching

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/paths"
)

// MatchRequest compares an actual request against the expected one,
// collecting every mismatch: method, path, query, headers, then body.
func MatchRequest(expected, actual pactmodel.Request, version pactmodel.SpecVersion, cfg Config) []Mismatch {
	var mismatches []Mismatch

	if !strings.EqualFold(expected.Method, actual.Method) {
		mismatches = append(mismatches, Mismatch{
			Kind:        MethodMismatch,
			Expected:    expected.Method,
			Actual:      actual.Method,
			Description: fmt.Sprintf("expected method %s but received %s", expected.Method, actual.Method),
		})
	}

	mismatches = append(mismatches, matchPath(expected, actual, version, cfg)...)
	mismatches = append(mismatches, matchQuery(expected, actual, version, cfg)...)

	headerCtx := NewContext(version, lookupCategory(expected.MatchingRules, "header", "headers"), cfg)
	mismatches = append(mismatches, matchHeaders(expected.Headers, actual.Headers, headerCtx)...)

	bodyCtx := NewContext(version, lookupCategory(expected.MatchingRules, "body"), cfg)
	mismatches = append(mismatches, matchBodies(expected.Headers, expected.Body, actual.Headers, actual.Body, bodyCtx)...)

	return mismatches
}

// MatchResponse compares an actual response against the expected one:
// status, headers, then body.
func MatchResponse(expected, actual pactmodel.Response, version pactmodel.SpecVersion, cfg Config) []Mismatch {
	var mismatches []Mismatch

	statusCtx := NewContext(version, lookupCategory(expected.MatchingRules, "status"), cfg)
	mismatches = append(mismatches, matchStatusPart(expected.Status, actual.Status, statusCtx)...)

	headerCtx := NewContext(version, lookupCategory(expected.MatchingRules, "header", "headers"), cfg)
	mismatches = append(mismatches, matchHeaders(expected.Headers, actual.Headers, headerCtx)...)

	bodyCtx := NewContext(version, lookupCategory(expected.MatchingRules, "body"), cfg)
	mismatches = append(mismatches, matchBodies(expected.Headers, expected.Body, actual.Headers, actual.Body, bodyCtx)...)

	return mismatches
}

// MatchMessage compares message contents plus metadata.
func MatchMessage(expected, actual pactmodel.MessageContents, version pactmodel.SpecVersion, cfg Config) []Mismatch {
	var mismatches []Mismatch

	bodyCtx := NewContext(version, lookupCategory(expected.MatchingRules, "body", "content"), cfg)
	mismatches = append(mismatches, matchBodies(nil, expected.Contents, nil, actual.Contents, bodyCtx)...)

	metadataCtx := NewContext(version, lookupCategory(expected.MatchingRules, "metadata"), cfg)
	mismatches = append(mismatches, matchMetadata(expected.Metadata, actual.Metadata, metadataCtx)...)

	return mismatches
}

func lookupCategory(rules *pactmodel.MatchingRules, names ...string) *pactmodel.MatchingRuleCategory {
	for _, name := range names {
		if cat, ok := rules.Lookup(name); ok && !cat.IsEmpty() {
			return cat
		}
	}
	return nil
}

func matchPath(expected, actual pactmodel.Request, version pactmodel.SpecVersion, cfg Config) []Mismatch {
	ctx := NewContext(version, lookupCategory(expected.MatchingRules, "path"), cfg)
	root := paths.RootPath()
	if list, ok := ctx.SelectRules(root); ok {
		var mismatches []Mismatch
		for _, err := range ApplyRuleList(list, root, expected.Path, actual.Path, ctx) {
			mismatches = append(mismatches, Mismatch{
				Kind:        PathMismatch,
				Expected:    expected.Path,
				Actual:      actual.Path,
				Description: err.Error(),
			})
		}
		return mismatches
	}
	if expected.Path != actual.Path {
		return []Mismatch{{
			Kind:        PathMismatch,
			Expected:    expected.Path,
			Actual:      actual.Path,
			Description: fmt.Sprintf("expected path %s but received %s", expected.Path, actual.Path),
		}}
	}
	return nil
}

func matchStatusPart(expected, actual int, ctx *Context) []Mismatch {
	root := paths.RootPath()
	if list, ok := ctx.SelectRules(root); ok {
		var mismatches []Mismatch
		for _, rule := range list.Rules {
			if err := MatchStatus(rule, expected, actual); err != nil {
				mismatches = append(mismatches, Mismatch{
					Kind:        StatusMismatch,
					Expected:    strconv.Itoa(expected),
					Actual:      strconv.Itoa(actual),
					Description: err.Error(),
				})
			}
		}
		return mismatches
	}
	if expected != actual {
		return []Mismatch{{
			Kind:        StatusMismatch,
			Expected:    strconv.Itoa(expected),
			Actual:      strconv.Itoa(actual),
			Description: fmt.Sprintf("expected status %d but received %d", expected, actual),
		}}
	}
	return nil
}

func matchQuery(expected, actual pactmodel.Request, version pactmodel.SpecVersion, cfg Config) []Mismatch {
	ctx := NewContext(version, lookupCategory(expected.MatchingRules, "query"), cfg)
	var mismatches []Mismatch

	names := make([]string, 0, len(expected.Query))
	for name := range expected.Query {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		expectedValues := expected.Query[name]
		actualValues, present := actual.Query[name]
		if !present {
			mismatches = append(mismatches, Mismatch{
				Kind:        QueryMismatch,
				Parameter:   name,
				Expected:    queryValuesString(expectedValues),
				Description: fmt.Sprintf("expected query parameter %q but it was missing", name),
			})
			continue
		}
		mismatches = append(mismatches, matchQueryValues(name, expectedValues, actualValues, ctx)...)
	}

	// Extra parameters are a mismatch unless a values-style rule at the
	// category root opts out of key-set equality.
	root := paths.RootPath()
	allowExtra := ctx.ValuesMatcherActive(root)
	if !allowExtra {
		for name, values := range actual.Query {
			if _, present := expected.Query[name]; !present {
				mismatches = append(mismatches, Mismatch{
					Kind:        QueryMismatch,
					Parameter:   name,
					Actual:      queryValuesString(values),
					Description: fmt.Sprintf("unexpected query parameter %q", name),
				})
			}
		}
	}
	return mismatches
}

func queryValuesString(values []pactmodel.QueryValue) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v.Missing {
			parts = append(parts, "null")
		} else {
			parts = append(parts, v.Value)
		}
	}
	return strings.Join(parts, ", ")
}

func matchQueryValues(name string, expected, actual []pactmodel.QueryValue, ctx *Context) []Mismatch {
	var mismatches []Mismatch
	paramPath := paths.RootPath().Child(name)
	ruled := ctx.MatcherDefined(paramPath)

	if !ruled && len(expected) != len(actual) {
		mismatches = append(mismatches, Mismatch{
			Kind:        QueryMismatch,
			Parameter:   name,
			Expected:    queryValuesString(expected),
			Actual:      queryValuesString(actual),
			Description: fmt.Sprintf("expected %d values for query parameter %q but received %d", len(expected), name, len(actual)),
		})
	}

	if ruled {
		// A type rule on the parameter promotes to a length check plus an
		// element-wise type check, so we compare every actual value
		// against the first expected value.
		list, _ := ctx.SelectRules(paramPath)
		for _, rule := range list.Rules {
			if (rule.Min != nil && len(actual) < *rule.Min) || (rule.Max != nil && len(actual) > *rule.Max) {
				mismatches = append(mismatches, Mismatch{
					Kind:        QueryMismatch,
					Parameter:   name,
					Expected:    queryValuesString(expected),
					Actual:      queryValuesString(actual),
					Description: fmt.Sprintf("query parameter %q has %d values, outside the bounds of its %s rule", name, len(actual), rule.Kind),
				})
			}
		}
		if len(expected) > 0 {
			template := expected[0]
			for _, actualValue := range actual {
				mismatches = append(mismatches, applyQueryRules(name, paramPath, list, template, actualValue, ctx)...)
			}
		}
		return mismatches
	}

	for i := range expected {
		if i >= len(actual) {
			break
		}
		if expected[i].Missing != actual[i].Missing || expected[i].Value != actual[i].Value {
			mismatches = append(mismatches, Mismatch{
				Kind:        QueryMismatch,
				Parameter:   name,
				Path:        paramPath.Elem(i).String(),
				Expected:    queryValuesString(expected[i : i+1]),
				Actual:      queryValuesString(actual[i : i+1]),
				Description: fmt.Sprintf("expected %q for query parameter %q but received %q", queryValuesString(expected[i:i+1]), name, queryValuesString(actual[i:i+1])),
			})
		}
	}
	return mismatches
}

func applyQueryRules(name string, paramPath paths.Path, list pactmodel.RuleList, expected, actual pactmodel.QueryValue, ctx *Context) []Mismatch {
	var expectedValue, actualValue interface{}
	if !expected.Missing {
		expectedValue = expected.Value
	}
	if !actual.Missing {
		actualValue = actual.Value
	}
	var mismatches []Mismatch
	for _, err := range ApplyRuleList(list, paramPath, expectedValue, actualValue, ctx) {
		mismatches = append(mismatches, Mismatch{
			Kind:        QueryMismatch,
			Parameter:   name,
			Expected:    queryValuesString([]pactmodel.QueryValue{expected}),
			Actual:      queryValuesString([]pactmodel.QueryValue{actual}),
			Description: err.Error(),
		})
	}
	return mismatches
}

func matchHeaders(expected, actual map[string][]string, ctx *Context) []Mismatch {
	var mismatches []Mismatch

	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		expectedValues := expected[name]
		actualValues, present := lookupHeader(actual, name)
		if !present {
			mismatches = append(mismatches, Mismatch{
				Kind:        HeaderMismatch,
				Parameter:   name,
				Expected:    strings.Join(expectedValues, ", "),
				Description: fmt.Sprintf("expected header %q but it was missing", name),
			})
			continue
		}
		mismatches = append(mismatches, matchHeaderValues(name, expectedValues, actualValues, ctx)...)
	}
	// Extra actual headers are always permitted.
	return mismatches
}

func lookupHeader(headers map[string][]string, name string) ([]string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func headerRulePath(ctx *Context, name string) (paths.Path, bool) {
	// Header rules may be keyed by the bare name or by $.name at any case.
	for _, pattern := range ctx.patterns {
		tokens := pattern.Tokens()
		if len(tokens) == 2 && tokens[1].Kind == paths.Field && strings.EqualFold(tokens[1].Name, name) {
			return pattern, true
		}
	}
	return paths.RootPath().Child(name), false
}

func matchHeaderValues(name string, expected, actual []string, ctx *Context) []Mismatch {
	var mismatches []Mismatch
	paramPath, ruled := headerRulePath(ctx, name)

	if ruled {
		list, ok := ctx.SelectRules(paramPath)
		if ok {
			template := ""
			if len(expected) > 0 {
				template = expected[0]
			}
			for _, actualValue := range actual {
				for _, err := range ApplyRuleList(list, paramPath, template, actualValue, ctx) {
					mismatches = append(mismatches, Mismatch{
						Kind:        HeaderMismatch,
						Parameter:   name,
						Expected:    strings.Join(expected, ", "),
						Actual:      strings.Join(actual, ", "),
						Description: err.Error(),
					})
				}
			}
			return mismatches
		}
	}

	for _, h := range ctx.Config.ParameterisedHeaders {
		if strings.EqualFold(h, name) {
			return matchParameterisedHeader(name, expected, actual)
		}
	}

	if len(expected) != len(actual) {
		return []Mismatch{{
			Kind:        HeaderMismatch,
			Parameter:   name,
			Expected:    strings.Join(expected, ", "),
			Actual:      strings.Join(actual, ", "),
			Description: fmt.Sprintf("expected %d values for header %q but received %d", len(expected), name, len(actual)),
		}}
	}
	for i := range expected {
		if strings.TrimSpace(expected[i]) != strings.TrimSpace(actual[i]) {
			mismatches = append(mismatches, Mismatch{
				Kind:        HeaderMismatch,
				Parameter:   name,
				Expected:    expected[i],
				Actual:      actual[i],
				Description: fmt.Sprintf("expected header %q to have value %q but received %q", name, expected[i], actual[i]),
			})
		}
	}
	return mismatches
}

// matchParameterisedHeader compares Accept / Content-Type values as media
// types: base type plus parameters rather than raw strings.
func matchParameterisedHeader(name string, expected, actual []string) []Mismatch {
	var mismatches []Mismatch
	if len(expected) != len(actual) {
		return []Mismatch{{
			Kind:        HeaderMismatch,
			Parameter:   name,
			Expected:    strings.Join(expected, ", "),
			Actual:      strings.Join(actual, ", "),
			Description: fmt.Sprintf("expected %d values for header %q but received %d", len(expected), name, len(actual)),
		}}
	}
	for i := range expected {
		expectedCT, err1 := pactmodel.ParseContentType(expected[i])
		actualCT, err2 := pactmodel.ParseContentType(actual[i])
		if err1 != nil || err2 != nil {
			if strings.TrimSpace(expected[i]) != strings.TrimSpace(actual[i]) {
				mismatches = append(mismatches, Mismatch{
					Kind:        HeaderMismatch,
					Parameter:   name,
					Expected:    expected[i],
					Actual:      actual[i],
					Description: fmt.Sprintf("expected header %q to have value %q but received %q", name, expected[i], actual[i]),
				})
			}
			continue
		}
		if !expectedCT.Matches(actualCT) {
			mismatches = append(mismatches, Mismatch{
				Kind:        HeaderMismatch,
				Parameter:   name,
				Expected:    expected[i],
				Actual:      actual[i],
				Description: fmt.Sprintf("expected header %q to match media type %q but received %q", name, expected[i], actual[i]),
			})
		}
	}
	return mismatches
}

func matchBodies(expectedHeaders map[string][]string, expected pactmodel.OptionalBody, actualHeaders map[string][]string, actual pactmodel.OptionalBody, ctx *Context) []Mismatch {
	// An absent expectation matches anything.
	if expected.State == pactmodel.BodyMissing || expected.State == pactmodel.BodyEmpty {
		return nil
	}
	if expected.State == pactmodel.BodyNull {
		if actual.State == pactmodel.BodyPresent {
			return []Mismatch{{
				Kind:        BodyMismatch,
				Path:        "$",
				Expected:    "",
				Actual:      actual.String(),
				Description: "expected an empty body but received one",
			}}
		}
		return nil
	}
	if actual.State != pactmodel.BodyPresent {
		return []Mismatch{{
			Kind:        BodyMismatch,
			Path:        "$",
			Expected:    expected.String(),
			Actual:      "",
			Description: "expected a body but it was missing",
		}}
	}

	expectedCT := pactmodel.ResolveContentType(expectedHeaders, expected)
	actualCT := pactmodel.ResolveContentType(actualHeaders, actual)
	if !expectedCT.Equivalent(actualCT) {
		return []Mismatch{{
			Kind:        BodyTypeMismatch,
			Path:        "$",
			Expected:    expectedCT.String(),
			Actual:      actualCT.String(),
			Description: fmt.Sprintf("expected a body of type %q but received %q", expectedCT.String(), actualCT.String()),
		}}
	}

	codec := CodecFor(expectedCT)
	log.WithFields(log.Fields{"codec": codec.Name(), "contentType": expectedCT.String()}).Debug("comparing bodies")
	if codec.Name() == "multipart" {
		ctx.expectedBoundary = boundaryFromContentType(headerOrBody(expectedHeaders, expected))
		ctx.actualBoundary = boundaryFromContentType(headerOrBody(actualHeaders, actual))
	}
	return codec.Compare(expected.Value, actual.Value, ctx)
}

func headerOrBody(headers map[string][]string, body pactmodel.OptionalBody) string {
	if raw, ok := pactmodel.HeaderValue(headers, "Content-Type"); ok {
		return raw
	}
	return body.ContentType
}

func matchMetadata(expected, actual map[string]interface{}, ctx *Context) []Mismatch {
	var mismatches []Mismatch

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := expected[key]
		actualValue, present := actual[key]
		if !present {
			mismatches = append(mismatches, Mismatch{
				Kind:        MetadataMismatch,
				Parameter:   key,
				Expected:    valueString(expectedValue),
				Description: fmt.Sprintf("expected metadata key %q but it was missing", key),
			})
			continue
		}
		keyPath := paths.RootPath().Child(key)
		if list, ok := ctx.SelectRules(keyPath); ok {
			for _, err := range ApplyRuleList(list, keyPath, expectedValue, actualValue, ctx) {
				mismatches = append(mismatches, Mismatch{
					Kind:        MetadataMismatch,
					Parameter:   key,
					Expected:    valueString(expectedValue),
					Actual:      valueString(actualValue),
					Description: err.Error(),
				})
			}
			continue
		}
		if strings.EqualFold(key, "contentType") || strings.EqualFold(key, "content-type") {
			expectedCT, err1 := pactmodel.ParseContentType(valueString(expectedValue))
			actualCT, err2 := pactmodel.ParseContentType(valueString(actualValue))
			if err1 == nil && err2 == nil {
				if !expectedCT.Matches(actualCT) {
					mismatches = append(mismatches, Mismatch{
						Kind:        MetadataMismatch,
						Parameter:   key,
						Expected:    valueString(expectedValue),
						Actual:      valueString(actualValue),
						Description: fmt.Sprintf("expected metadata %q to match media type %q", key, valueString(expectedValue)),
					})
				}
				continue
			}
		}
		if !metadataEqual(expectedValue, actualValue) {
			mismatches = append(mismatches, Mismatch{
				Kind:        MetadataMismatch,
				Parameter:   key,
				Expected:    valueString(expectedValue),
				Actual:      valueString(actualValue),
				Description: fmt.Sprintf("expected metadata %q to equal %s but received %s", key, valueString(expectedValue), valueString(actualValue)),
			})
		}
	}
	return mismatches
}

func metadataEqual(expected, actual interface{}) bool {
	if valuesEqual(expected, actual) {
		return true
	}
	// Metadata values survive transport as strings; fall back to the
	// canonical JSON form.
	expectedRaw, err1 := json.Marshal(expected)
	actualRaw, err2 := json.Marshal(actual)
	if err1 == nil && err2 == nil && string(expectedRaw) == string(actualRaw) {
		return true
	}
	return valueString(expected) == valueString(actual)
}
