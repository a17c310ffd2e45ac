package pactmodel

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RuleKind enumerates the closed set of matching-rule kinds.
type RuleKind string

const (
	RuleEquality      RuleKind = "equality"
	RuleRegex         RuleKind = "regex"
	RuleType          RuleKind = "type"
	RuleMinType       RuleKind = "min-type"
	RuleMaxType       RuleKind = "max-type"
	RuleMinMaxType    RuleKind = "min-max-type"
	RuleInclude       RuleKind = "include"
	RuleInteger       RuleKind = "integer"
	RuleDecimal       RuleKind = "decimal"
	RuleNumber        RuleKind = "number"
	RuleNull          RuleKind = "null"
	RuleBoolean       RuleKind = "boolean"
	RuleDate          RuleKind = "date"
	RuleTime          RuleKind = "time"
	RuleDateTime      RuleKind = "datetime"
	RuleContentType   RuleKind = "contentType"
	RuleValues        RuleKind = "values"
	RuleArrayContains RuleKind = "arrayContains"
	RuleStatusCode    RuleKind = "statusCode"
	RuleNotEmpty      RuleKind = "notEmpty"
	RuleSemver        RuleKind = "semver"
	RuleEachKey       RuleKind = "eachKey"
	RuleEachValue     RuleKind = "eachValue"
)

// StatusClass is the parameter of a StatusCode rule.
type StatusClass string

const (
	StatusInformational StatusClass = "info"
	StatusSuccess       StatusClass = "success"
	StatusRedirect      StatusClass = "redirect"
	StatusClientError   StatusClass = "clientError"
	StatusServerError   StatusClass = "serverError"
	StatusError         StatusClass = "error"
	StatusCodes         StatusClass = "statusCodes"
)

// ArrayContainsVariant is one expected element of an ArrayContains rule,
// carrying its own rules and generators rooted at the variant value.
type ArrayContainsVariant struct {
	Index      int
	Rules      *MatchingRules
	Generators map[string]Generator
}

// MatchingRule is one declarative matcher. Kind selects the variant; the
// remaining fields are its parameters.
type MatchingRule struct {
	Kind        RuleKind
	Regex       string
	Min         *int
	Max         *int
	Value       string // include substring, content type, or semver/notEmpty example
	Format      string // date/time/datetime format
	StatusKind  StatusClass
	StatusCodes []int
	Variants    []ArrayContainsVariant
	SubRules    []MatchingRule // eachKey / eachValue definitions
}

// Cascades reports whether the rule applies to descendants of the node it
// is declared on. The length bound of the min/max type rules binds only at
// the declared node, but their type check still cascades, which the matcher
// kernel handles by re-writing them to Type below the declared level.
func (r MatchingRule) Cascades() bool {
	switch r.Kind {
	case RuleMinType, RuleMaxType, RuleMinMaxType:
		return false
	}
	return true
}

// IsTypeMatcher reports whether array comparison under this rule is by
// template rather than by position.
func (r MatchingRule) IsTypeMatcher() bool {
	switch r.Kind {
	case RuleType, RuleMinType, RuleMaxType, RuleMinMaxType, RuleValues,
		RuleEachKey, RuleEachValue, RuleArrayContains, RuleNotEmpty:
		return true
	}
	return false
}

// IsValuesMatcher reports whether object comparison under this rule ignores
// the expected key set.
func (r MatchingRule) IsValuesMatcher() bool {
	switch r.Kind {
	case RuleValues, RuleEachKey, RuleEachValue, RuleArrayContains:
		return true
	}
	return false
}

// Combine is the policy for multiple rules on one path.
type Combine string

const (
	CombineAnd Combine = "AND"
	CombineOr  Combine = "OR"
)

// RuleList is the set of rules attached to a single path expression.
type RuleList struct {
	Rules   []MatchingRule
	Combine Combine
}

// MatchingRuleCategory holds path-keyed rule lists for one part category.
type MatchingRuleCategory struct {
	Name  string
	Rules map[string]*RuleList
}

// NewCategory returns an empty category.
func NewCategory(name string) *MatchingRuleCategory {
	return &MatchingRuleCategory{Name: name, Rules: map[string]*RuleList{}}
}

// Add appends a rule to the list at the given path expression.
func (c *MatchingRuleCategory) Add(path string, rule MatchingRule, combine Combine) {
	list, ok := c.Rules[path]
	if !ok {
		list = &RuleList{Combine: combine}
		c.Rules[path] = list
	}
	if combine != "" {
		list.Combine = combine
	}
	list.Rules = append(list.Rules, rule)
}

// IsEmpty reports whether the category has no rules.
func (c *MatchingRuleCategory) IsEmpty() bool {
	return c == nil || len(c.Rules) == 0
}

// SortedPaths returns the rule paths in stable order.
func (c *MatchingRuleCategory) SortedPaths() []string {
	out := make([]string, 0, len(c.Rules))
	for p := range c.Rules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MatchingRules groups rule categories for one interaction part.
type MatchingRules struct {
	categories map[string]*MatchingRuleCategory
}

// NewMatchingRules returns an empty rule set.
func NewMatchingRules() *MatchingRules {
	return &MatchingRules{categories: map[string]*MatchingRuleCategory{}}
}

// Category returns the named category, creating it on first use.
func (m *MatchingRules) Category(name string) *MatchingRuleCategory {
	if m.categories == nil {
		m.categories = map[string]*MatchingRuleCategory{}
	}
	c, ok := m.categories[name]
	if !ok {
		c = NewCategory(name)
		m.categories[name] = c
	}
	return c
}

// Lookup returns the named category without creating it.
func (m *MatchingRules) Lookup(name string) (*MatchingRuleCategory, bool) {
	if m == nil || m.categories == nil {
		return nil, false
	}
	c, ok := m.categories[name]
	return c, ok
}

// IsEmpty reports whether no category holds any rule.
func (m *MatchingRules) IsEmpty() bool {
	if m == nil {
		return true
	}
	for _, c := range m.categories {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// CategoryNames lists non-empty categories in stable order.
func (m *MatchingRules) CategoryNames() []string {
	var out []string
	for n, c := range m.categories {
		if !c.IsEmpty() {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// intAttr reads an integer attribute; JSON decoding produces float64, maps
// built in memory (such as ToJSON output) hold int, and some tools write the
// bound as a string.
func intAttr(attrs map[string]interface{}, key string) *int {
	switch n := attrs[key].(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return &i
		}
	}
	return nil
}

func strAttr(attrs map[string]interface{}, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

// RuleFromJSON decodes one matcher definition of the V3+ form
// {"match": "type", "min": 2, ...}. The V2 short forms {"regex": ...} and
// {"min": ...} without a match key are also accepted.
func RuleFromJSON(attrs map[string]interface{}) (MatchingRule, error) {
	match, hasMatch := attrs["match"].(string)
	if !hasMatch {
		if r := strAttr(attrs, "regex"); r != "" {
			return MatchingRule{Kind: RuleRegex, Regex: r}, nil
		}
		if min := intAttr(attrs, "min"); min != nil {
			return MatchingRule{Kind: RuleMinType, Min: min}, nil
		}
		if max := intAttr(attrs, "max"); max != nil {
			return MatchingRule{Kind: RuleMaxType, Max: max}, nil
		}
		return MatchingRule{}, errors.Errorf("matcher definition %v has no match attribute", attrs)
	}

	min := intAttr(attrs, "min")
	max := intAttr(attrs, "max")

	switch match {
	case "equality":
		return MatchingRule{Kind: RuleEquality}, nil
	case "regex":
		r := strAttr(attrs, "regex")
		if r == "" {
			return MatchingRule{}, errors.New("regex matcher is missing its regex attribute")
		}
		return MatchingRule{Kind: RuleRegex, Regex: r}, nil
	case "type":
		switch {
		case min != nil && max != nil:
			return MatchingRule{Kind: RuleMinMaxType, Min: min, Max: max}, nil
		case min != nil:
			return MatchingRule{Kind: RuleMinType, Min: min}, nil
		case max != nil:
			return MatchingRule{Kind: RuleMaxType, Max: max}, nil
		}
		return MatchingRule{Kind: RuleType}, nil
	case "include":
		return MatchingRule{Kind: RuleInclude, Value: strAttr(attrs, "value")}, nil
	case "integer":
		return MatchingRule{Kind: RuleInteger}, nil
	case "decimal":
		return MatchingRule{Kind: RuleDecimal}, nil
	case "number":
		return MatchingRule{Kind: RuleNumber}, nil
	case "null":
		return MatchingRule{Kind: RuleNull}, nil
	case "boolean":
		return MatchingRule{Kind: RuleBoolean}, nil
	case "date":
		return MatchingRule{Kind: RuleDate, Format: formatAttr(attrs)}, nil
	case "time":
		return MatchingRule{Kind: RuleTime, Format: formatAttr(attrs)}, nil
	case "datetime", "timestamp":
		return MatchingRule{Kind: RuleDateTime, Format: formatAttr(attrs)}, nil
	case "contentType":
		return MatchingRule{Kind: RuleContentType, Value: strAttr(attrs, "value")}, nil
	case "values":
		return MatchingRule{Kind: RuleValues}, nil
	case "arrayContains":
		variants, err := variantsFromJSON(attrs["variants"])
		if err != nil {
			return MatchingRule{}, err
		}
		return MatchingRule{Kind: RuleArrayContains, Variants: variants}, nil
	case "statusCode":
		return statusCodeRuleFromJSON(attrs)
	case "notEmpty":
		return MatchingRule{Kind: RuleNotEmpty, Value: strAttr(attrs, "value")}, nil
	case "semver":
		return MatchingRule{Kind: RuleSemver, Value: strAttr(attrs, "value")}, nil
	case "eachKey", "eachValue":
		sub, err := subRulesFromJSON(attrs["rules"])
		if err != nil {
			return MatchingRule{}, err
		}
		kind := RuleEachKey
		if match == "eachValue" {
			kind = RuleEachValue
		}
		return MatchingRule{Kind: kind, SubRules: sub}, nil
	}
	return MatchingRule{}, errors.Errorf("unknown matcher kind %q", match)
}

func formatAttr(attrs map[string]interface{}) string {
	if f := strAttr(attrs, "format"); f != "" {
		return f
	}
	return strAttr(attrs, "date")
}

func statusCodeRuleFromJSON(attrs map[string]interface{}) (MatchingRule, error) {
	switch v := attrs["status"].(type) {
	case string:
		switch StatusClass(v) {
		case StatusInformational, StatusSuccess, StatusRedirect,
			StatusClientError, StatusServerError, StatusError:
			return MatchingRule{Kind: RuleStatusCode, StatusKind: StatusClass(v)}, nil
		}
		return MatchingRule{}, errors.Errorf("unknown status class %q", v)
	case []interface{}:
		codes := make([]int, 0, len(v))
		for _, c := range v {
			n, ok := c.(float64)
			if !ok {
				return MatchingRule{}, errors.Errorf("status code list contains non-number %v", c)
			}
			codes = append(codes, int(n))
		}
		return MatchingRule{Kind: RuleStatusCode, StatusKind: StatusCodes, StatusCodes: codes}, nil
	case nil:
		return MatchingRule{Kind: RuleStatusCode, StatusKind: StatusSuccess}, nil
	}
	return MatchingRule{}, errors.Errorf("invalid status attribute %v", attrs["status"])
}

func subRulesFromJSON(v interface{}) ([]MatchingRule, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("eachKey/eachValue definition is missing its rules list")
	}
	var out []MatchingRule
	for _, item := range list {
		attrs, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rule, err := RuleFromJSON(attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func variantsFromJSON(v interface{}) ([]ArrayContainsVariant, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("arrayContains matcher is missing its variants list")
	}
	variants := make([]ArrayContainsVariant, 0, len(list))
	for i, item := range list {
		attrs, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("arrayContains variant %d is not an object", i)
		}
		variant := ArrayContainsVariant{Index: i, Rules: NewMatchingRules(), Generators: map[string]Generator{}}
		if idx := intAttr(attrs, "index"); idx != nil {
			variant.Index = *idx
		}
		if rules, ok := attrs["rules"].(map[string]interface{}); ok {
			cat := variant.Rules.Category("body")
			if err := parseV3CategoryRules(cat, rules); err != nil {
				return nil, err
			}
		}
		if gens, ok := attrs["generators"].(map[string]interface{}); ok {
			for path, g := range gens {
				gattrs, ok := g.(map[string]interface{})
				if !ok {
					continue
				}
				gen, err := GeneratorFromJSON(gattrs)
				if err != nil {
					return nil, err
				}
				variant.Generators[path] = gen
			}
		}
		variants = append(variants, variant)
	}
	return variants, nil
}

// parseV3CategoryRules fills a category from the nested V3+ form
// {"$.path": {"combine": "AND", "matchers": [...]}}.
func parseV3CategoryRules(cat *MatchingRuleCategory, entries map[string]interface{}) error {
	for path, v := range entries {
		def, ok := v.(map[string]interface{})
		if !ok {
			return errors.Errorf("matching rule entry %q is not an object", path)
		}
		combine := CombineAnd
		if c, ok := def["combine"].(string); ok && strings.EqualFold(c, "OR") {
			combine = CombineOr
		}
		matchers, ok := def["matchers"].([]interface{})
		if !ok {
			// A bare V2-style rule nested under a V3 category.
			rule, err := RuleFromJSON(def)
			if err != nil {
				return errors.Wrapf(err, "invalid matching rule at %q", path)
			}
			cat.Add(path, rule, combine)
			continue
		}
		for _, m := range matchers {
			attrs, ok := m.(map[string]interface{})
			if !ok {
				continue
			}
			rule, err := RuleFromJSON(attrs)
			if err != nil {
				return errors.Wrapf(err, "invalid matching rule at %q", path)
			}
			cat.Add(path, rule, combine)
		}
	}
	return nil
}

// ParseV3MatchingRules decodes the nested category form used by V3 and V4
// pacts: {"body": {"$.a": {"matchers": [...]}}, "path": {...}, ...}.
func ParseV3MatchingRules(raw map[string]interface{}) (*MatchingRules, error) {
	rules := NewMatchingRules()
	for category, v := range raw {
		entries, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("matching rule category %q is not an object", category)
		}
		cat := rules.Category(category)
		// path, method and status carry a single definition, not a path map.
		if _, hasMatchers := entries["matchers"]; hasMatchers && (category == "path" || category == "method" || category == "status") {
			if err := parseV3CategoryRules(cat, map[string]interface{}{"$": entries}); err != nil {
				return nil, err
			}
			continue
		}
		if err := parseV3CategoryRules(cat, entries); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// ParseV2MatchingRules decodes the flat V2 form where each key is a path
// like "$.body.a[0]" or "$.headers.Accept" and each value a single rule.
func ParseV2MatchingRules(raw map[string]interface{}) (*MatchingRules, error) {
	rules := NewMatchingRules()
	for path, v := range raw {
		attrs, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("matching rule at %q is not an object", path)
		}
		rule, err := RuleFromJSON(attrs)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid matching rule at %q", path)
		}
		category, subPath := splitV2RulePath(path)
		rules.Category(category).Add(subPath, rule, CombineAnd)
	}
	return rules, nil
}

// splitV2RulePath maps a V2 rule key to its category and category-local
// path: "$.body.a" -> (body, "$.a"), "$.headers.Accept" -> (header,
// "Accept"), "$.path" -> (path, "$").
func splitV2RulePath(path string) (string, string) {
	switch {
	case path == "$.path":
		return "path", "$"
	case path == "$.method":
		return "method", "$"
	case path == "$.status":
		return "status", "$"
	case strings.HasPrefix(path, "$.body"):
		rest := strings.TrimPrefix(path, "$.body")
		if rest == "" {
			return "body", "$"
		}
		return "body", "$" + rest
	case strings.HasPrefix(path, "$.headers."):
		return "header", strings.TrimPrefix(path, "$.headers.")
	case strings.HasPrefix(path, "$.query."):
		return "query", strings.TrimPrefix(path, "$.query.")
	}
	return "body", path
}

// ruleToJSON emits the V3+ definition for one rule.
func ruleToJSON(r MatchingRule) map[string]interface{} {
	out := map[string]interface{}{}
	switch r.Kind {
	case RuleEquality:
		out["match"] = "equality"
	case RuleRegex:
		out["match"] = "regex"
		out["regex"] = r.Regex
	case RuleType:
		out["match"] = "type"
	case RuleMinType:
		out["match"] = "type"
		out["min"] = *r.Min
	case RuleMaxType:
		out["match"] = "type"
		out["max"] = *r.Max
	case RuleMinMaxType:
		out["match"] = "type"
		out["min"] = *r.Min
		out["max"] = *r.Max
	case RuleInclude:
		out["match"] = "include"
		out["value"] = r.Value
	case RuleInteger:
		out["match"] = "integer"
	case RuleDecimal:
		out["match"] = "decimal"
	case RuleNumber:
		out["match"] = "number"
	case RuleNull:
		out["match"] = "null"
	case RuleBoolean:
		out["match"] = "boolean"
	case RuleDate:
		out["match"] = "date"
		if r.Format != "" {
			out["format"] = r.Format
		}
	case RuleTime:
		out["match"] = "time"
		if r.Format != "" {
			out["format"] = r.Format
		}
	case RuleDateTime:
		out["match"] = "datetime"
		if r.Format != "" {
			out["format"] = r.Format
		}
	case RuleContentType:
		out["match"] = "contentType"
		out["value"] = r.Value
	case RuleValues:
		out["match"] = "values"
	case RuleArrayContains:
		out["match"] = "arrayContains"
		variants := make([]interface{}, 0, len(r.Variants))
		for _, v := range r.Variants {
			variant := map[string]interface{}{"index": v.Index}
			if cat, ok := v.Rules.Lookup("body"); ok && !cat.IsEmpty() {
				variant["rules"] = categoryToJSON(cat)
			}
			if len(v.Generators) > 0 {
				gens := map[string]interface{}{}
				for path, g := range v.Generators {
					gens[path] = GeneratorToJSON(g)
				}
				variant["generators"] = gens
			}
			variants = append(variants, variant)
		}
		out["variants"] = variants
	case RuleStatusCode:
		out["match"] = "statusCode"
		if r.StatusKind == StatusCodes {
			out["status"] = r.StatusCodes
		} else {
			out["status"] = string(r.StatusKind)
		}
	case RuleNotEmpty:
		out["match"] = "notEmpty"
		if r.Value != "" {
			out["value"] = r.Value
		}
	case RuleSemver:
		out["match"] = "semver"
		if r.Value != "" {
			out["value"] = r.Value
		}
	case RuleEachKey, RuleEachValue:
		out["match"] = string(r.Kind)
		subs := make([]interface{}, 0, len(r.SubRules))
		for _, s := range r.SubRules {
			subs = append(subs, ruleToJSON(s))
		}
		out["rules"] = subs
	}
	return out
}

func categoryToJSON(cat *MatchingRuleCategory) map[string]interface{} {
	out := map[string]interface{}{}
	for _, path := range cat.SortedPaths() {
		list := cat.Rules[path]
		matchers := make([]interface{}, 0, len(list.Rules))
		for _, r := range list.Rules {
			matchers = append(matchers, ruleToJSON(r))
		}
		combine := list.Combine
		if combine == "" {
			combine = CombineAnd
		}
		out[path] = map[string]interface{}{
			"combine":  string(combine),
			"matchers": matchers,
		}
	}
	return out
}

// ToJSON emits the rule set in the representation of the given spec
// version. Empty categories are omitted.
func (m *MatchingRules) ToJSON(version SpecVersion) map[string]interface{} {
	if m.IsEmpty() {
		return nil
	}
	if version.NestedRules() {
		out := map[string]interface{}{}
		for _, name := range m.CategoryNames() {
			cat := m.categories[name]
			if name == "path" || name == "method" || name == "status" {
				if list, ok := cat.Rules["$"]; ok && len(list.Rules) > 0 {
					matchers := make([]interface{}, 0, len(list.Rules))
					for _, r := range list.Rules {
						matchers = append(matchers, ruleToJSON(r))
					}
					combine := list.Combine
					if combine == "" {
						combine = CombineAnd
					}
					out[name] = map[string]interface{}{
						"combine":  string(combine),
						"matchers": matchers,
					}
				}
				continue
			}
			out[name] = categoryToJSON(cat)
		}
		return out
	}

	// V2: flatten back to path-keyed single rules.
	out := map[string]interface{}{}
	for _, name := range m.CategoryNames() {
		cat := m.categories[name]
		for _, path := range cat.SortedPaths() {
			list := cat.Rules[path]
			if len(list.Rules) == 0 {
				continue
			}
			rule := ruleToJSON(list.Rules[0])
			switch name {
			case "path":
				out["$.path"] = rule
			case "method":
				out["$.method"] = rule
			case "status":
				out["$.status"] = rule
			case "body":
				out["$.body"+strings.TrimPrefix(path, "$")] = rule
			case "header", "headers":
				out["$.headers."+path] = rule
			case "query":
				out["$.query."+path] = rule
			}
		}
	}
	return out
}
