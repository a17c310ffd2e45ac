package matching

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/paths"
)

// ParseJSON decodes bytes preserving the integer/decimal distinction by
// using json.Number for all numerics.
func ParseJSON(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var v interface{}
	if err := decoder.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "unable to parse JSON body")
	}
	return v, nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Compare(expected, actual []byte, ctx *Context) []Mismatch {
	expectedTree, err := ParseJSON(expected)
	if err != nil {
		return []Mismatch{{
			Kind:        BodyMismatch,
			Path:        "$",
			Expected:    string(expected),
			Actual:      string(actual),
			Description: err.Error(),
		}}
	}
	actualTree, err := ParseJSON(actual)
	if err != nil {
		return []Mismatch{{
			Kind:        BodyMismatch,
			Path:        "$",
			Expected:    string(expected),
			Actual:      string(actual),
			Description: err.Error(),
		}}
	}
	w := &jsonWalker{ctx: ctx}
	w.compare(paths.RootPath(), expectedTree, actualTree)
	return w.mismatches
}

type jsonWalker struct {
	ctx        *Context
	mismatches []Mismatch
}

func (w *jsonWalker) add(path paths.Path, expected, actual interface{}, description string) {
	w.mismatches = append(w.mismatches, Mismatch{
		Kind:        BodyMismatch,
		Path:        path.String(),
		Expected:    valueString(expected),
		Actual:      valueString(actual),
		Description: description,
	})
}

// structuralRule reports whether the walker interprets the rule itself at
// this node instead of applying it as a value check: the map matchers when
// the expected value is a map, arrayContains when it is a list. Anywhere
// else these degrade to a plain type check.
func structuralRule(kind pactmodel.RuleKind, expected interface{}) bool {
	switch kind {
	case pactmodel.RuleEachKey, pactmodel.RuleEachValue, pactmodel.RuleValues:
		_, isMap := expected.(map[string]interface{})
		return isMap
	case pactmodel.RuleArrayContains:
		_, isList := expected.([]interface{})
		return isList
	}
	return false
}

func (w *jsonWalker) compare(path paths.Path, expected, actual interface{}) {
	list, ruled := w.ctx.SelectRules(path)
	if ruled {
		w.applyRules(list, path, expected, actual)
	}

	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			if !ruled {
				w.add(path, expected, actual, fmt.Sprintf("type mismatch: expected Map but received %s", typeName(actual)))
			}
			return
		}
		w.compareMaps(path, list, ruled, exp, act)
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			if !ruled {
				w.add(path, expected, actual, fmt.Sprintf("type mismatch: expected List but received %s", typeName(actual)))
			}
			return
		}
		w.compareLists(path, list, ruled, exp, act)
	default:
		if !ruled && !valuesEqual(expected, actual) {
			w.add(path, expected, actual,
				fmt.Sprintf("expected %s but received %s", valueString(expected), valueString(actual)))
		}
	}
}

// applyRules runs the value-level rules at a node, honouring AND/OR.
func (w *jsonWalker) applyRules(list pactmodel.RuleList, path paths.Path, expected, actual interface{}) {
	valueRules := pactmodel.RuleList{Combine: list.Combine}
	for _, r := range list.Rules {
		if structuralRule(r.Kind, expected) {
			continue
		}
		valueRules.Rules = append(valueRules.Rules, r)
	}
	for _, err := range ApplyRuleList(valueRules, path, expected, actual, w.ctx) {
		w.add(path, expected, actual, err.Error())
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (w *jsonWalker) compareMaps(path paths.Path, list pactmodel.RuleList, ruled bool, expected, actual map[string]interface{}) {
	if ruled {
		for _, r := range list.Rules {
			switch r.Kind {
			case pactmodel.RuleEachKey:
				for _, key := range sortedKeys(actual) {
					sub := pactmodel.RuleList{Combine: pactmodel.CombineAnd, Rules: r.SubRules}
					for _, err := range ApplyRuleList(sub, path, key, key, w.ctx) {
						w.add(path, key, key, fmt.Sprintf("key %q: %s", key, err.Error()))
					}
				}
			case pactmodel.RuleEachValue:
				for _, key := range sortedKeys(actual) {
					sub := pactmodel.RuleList{Combine: pactmodel.CombineAnd, Rules: r.SubRules}
					template := templateValue(expected)
					for _, err := range ApplyRuleList(sub, path.Child(key), template, actual[key], w.ctx) {
						w.add(path.Child(key), template, actual[key], err.Error())
					}
				}
			}
		}
	}

	if ruled && hasRule(list, pactmodel.RuleValues) {
		// Keys are free-form; every actual value is matched against the
		// expected template value.
		template := templateValue(expected)
		for _, key := range sortedKeys(actual) {
			w.compare(path.Child(key), template, actual[key])
		}
		return
	}
	if ruled && (hasRule(list, pactmodel.RuleEachKey) || hasRule(list, pactmodel.RuleEachValue)) {
		// Key-set equality is suppressed; the each-key/each-value
		// definitions above carry the whole contract.
		return
	}

	for _, key := range sortedKeys(expected) {
		actualValue, present := actual[key]
		if !present {
			w.add(path.Child(key), expected[key], nil,
				fmt.Sprintf("expected entry %q but it was missing", key))
			continue
		}
		w.compare(path.Child(key), expected[key], actualValue)
	}
	for _, key := range sortedKeys(actual) {
		if _, present := expected[key]; !present {
			w.add(path.Child(key), nil, actual[key],
				fmt.Sprintf("unexpected entry %q", key))
		}
	}
}

// templateValue picks the template entry of a map under a values-style
// matcher: the value of the first key in sorted order.
func templateValue(expected map[string]interface{}) interface{} {
	keys := sortedKeys(expected)
	if len(keys) == 0 {
		return nil
	}
	return expected[keys[0]]
}

func (w *jsonWalker) compareLists(path paths.Path, list pactmodel.RuleList, ruled bool, expected, actual []interface{}) {
	if ruled {
		for _, r := range list.Rules {
			if r.Kind == pactmodel.RuleArrayContains {
				w.matchArrayContains(path, r, expected, actual)
			}
		}
		// A pure arrayContains node imposes no other structure.
		if onlyArrayContains(list) {
			return
		}
	}

	if w.ctx.TypeMatcherActive(path) {
		if len(expected) == 0 {
			return
		}
		template := expected[0]
		for i, item := range actual {
			w.compare(path.Elem(i), template, item)
		}
		return
	}

	if len(expected) != len(actual) {
		w.add(path, expected, actual,
			fmt.Sprintf("expected a list of %d elements but received %d", len(expected), len(actual)))
	}
	for i := range expected {
		if i >= len(actual) {
			break
		}
		w.compare(path.Elem(i), expected[i], actual[i])
	}
}

func hasRule(list pactmodel.RuleList, kind pactmodel.RuleKind) bool {
	for _, r := range list.Rules {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

func onlyArrayContains(list pactmodel.RuleList) bool {
	for _, r := range list.Rules {
		if r.Kind != pactmodel.RuleArrayContains {
			return false
		}
	}
	return len(list.Rules) > 0
}

// matchArrayContains checks that each variant matches at least one element
// of the actual list. The template for a variant is the expected element
// at its index; the variant's own rules apply rooted at that element.
func (w *jsonWalker) matchArrayContains(path paths.Path, rule pactmodel.MatchingRule, expected, actual []interface{}) {
	for _, variant := range rule.Variants {
		var template interface{}
		if variant.Index >= 0 && variant.Index < len(expected) {
			template = expected[variant.Index]
		}
		var category *pactmodel.MatchingRuleCategory
		if variant.Rules != nil {
			if cat, ok := variant.Rules.Lookup("body"); ok {
				category = cat
			}
		}
		variantCtx := w.ctx.subContext(category)

		matched := false
		for _, item := range actual {
			probe := &jsonWalker{ctx: variantCtx}
			probe.compare(paths.RootPath(), template, item)
			if len(probe.mismatches) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			w.add(path, template, actual,
				fmt.Sprintf("expected the list to contain an element matching variant %d", variant.Index))
		}
	}
}
