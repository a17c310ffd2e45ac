package matching

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/form3tech-oss/pact-core/internal/app/datetime"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/paths"
)

// valueString renders any matched value in its human-readable form.
func valueString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case []byte:
		return string(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "Null"
	case bool:
		return "Boolean"
	case json.Number, float64, int, int64:
		return "Number"
	case string:
		return "String"
	case []interface{}:
		return "List"
	case map[string]interface{}:
		return "Map"
	}
	return reflect.TypeOf(v).String()
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case json.Number, float64, int, int64:
		return true
	}
	return false
}

func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case int, int64:
		return true
	case json.Number:
		_, err := n.Int64()
		return err == nil && !strings.ContainsAny(n.String(), ".eE")
	case float64:
		return n == float64(int64(n))
	}
	return false
}

func isDecimal(v interface{}) bool {
	switch n := v.(type) {
	case json.Number:
		return strings.ContainsAny(n.String(), ".eE")
	case float64:
		return true
	}
	return false
}

func lengthOf(v interface{}) (int, bool) {
	switch val := v.(type) {
	case string:
		return len(val), true
	case []interface{}:
		return len(val), true
	case map[string]interface{}:
		return len(val), true
	case []byte:
		return len(val), true
	}
	return 0, false
}

func sameType(expected, actual interface{}) bool {
	if isNumber(expected) && isNumber(actual) {
		return true
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	return typeName(expected) == typeName(actual)
}

func valuesEqual(expected, actual interface{}) bool {
	if isNumber(expected) && isNumber(actual) {
		return numericValue(expected) == numericValue(actual)
	}
	return reflect.DeepEqual(expected, actual)
}

func numericValue(v interface{}) float64 {
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// MatchValues applies one rule to a pair of values at a concrete path.
// Container-level walking (array templates, key sets) happens in the
// codecs; this handles the value-level verdict. A returned error carries
// the mismatch description; rule evaluation problems (bad regex) also
// surface here.
func MatchValues(rule pactmodel.MatchingRule, path paths.Path, expected, actual interface{}, ctx *Context) error {
	switch rule.Kind {
	case pactmodel.RuleEquality:
		if !valuesEqual(expected, actual) {
			return errors.Errorf("expected %s to be equal to %s", valueString(actual), valueString(expected))
		}
		return nil

	case pactmodel.RuleRegex:
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return errors.Wrapf(err, "invalid regex %q", rule.Regex)
		}
		s := valueString(actual)
		if !re.MatchString(s) {
			return errors.Errorf("expected %q to match %q", s, rule.Regex)
		}
		return nil

	case pactmodel.RuleType:
		if !sameType(expected, actual) {
			return errors.Errorf("expected %s (%s) to be the same type as %s (%s)",
				valueString(actual), typeName(actual), valueString(expected), typeName(expected))
		}
		return nil

	case pactmodel.RuleMinType:
		if err := checkTypeWithLength(expected, actual, rule.Min, nil); err != nil {
			return err
		}
		return nil

	case pactmodel.RuleMaxType:
		return checkTypeWithLength(expected, actual, nil, rule.Max)

	case pactmodel.RuleMinMaxType:
		return checkTypeWithLength(expected, actual, rule.Min, rule.Max)

	case pactmodel.RuleInclude:
		s := valueString(actual)
		if !strings.Contains(s, rule.Value) {
			return errors.Errorf("expected %q to include %q", s, rule.Value)
		}
		return nil

	case pactmodel.RuleInteger:
		if !isInteger(actual) {
			return errors.Errorf("expected %s (%s) to be an integer", valueString(actual), typeName(actual))
		}
		return nil

	case pactmodel.RuleDecimal:
		if !isDecimal(actual) {
			return errors.Errorf("expected %s (%s) to be a decimal number", valueString(actual), typeName(actual))
		}
		return nil

	case pactmodel.RuleNumber:
		if !isNumber(actual) {
			return errors.Errorf("expected %s (%s) to be a number", valueString(actual), typeName(actual))
		}
		return nil

	case pactmodel.RuleNull:
		if actual != nil {
			return errors.Errorf("expected %s (%s) to be null", valueString(actual), typeName(actual))
		}
		return nil

	case pactmodel.RuleBoolean:
		if _, ok := actual.(bool); !ok {
			// Header and query values arrive as strings.
			if s, isString := actual.(string); isString && (s == "true" || s == "false") {
				return nil
			}
			return errors.Errorf("expected %s (%s) to be a boolean", valueString(actual), typeName(actual))
		}
		return nil

	case pactmodel.RuleDate:
		s := valueString(actual)
		if err := datetime.ParseDate(s, rule.Format); err != nil {
			return errors.Errorf("expected %q to match the date format %q", s, displayFormat(rule.Format, "yyyy-MM-dd"))
		}
		return nil

	case pactmodel.RuleTime:
		s := valueString(actual)
		if err := datetime.ParseTime(s, rule.Format); err != nil {
			return errors.Errorf("expected %q to match the time format %q", s, displayFormat(rule.Format, "HH:mm:ss"))
		}
		return nil

	case pactmodel.RuleDateTime:
		s := valueString(actual)
		if err := datetime.ParseDateTime(s, rule.Format); err != nil {
			return errors.Errorf("expected %q to match the datetime format %q", s, displayFormat(rule.Format, "ISO-8601"))
		}
		return nil

	case pactmodel.RuleContentType:
		var data []byte
		switch v := actual.(type) {
		case []byte:
			data = v
		default:
			data = []byte(valueString(actual))
		}
		detected := pactmodel.SniffContentType(data)
		want, err := pactmodel.ParseContentType(rule.Value)
		if err != nil {
			return errors.Wrapf(err, "invalid content type %q in matching rule", rule.Value)
		}
		if !want.Equivalent(detected) {
			return errors.Errorf("expected a body of %q but the actual content type was %q", rule.Value, detected.String())
		}
		return nil

	case pactmodel.RuleValues, pactmodel.RuleEachKey, pactmodel.RuleEachValue, pactmodel.RuleArrayContains:
		// Structural matchers: the codec walkers interpret these. At a
		// plain value they degrade to a type check.
		if !sameType(expected, actual) {
			return errors.Errorf("expected %s (%s) to be the same type as %s (%s)",
				valueString(actual), typeName(actual), valueString(expected), typeName(expected))
		}
		return nil

	case pactmodel.RuleStatusCode:
		return errors.New("a status code matcher can only be applied to the response status")

	case pactmodel.RuleNotEmpty:
		if actual == nil {
			return errors.New("expected a non-empty value but got null")
		}
		if l, ok := lengthOf(actual); ok && l == 0 {
			return errors.Errorf("expected %s (%s) to not be empty", valueString(actual), typeName(actual))
		}
		return nil

	case pactmodel.RuleSemver:
		s := valueString(actual)
		if _, err := goversion.NewSemver(s); err != nil {
			return errors.Errorf("expected %q to be a semantic version", s)
		}
		return nil
	}
	return errors.Errorf("rule %q cannot be applied here", rule.Kind)
}

func displayFormat(format, fallback string) string {
	if format == "" {
		return fallback
	}
	return format
}

func checkTypeWithLength(expected, actual interface{}, min, max *int) error {
	if !sameType(expected, actual) {
		return errors.Errorf("expected %s (%s) to be the same type as %s (%s)",
			valueString(actual), typeName(actual), valueString(expected), typeName(expected))
	}
	l, ok := lengthOf(actual)
	if !ok {
		return nil
	}
	if min != nil && l < *min {
		return errors.Errorf("expected %s (size %d) to have at least %d elements", valueString(actual), l, *min)
	}
	if max != nil && l > *max {
		return errors.Errorf("expected %s (size %d) to have at most %d elements", valueString(actual), l, *max)
	}
	return nil
}

// MatchStatus compares a response status against a StatusCode rule.
func MatchStatus(rule pactmodel.MatchingRule, expected, actual int) error {
	if rule.Kind != pactmodel.RuleStatusCode {
		if err := MatchValues(rule, paths.RootPath(), json.Number(fmt.Sprint(expected)), json.Number(fmt.Sprint(actual)), nil); err != nil {
			return err
		}
		return nil
	}
	ok := false
	switch rule.StatusKind {
	case pactmodel.StatusInformational:
		ok = actual >= 100 && actual < 200
	case pactmodel.StatusSuccess:
		ok = actual >= 200 && actual < 300
	case pactmodel.StatusRedirect:
		ok = actual >= 300 && actual < 400
	case pactmodel.StatusClientError:
		ok = actual >= 400 && actual < 500
	case pactmodel.StatusServerError:
		ok = actual >= 500 && actual < 600
	case pactmodel.StatusError:
		ok = actual >= 400 && actual < 600
	case pactmodel.StatusCodes:
		for _, c := range rule.StatusCodes {
			if c == actual {
				ok = true
				break
			}
		}
	}
	if !ok {
		return errors.Errorf("expected status %d to match %s", actual, statusKindDescription(rule))
	}
	return nil
}

func statusKindDescription(rule pactmodel.MatchingRule) string {
	if rule.StatusKind == pactmodel.StatusCodes {
		return fmt.Sprintf("one of %v", rule.StatusCodes)
	}
	return fmt.Sprintf("a %s status", rule.StatusKind)
}

// ApplyRuleList runs a rule list over a value pair under its combine
// policy, returning the descriptions of all failures. Under OR a single
// success clears all failures.
func ApplyRuleList(list pactmodel.RuleList, path paths.Path, expected, actual interface{}, ctx *Context) []error {
	var failures []error
	for _, rule := range list.Rules {
		err := MatchValues(rule, path, expected, actual, ctx)
		if err == nil {
			if list.Combine == pactmodel.CombineOr {
				return nil
			}
			continue
		}
		failures = append(failures, err)
	}
	return failures
}
