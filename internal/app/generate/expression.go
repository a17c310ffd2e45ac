package generate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EvaluateExpression resolves a provider-state expression against the
// state parameter values. "${name}" substitutes the value of name;
// surrounding literal text is concatenated; a bare name with no template
// markers is looked up directly. When the expression is exactly one
// substitution the typed value is returned, otherwise the string
// concatenation. Unknown names are an error so the caller can decide
// whether a fallback applies.
func EvaluateExpression(expression string, values map[string]interface{}) (interface{}, error) {
	if !strings.Contains(expression, "${") {
		if v, ok := values[expression]; ok {
			return v, nil
		}
		return nil, errors.Errorf("provider state has no value for %q", expression)
	}

	var b strings.Builder
	var single interface{}
	substitutions := 0
	literal := false
	rest := expression
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			if rest != "" {
				literal = true
				b.WriteString(rest)
			}
			break
		}
		if start > 0 {
			literal = true
			b.WriteString(rest[:start])
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, errors.Errorf("unterminated ${ in expression %q", expression)
		}
		name := rest[start+2 : start+end]
		value, ok := values[name]
		if !ok {
			return nil, errors.Errorf("provider state has no value for %q", name)
		}
		substitutions++
		single = value
		b.WriteString(stringForm(value))
		rest = rest[start+end+1:]
	}

	if substitutions == 1 && !literal {
		return single, nil
	}
	return b.String(), nil
}

func stringForm(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// CoerceTo converts a generated value to the declared data type so the
// substituted value keeps the JSON type of the template it replaces.
func CoerceTo(value interface{}, dataType string) (interface{}, error) {
	switch strings.ToUpper(dataType) {
	case "", "RAW":
		return value, nil
	case "STRING":
		return stringForm(value), nil
	case "INTEGER":
		switch v := value.(type) {
		case float64:
			return int64(v), nil
		case int, int64:
			return v, nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to coerce %q to an integer", v)
			}
			return n, nil
		}
	case "DECIMAL", "FLOAT":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to coerce %q to a decimal", v)
			}
			return f, nil
		}
	case "BOOLEAN":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to coerce %q to a boolean", v)
			}
			return b, nil
		}
	}
	return nil, errors.Errorf("unable to coerce %v to %s", value, dataType)
}

// coerceToTemplateType aligns a generated value with the JSON type of the
// value it replaces: a string template keeps a string, a numeric template
// keeps a number.
func coerceToTemplateType(generated, template interface{}) interface{} {
	switch template.(type) {
	case string:
		return stringForm(generated)
	case float64, int64, int:
		switch g := generated.(type) {
		case float64, int64, int:
			return g
		case string:
			if n, err := strconv.ParseFloat(g, 64); err == nil {
				return n
			}
		}
	case bool:
		switch g := generated.(type) {
		case bool:
			return g
		case string:
			if b, err := strconv.ParseBool(g); err == nil {
				return b
			}
		}
	}
	return generated
}
