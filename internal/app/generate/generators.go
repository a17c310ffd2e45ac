package generate

import (
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucasjones/reggen"
	"github.com/pkg/errors"

	"github.com/form3tech-oss/pact-core/internal/app/datetime"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

// Context carries everything generators may depend on: provider-state
// values merged from state-change responses, the live mock server URL,
// the base instant for relative date expressions and the mode.
type Context struct {
	ProviderStateValues map[string]interface{}
	MockServerURL       string
	BaseTime            time.Time
	Mode                pactmodel.GeneratorMode
}

// NewContext returns a context for the given mode anchored at now.
func NewContext(mode pactmodel.GeneratorMode) *Context {
	return &Context{
		ProviderStateValues: map[string]interface{}{},
		BaseTime:            time.Now(),
		Mode:                mode,
	}
}

const hexDigits = "0123456789abcdef"
const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateValue produces a concrete value from a generator and the
// template value it replaces. ProviderState is the only fallible
// generator in practice; any error leaves the caller free to keep the
// template.
func GenerateValue(g pactmodel.Generator, template interface{}, ctx *Context) (interface{}, error) {
	switch g.Kind {
	case pactmodel.GenRandomInt:
		min, max := g.Min, g.Max
		if max < min {
			min, max = max, min
		}
		return int64(min) + rand.Int63n(int64(max-min)+1), nil

	case pactmodel.GenRandomDecimal:
		digits := g.Digits
		if digits < 2 {
			digits = 2
		}
		// The decimal point occupies one of the requested positions.
		var b strings.Builder
		point := 1 + rand.Intn(digits-1)
		for i := 0; i < digits; i++ {
			switch {
			case i == point:
				b.WriteByte('.')
			case i == 0 && point > 1:
				b.WriteByte('1' + byte(rand.Intn(9)))
			default:
				b.WriteByte('0' + byte(rand.Intn(10)))
			}
		}
		return b.String(), nil

	case pactmodel.GenRandomHexadecimal:
		digits := g.Digits
		if digits <= 0 {
			digits = 8
		}
		b := make([]byte, digits)
		for i := range b {
			b[i] = hexDigits[rand.Intn(16)]
		}
		return string(b), nil

	case pactmodel.GenRandomString:
		size := g.Size
		if size <= 0 {
			size = 20
		}
		b := make([]byte, size)
		for i := range b {
			b[i] = alphanumerics[rand.Intn(len(alphanumerics))]
		}
		return string(b), nil

	case pactmodel.GenRegex:
		out, err := reggen.Generate(g.Regex, 10)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to generate a value for regex %q", g.Regex)
		}
		return out, nil

	case pactmodel.GenUuid:
		return formatUuid(uuid.New(), g.Format), nil

	case pactmodel.GenDate:
		t, err := datetime.Evaluate(g.Expression, ctx.BaseTime)
		if err != nil {
			return nil, err
		}
		return t.Format(datetime.LayoutFor(g.Format, datetime.DefaultDateLayout)), nil

	case pactmodel.GenTime:
		t, err := datetime.Evaluate(g.Expression, ctx.BaseTime)
		if err != nil {
			return nil, err
		}
		return t.Format(datetime.LayoutFor(g.Format, datetime.DefaultTimeLayout)), nil

	case pactmodel.GenDateTime:
		t, err := datetime.Evaluate(g.Expression, ctx.BaseTime)
		if err != nil {
			return nil, err
		}
		return t.Format(datetime.LayoutFor(g.Format, datetime.DefaultDateTimeLayout)), nil

	case pactmodel.GenRandomBoolean:
		return rand.Intn(2) == 1, nil

	case pactmodel.GenProviderState:
		value, err := EvaluateExpression(g.Expression, ctx.ProviderStateValues)
		if err != nil {
			return nil, err
		}
		if g.DataType != "" {
			coerced, err := CoerceTo(value, g.DataType)
			if err != nil {
				return nil, err
			}
			return coerceToTemplateType(coerced, template), nil
		}
		return coerceToTemplateType(value, template), nil

	case pactmodel.GenMockServerURL:
		return generateMockServerURL(g, template, ctx)
	}
	return nil, errors.Errorf("generator %q cannot produce a value here", g.Kind)
}

func formatUuid(id uuid.UUID, format string) string {
	switch format {
	case "simple":
		return strings.ReplaceAll(id.String(), "-", "")
	case "upper-case-hyphenated":
		return strings.ToUpper(id.String())
	case "URN", "urn":
		return "urn:uuid:" + id.String()
	default:
		return id.String()
	}
}

// generateMockServerURL rewrites an example URL to point at the running
// mock server: the path portion is extracted from the source value with
// the generator's regex and prefixed with the live base URL. The source
// is the mockServerURL or href context entry when present, otherwise the
// template value or the recorded example.
func generateMockServerURL(g pactmodel.Generator, template interface{}, ctx *Context) (interface{}, error) {
	if ctx.MockServerURL == "" {
		return nil, errors.New("no mock server URL is available in the generator context")
	}
	source := ""
	if v, ok := ctx.ProviderStateValues["mockServerURL"].(string); ok && v != "" {
		source = v
	} else if v, ok := ctx.ProviderStateValues["href"].(string); ok && v != "" {
		source = v
	} else if s, ok := template.(string); ok && s != "" {
		source = s
	} else {
		source = g.Example
	}

	re, err := regexp.Compile(g.Regex)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid mock server URL regex %q", g.Regex)
	}
	groups := re.FindStringSubmatch(source)
	if len(groups) < 2 {
		return nil, errors.Errorf("the URL %q does not match %q", source, g.Regex)
	}
	base := strings.TrimSuffix(ctx.MockServerURL, "/")
	return base + "/" + strings.TrimPrefix(groups[1], "/"), nil
}
