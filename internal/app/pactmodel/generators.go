package pactmodel

import (
	"sort"

	"github.com/pkg/errors"
)

// GeneratorKind enumerates the closed set of generator kinds, named as they
// appear in pact JSON.
type GeneratorKind string

const (
	GenRandomInt         GeneratorKind = "RandomInt"
	GenRandomDecimal     GeneratorKind = "RandomDecimal"
	GenRandomHexadecimal GeneratorKind = "RandomHexadecimal"
	GenRandomString      GeneratorKind = "RandomString"
	GenRegex             GeneratorKind = "Regex"
	GenUuid              GeneratorKind = "Uuid"
	GenDate              GeneratorKind = "Date"
	GenTime              GeneratorKind = "Time"
	GenDateTime          GeneratorKind = "DateTime"
	GenRandomBoolean     GeneratorKind = "RandomBoolean"
	GenProviderState     GeneratorKind = "ProviderState"
	GenMockServerURL     GeneratorKind = "MockServerURL"
	GenArrayContains     GeneratorKind = "ArrayContains"
)

// GeneratorMode says when a generator runs: while the consumer records
// example values, or while the verifier prepares a request for replay.
type GeneratorMode int

const (
	ModeConsumer GeneratorMode = iota
	ModeProvider
)

// Generator is one declarative value generator.
type Generator struct {
	Kind       GeneratorKind
	Min        int
	Max        int
	Digits     int
	Size       int
	Regex      string
	Format     string // date/time/datetime format, or uuid format name
	Expression string // date/time expression or provider-state expression
	DataType   string // provider-state coercion target
	Example    string // mock-server-url example value
	Variants   []ArrayContainsVariant
}

// AppliesTo reports whether the generator should run in the given mode.
// Random generators produce consumer-side example values only; state
// injection only makes sense during provider verification. MockServerURL
// runs in both modes: the mock server rewrites recorded broker links to
// itself, and the verifier rewrites them to the broker it fetched from.
func (g Generator) AppliesTo(mode GeneratorMode) bool {
	switch g.Kind {
	case GenProviderState:
		return mode == ModeProvider
	case GenRandomInt, GenRandomDecimal, GenRandomHexadecimal, GenRandomString,
		GenRegex, GenRandomBoolean, GenArrayContains:
		return mode == ModeConsumer
	}
	return true
}

// GeneratorFromJSON decodes a generator definition {"type": "RandomInt",
// "min": 0, "max": 10}.
func GeneratorFromJSON(attrs map[string]interface{}) (Generator, error) {
	kind, ok := attrs["type"].(string)
	if !ok {
		return Generator{}, errors.Errorf("generator definition %v has no type attribute", attrs)
	}
	g := Generator{Kind: GeneratorKind(kind)}
	switch g.Kind {
	case GenRandomInt:
		if v := intAttr(attrs, "min"); v != nil {
			g.Min = *v
		}
		if v := intAttr(attrs, "max"); v != nil {
			g.Max = *v
		} else {
			g.Max = 2147483647
		}
	case GenRandomDecimal, GenRandomHexadecimal:
		g.Digits = 10
		if v := intAttr(attrs, "digits"); v != nil {
			g.Digits = *v
		}
	case GenRandomString:
		g.Size = 20
		if v := intAttr(attrs, "size"); v != nil {
			g.Size = *v
		}
	case GenRegex:
		g.Regex = strAttr(attrs, "regex")
		if g.Regex == "" {
			return Generator{}, errors.New("Regex generator is missing its regex attribute")
		}
	case GenUuid:
		g.Format = strAttr(attrs, "format")
	case GenDate, GenTime, GenDateTime:
		g.Format = strAttr(attrs, "format")
		g.Expression = strAttr(attrs, "expression")
	case GenRandomBoolean:
	case GenProviderState:
		g.Expression = strAttr(attrs, "expression")
		g.DataType = strAttr(attrs, "dataType")
	case GenMockServerURL:
		g.Example = strAttr(attrs, "example")
		g.Regex = strAttr(attrs, "regex")
	case GenArrayContains:
		variants, err := variantsFromJSON(attrs["variants"])
		if err != nil {
			return Generator{}, err
		}
		g.Variants = variants
	default:
		return Generator{}, errors.Errorf("unknown generator kind %q", kind)
	}
	return g, nil
}

// GeneratorToJSON emits the JSON definition of a generator.
func GeneratorToJSON(g Generator) map[string]interface{} {
	out := map[string]interface{}{"type": string(g.Kind)}
	switch g.Kind {
	case GenRandomInt:
		out["min"] = g.Min
		out["max"] = g.Max
	case GenRandomDecimal, GenRandomHexadecimal:
		out["digits"] = g.Digits
	case GenRandomString:
		out["size"] = g.Size
	case GenRegex:
		out["regex"] = g.Regex
	case GenUuid:
		if g.Format != "" {
			out["format"] = g.Format
		}
	case GenDate, GenTime, GenDateTime:
		if g.Format != "" {
			out["format"] = g.Format
		}
		if g.Expression != "" {
			out["expression"] = g.Expression
		}
	case GenProviderState:
		out["expression"] = g.Expression
		if g.DataType != "" {
			out["dataType"] = g.DataType
		}
	case GenMockServerURL:
		out["example"] = g.Example
		out["regex"] = g.Regex
	case GenArrayContains:
		variants := make([]interface{}, 0, len(g.Variants))
		for _, v := range g.Variants {
			variants = append(variants, map[string]interface{}{"index": v.Index})
		}
		out["variants"] = variants
	}
	return out
}

// GeneratorCategory holds path-keyed generators for one part category.
type GeneratorCategory struct {
	Name       string
	Generators map[string]Generator
}

// Generators groups generator categories for one interaction part.
type Generators struct {
	categories map[string]*GeneratorCategory
}

// NewGenerators returns an empty generator set.
func NewGenerators() *Generators {
	return &Generators{categories: map[string]*GeneratorCategory{}}
}

// Category returns the named category, creating it on first use.
func (g *Generators) Category(name string) *GeneratorCategory {
	if g.categories == nil {
		g.categories = map[string]*GeneratorCategory{}
	}
	c, ok := g.categories[name]
	if !ok {
		c = &GeneratorCategory{Name: name, Generators: map[string]Generator{}}
		g.categories[name] = c
	}
	return c
}

// Lookup returns the named category without creating it.
func (g *Generators) Lookup(name string) (*GeneratorCategory, bool) {
	if g == nil || g.categories == nil {
		return nil, false
	}
	c, ok := g.categories[name]
	return c, ok
}

// Add registers a generator for a path in the named category.
func (g *Generators) Add(category, path string, gen Generator) {
	g.Category(category).Generators[path] = gen
}

// IsEmpty reports whether no category holds any generator.
func (g *Generators) IsEmpty() bool {
	if g == nil {
		return true
	}
	for _, c := range g.categories {
		if len(c.Generators) > 0 {
			return false
		}
	}
	return true
}

// CategoryNames lists non-empty categories in stable order.
func (g *Generators) CategoryNames() []string {
	var out []string
	for n, c := range g.categories {
		if len(c.Generators) > 0 {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// ParseGenerators decodes the V3+ form {"body": {"$.id": {...}}, "path":
// {...}}. The path, method and status categories carry a single definition.
func ParseGenerators(raw map[string]interface{}) (*Generators, error) {
	gens := NewGenerators()
	for category, v := range raw {
		entries, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("generator category %q is not an object", category)
		}
		if category == "path" || category == "method" || category == "status" {
			gen, err := GeneratorFromJSON(entries)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid generator for %q", category)
			}
			gens.Add(category, "$", gen)
			continue
		}
		for path, def := range entries {
			attrs, ok := def.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("generator at %q is not an object", path)
			}
			gen, err := GeneratorFromJSON(attrs)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid generator at %q", path)
			}
			gens.Add(category, path, gen)
		}
	}
	return gens, nil
}

// ToJSON emits the generator set. Returns nil when empty.
func (g *Generators) ToJSON() map[string]interface{} {
	if g.IsEmpty() {
		return nil
	}
	out := map[string]interface{}{}
	for _, name := range g.CategoryNames() {
		cat := g.categories[name]
		if name == "path" || name == "method" || name == "status" {
			if gen, ok := cat.Generators["$"]; ok {
				out[name] = GeneratorToJSON(gen)
			}
			continue
		}
		entries := map[string]interface{}{}
		for path, gen := range cat.Generators {
			entries[path] = GeneratorToJSON(gen)
		}
		out[name] = entries
	}
	return out
}
