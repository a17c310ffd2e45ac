package matching

import (
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/paths"
	log "github.com/sirupsen/logrus"
)

// Config carries the tunable parts of the matching behaviour. The header
// lists default to the RFC-derived sets. ParameterisedHeaders is read by the
// header comparison. MultiValueHeaders is not read by the matcher: header
// values are split on commas when a pact is parsed, using the package-level
// pactmodel.MultiValueHeaders list whatever this field holds.
type Config struct {
	MultiValueHeaders    []string
	ParameterisedHeaders []string
}

// DefaultConfig returns the standard header handling.
func DefaultConfig() Config {
	return Config{
		MultiValueHeaders:    pactmodel.MultiValueHeaders,
		ParameterisedHeaders: pactmodel.ParameterisedHeaders,
	}
}

// Context drives rule selection while the kernel descends a body tree. It
// wraps one rule category plus the spec version and configuration.
type Context struct {
	Version  pactmodel.SpecVersion
	Config   Config
	category *pactmodel.MatchingRuleCategory

	// parsed pattern paths, keyed by their expression
	patterns map[string]paths.Path

	// multipart boundaries of the bodies under comparison, set by the
	// kernel before dispatching to the multipart codec
	expectedBoundary string
	actualBoundary   string
}

// NewContext builds a context over one rule category. A nil category means
// no rules are defined.
func NewContext(version pactmodel.SpecVersion, category *pactmodel.MatchingRuleCategory, cfg Config) *Context {
	ctx := &Context{Version: version, Config: cfg, category: category, patterns: map[string]paths.Path{}}
	if category != nil {
		for expr := range category.Rules {
			p, err := paths.Parse(expr)
			if err != nil {
				log.WithField("path", expr).Warnf("ignoring unparseable matching rule path: %v", err)
				continue
			}
			ctx.patterns[expr] = p
		}
	}
	return ctx
}

// selected is one rule entry that matched a concrete path.
type selected struct {
	expr    string
	pattern paths.Path
	weight  int
	list    *pactmodel.RuleList
}

// MatcherDefined reports whether any rule applies at the concrete path,
// either declared there or cascading from an ancestor.
func (c *Context) MatcherDefined(concrete paths.Path) bool {
	return c.bestEntry(concrete) != nil
}

func (c *Context) bestEntry(concrete paths.Path) *selected {
	var best *selected
	for expr, pattern := range c.patterns {
		w := pattern.Weight(concrete)
		if w == 0 {
			continue
		}
		list := c.category.Rules[expr]
		if list == nil || len(list.Rules) == 0 {
			continue
		}
		if best == nil || w > best.weight ||
			(w == best.weight && pattern.Len() > best.pattern.Len()) {
			best = &selected{expr: expr, pattern: pattern, weight: w, list: list}
		}
	}
	return best
}

// SelectRules resolves the effective rule list at a concrete path. Rules
// cascading down from an ancestor have their length-bounded type variants
// rewritten to plain Type: the bound binds only at the declared node while
// the type check still applies to children.
func (c *Context) SelectRules(concrete paths.Path) (pactmodel.RuleList, bool) {
	best := c.bestEntry(concrete)
	if best == nil {
		return pactmodel.RuleList{}, false
	}
	list := pactmodel.RuleList{Combine: best.list.Combine}
	cascaded := best.pattern.Len() < concrete.Len()
	for _, r := range best.list.Rules {
		if cascaded && !r.Cascades() {
			// The length bound of min/max type rules binds only where
			// declared; below that level only the type check survives.
			list.Rules = append(list.Rules, pactmodel.MatchingRule{Kind: pactmodel.RuleType})
			continue
		}
		list.Rules = append(list.Rules, r)
	}
	if list.Combine == "" {
		list.Combine = pactmodel.CombineAnd
	}
	return list, true
}

// TypeMatcherActive reports whether the effective rule at the path makes
// array comparison template-driven rather than positional.
func (c *Context) TypeMatcherActive(concrete paths.Path) bool {
	list, ok := c.SelectRules(concrete)
	if !ok {
		return false
	}
	for _, r := range list.Rules {
		if r.IsTypeMatcher() {
			return true
		}
	}
	return false
}

// ValuesMatcherActive reports whether key-set equality is suppressed for
// the object at the path.
func (c *Context) ValuesMatcherActive(concrete paths.Path) bool {
	list, ok := c.SelectRules(concrete)
	if !ok {
		return false
	}
	for _, r := range list.Rules {
		if r.IsValuesMatcher() {
			return true
		}
	}
	return false
}

// subContext returns a context over a different category sharing the same
// version and configuration.
func (c *Context) subContext(category *pactmodel.MatchingRuleCategory) *Context {
	return NewContext(c.Version, category, c.Config)
}
