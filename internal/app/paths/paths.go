package paths

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TokenKind discriminates the segments of a path expression.
type TokenKind int

const (
	// Root is the leading '$'.
	Root TokenKind = iota
	// Field selects an object member by name.
	Field
	// Index selects an array element by position.
	Index
	// Wildcard matches any single field or index.
	Wildcard
)

// Token is one segment of a parsed path expression.
type Token struct {
	Kind  TokenKind
	Name  string
	Index int
}

func (t Token) String() string {
	switch t.Kind {
	case Root:
		return "$"
	case Field:
		if strings.ContainsAny(t.Name, ".[]*'") {
			return "['" + t.Name + "']"
		}
		return "." + t.Name
	case Index:
		return "[" + strconv.Itoa(t.Index) + "]"
	default:
		return "[*]"
	}
}

// Path is a parsed selector, always starting with a Root token.
type Path struct {
	tokens []Token
}

// RootPath is the selector "$".
func RootPath() Path {
	return Path{tokens: []Token{{Kind: Root}}}
}

// Parse parses a selector in dotted or bracketed form, e.g. "$.a.b[0]",
// "$.items[*].id", "$['x.y']". A selector not starting with '$' is treated
// as a single field name under the root, which is how pre-V3 pact files
// key header and query rules.
func Parse(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, errors.New("path expression is empty")
	}
	if !strings.HasPrefix(expr, "$") {
		return Path{tokens: []Token{{Kind: Root}, {Kind: Field, Name: expr}}}, nil
	}

	tokens := []Token{{Kind: Root}}
	rest := expr[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if rest == "" {
				return Path{}, errors.Errorf("path expression %q ends with '.'", expr)
			}
			if rest[0] == '*' && (len(rest) == 1 || rest[1] == '.' || rest[1] == '[') {
				tokens = append(tokens, Token{Kind: Wildcard})
				rest = rest[1:]
				continue
			}
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return Path{}, errors.Errorf("path expression %q has an empty field name", expr)
			}
			tokens = append(tokens, Token{Kind: Field, Name: rest[:end]})
			rest = rest[end:]
		case '[':
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return Path{}, errors.Errorf("path expression %q has an unterminated '['", expr)
			}
			inner := rest[1:closing]
			rest = rest[closing+1:]
			switch {
			case inner == "*":
				tokens = append(tokens, Token{Kind: Wildcard})
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"'):
				if inner[len(inner)-1] != inner[0] {
					return Path{}, errors.Errorf("path expression %q has mismatched quotes", expr)
				}
				tokens = append(tokens, Token{Kind: Field, Name: inner[1 : len(inner)-1]})
			default:
				i, err := strconv.Atoi(inner)
				if err != nil || i < 0 {
					return Path{}, errors.Errorf("path expression %q has invalid index %q", expr, inner)
				}
				tokens = append(tokens, Token{Kind: Index, Index: i})
			}
		default:
			return Path{}, errors.Errorf("unexpected character %q in path expression %q", rest[0], expr)
		}
	}
	return Path{tokens: tokens}, nil
}

// MustParse is Parse for expressions known valid at compile time.
func MustParse(expr string) Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Tokens returns the parsed segments, root first.
func (p Path) Tokens() []Token {
	return p.tokens
}

// Len is the number of segments including the root.
func (p Path) Len() int {
	return len(p.tokens)
}

// IsRoot reports whether the path is just "$".
func (p Path) IsRoot() bool {
	return len(p.tokens) == 1
}

// Child returns the path extended by a field segment.
func (p Path) Child(name string) Path {
	tokens := make([]Token, len(p.tokens), len(p.tokens)+1)
	copy(tokens, p.tokens)
	return Path{tokens: append(tokens, Token{Kind: Field, Name: name})}
}

// Elem returns the path extended by an index segment.
func (p Path) Elem(i int) Path {
	tokens := make([]Token, len(p.tokens), len(p.tokens)+1)
	copy(tokens, p.tokens)
	return Path{tokens: append(tokens, Token{Kind: Index, Index: i})}
}

// Star returns the path extended by a wildcard segment.
func (p Path) Star() Path {
	tokens := make([]Token, len(p.tokens), len(p.tokens)+1)
	copy(tokens, p.tokens)
	return Path{tokens: append(tokens, Token{Kind: Wildcard})}
}

// Parent returns the path with the last segment dropped; the root is its
// own parent.
func (p Path) Parent() Path {
	if len(p.tokens) <= 1 {
		return p
	}
	return Path{tokens: p.tokens[:len(p.tokens)-1]}
}

func (p Path) String() string {
	var b strings.Builder
	for _, t := range p.tokens {
		b.WriteString(t.String())
	}
	return b.String()
}

const (
	weightExact    = 2
	weightWildcard = 1
)

// Weight scores this pattern path against a concrete path. 0 means no
// match; otherwise the product of per-segment weights (exact = 2,
// wildcard = 1), so more specific patterns always outweigh wildcards.
// A pattern longer than the concrete path never matches; a shorter
// pattern matches as a prefix.
func (p Path) Weight(concrete Path) int {
	if len(p.tokens) > len(concrete.tokens) {
		return 0
	}
	weight := 1
	for i, t := range p.tokens {
		c := concrete.tokens[i]
		switch t.Kind {
		case Root:
			if c.Kind != Root {
				return 0
			}
			weight *= weightExact
		case Wildcard:
			weight *= weightWildcard
		case Field:
			// An index segment also matches a field pattern holding its
			// decimal form, which is how rules keyed on object-like arrays
			// are written in V2 pact files.
			if c.Kind == Field && c.Name == t.Name {
				weight *= weightExact
			} else if c.Kind == Index && strconv.Itoa(c.Index) == t.Name {
				weight *= weightExact
			} else {
				return 0
			}
		case Index:
			if c.Kind != Index || c.Index != t.Index {
				return 0
			}
			weight *= weightExact
		}
	}
	return weight
}
