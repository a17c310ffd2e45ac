package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

func TestCompareXML(t *testing.T) {
	tests := []struct {
		name       string
		rules      map[string]pactmodel.MatchingRule
		expected   string
		actual     string
		mismatches int
	}{
		{
			name:     "identical documents",
			expected: `<user id="1"><name>Alice</name></user>`,
			actual:   `<user id="1"><name>Alice</name></user>`,
		},
		{
			name:       "different text",
			expected:   `<user><name>Alice</name></user>`,
			actual:     `<user><name>Bob</name></user>`,
			mismatches: 1,
		},
		{
			name:       "different attribute value",
			expected:   `<user id="1"/>`,
			actual:     `<user id="2"/>`,
			mismatches: 1,
		},
		{
			name:       "missing attribute",
			expected:   `<user id="1" role="admin"/>`,
			actual:     `<user id="1"/>`,
			mismatches: 1,
		},
		{
			name:       "unexpected attribute",
			expected:   `<user id="1"/>`,
			actual:     `<user id="1" extra="x"/>`,
			mismatches: 1,
		},
		{
			name:       "missing child element",
			expected:   `<user><name>A</name><email>a@b.c</email></user>`,
			actual:     `<user><name>A</name></user>`,
			mismatches: 1,
		},
		{
			name:       "repeated element count",
			expected:   `<list><item>1</item><item>2</item></list>`,
			actual:     `<list><item>1</item></list>`,
			mismatches: 1,
		},
		{
			name: "text rule",
			rules: map[string]pactmodel.MatchingRule{
				"$.user.name.#text": {Kind: pactmodel.RuleType},
			},
			expected: `<user><name>Alice</name></user>`,
			actual:   `<user><name>Bob</name></user>`,
		},
		{
			name: "attribute rule",
			rules: map[string]pactmodel.MatchingRule{
				"$.user.@id": {Kind: pactmodel.RuleRegex, Regex: "^[0-9]+$"},
			},
			expected: `<user id="1"/>`,
			actual:   `<user id="42"/>`,
		},
		{
			name: "type rule on repeated elements compares by template",
			rules: map[string]pactmodel.MatchingRule{
				"$.list.item": {Kind: pactmodel.RuleType},
			},
			expected: `<list><item>1</item></list>`,
			actual:   `<list><item>9</item><item>8</item><item>7</item></list>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := bodyContext(t, tt.rules)
			mismatches := xmlCodec{}.Compare([]byte(tt.expected), []byte(tt.actual), ctx)
			assert.Len(t, mismatches, tt.mismatches, "mismatches: %v", mismatches)
		})
	}
}

// Namespaces compare by URI, not by prefix.
func TestCompareXMLNamespaces(t *testing.T) {
	expected := `<a:user xmlns:a="http://example.com/ns"><a:name>Alice</a:name></a:user>`
	actual := `<b:user xmlns:b="http://example.com/ns"><b:name>Alice</b:name></b:user>`
	ctx := bodyContext(t, nil)
	require.Empty(t, xmlCodec{}.Compare([]byte(expected), []byte(actual), ctx))

	other := `<b:user xmlns:b="http://example.com/other"><b:name>Alice</b:name></b:user>`
	require.NotEmpty(t, xmlCodec{}.Compare([]byte(expected), []byte(other), ctx))
}

func TestCompareFormBodies(t *testing.T) {
	ctx := bodyContext(t, nil)
	require.Empty(t, formCodec{}.Compare([]byte("a=1&b=2"), []byte("b=2&a=1"), ctx))
	require.NotEmpty(t, formCodec{}.Compare([]byte("a=1"), []byte("a=2"), ctx))
	require.NotEmpty(t, formCodec{}.Compare([]byte("a=1"), []byte("a=1&extra=x"), ctx))

	withRule := bodyContext(t, map[string]pactmodel.MatchingRule{
		"$.age[0]": {Kind: pactmodel.RuleRegex, Regex: "^[0-9]+$"},
	})
	require.Empty(t, formCodec{}.Compare([]byte("age=30"), []byte("age=99"), withRule))
}

func TestCompareTextBodies(t *testing.T) {
	ctx := bodyContext(t, nil)
	require.Empty(t, textCodec{}.Compare([]byte("hello"), []byte("hello"), ctx))
	require.NotEmpty(t, textCodec{}.Compare([]byte("hello"), []byte("bye"), ctx))

	withRule := bodyContext(t, map[string]pactmodel.MatchingRule{
		"$": {Kind: pactmodel.RuleInclude, Value: "world"},
	})
	require.Empty(t, textCodec{}.Compare([]byte("hello"), []byte("hello world"), withRule))
	require.NotEmpty(t, textCodec{}.Compare([]byte("hello"), []byte("goodbye"), withRule))
}

func TestCompareBinaryBodies(t *testing.T) {
	ctx := bodyContext(t, nil)
	require.Empty(t, binaryCodec{}.Compare([]byte{1, 2, 3}, []byte{1, 2, 3}, ctx))
	require.NotEmpty(t, binaryCodec{}.Compare([]byte{1, 2, 3}, []byte{1, 2, 4}, ctx))

	// A ContentType rule at the root switches to magic-byte detection.
	withRule := bodyContext(t, map[string]pactmodel.MatchingRule{
		"$": {Kind: pactmodel.RuleContentType, Value: "image/png"},
	})
	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte("payload-a")...)
	other := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte("different")...)
	require.Empty(t, binaryCodec{}.Compare(png, other, withRule))
	require.NotEmpty(t, binaryCodec{}.Compare(png, []byte("just text"), withRule))
}
