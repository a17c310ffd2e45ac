package generate

import (
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

func TestRandomGenerators(t *testing.T) {
	ctx := NewContext(pactmodel.ModeConsumer)

	for i := 0; i < 50; i++ {
		value, err := GenerateValue(pactmodel.Generator{Kind: pactmodel.GenRandomInt, Min: 5, Max: 10}, nil, ctx)
		require.NoError(t, err)
		n := value.(int64)
		assert.GreaterOrEqual(t, n, int64(5))
		assert.LessOrEqual(t, n, int64(10))
	}

	value, err := GenerateValue(pactmodel.Generator{Kind: pactmodel.GenRandomHexadecimal, Digits: 8}, nil, ctx)
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{8}$", value)

	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenRandomString, Size: 12}, nil, ctx)
	require.NoError(t, err)
	assert.Len(t, value.(string), 12)

	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenRandomDecimal, Digits: 6}, nil, ctx)
	require.NoError(t, err)
	_, err = strconv.ParseFloat(value.(string), 64)
	require.NoError(t, err)

	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenRandomBoolean}, nil, ctx)
	require.NoError(t, err)
	_, ok := value.(bool)
	assert.True(t, ok)
}

func TestRegexGenerator(t *testing.T) {
	ctx := NewContext(pactmodel.ModeConsumer)
	pattern := "^[A-Z]{2}[0-9]{4}$"
	for i := 0; i < 20; i++ {
		value, err := GenerateValue(pactmodel.Generator{Kind: pactmodel.GenRegex, Regex: "[A-Z]{2}[0-9]{4}"}, nil, ctx)
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(pattern), value.(string))
	}
}

func TestUuidGenerator(t *testing.T) {
	ctx := NewContext(pactmodel.ModeConsumer)
	tests := []struct {
		format string
		regex  string
	}{
		{format: "", regex: "^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$"},
		{format: "simple", regex: "^[0-9a-f]{32}$"},
		{format: "upper-case-hyphenated", regex: "^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$"},
		{format: "URN", regex: "^urn:uuid:[0-9a-f]{8}-"},
	}
	for _, tt := range tests {
		value, err := GenerateValue(pactmodel.Generator{Kind: pactmodel.GenUuid, Format: tt.format}, nil, ctx)
		require.NoError(t, err)
		assert.Regexp(t, tt.regex, value.(string))
	}
}

func TestDateTimeGenerators(t *testing.T) {
	ctx := NewContext(pactmodel.ModeProvider)
	ctx.BaseTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	value, err := GenerateValue(pactmodel.Generator{Kind: pactmodel.GenDate, Format: "yyyy-MM-dd", Expression: "today + 2 days"}, nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-12", value)

	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenTime, Format: "HH:mm"}, nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, "12:00", value)

	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenDateTime, Expression: "now - 1 hour"}, nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10T11:00:00+00:00", value)
}

func TestProviderStateGenerator(t *testing.T) {
	ctx := NewContext(pactmodel.ModeProvider)
	ctx.ProviderStateValues = map[string]interface{}{
		"id":   float64(42),
		"name": "Alice",
	}

	value, err := GenerateValue(pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "${id}"}, float64(1), ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(42), value)

	// The generated value keeps the template's JSON type.
	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "${id}"}, "1", ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", value)

	value, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "/users/${id}"}, "/users/1", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/users/42", value)

	_, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "${unknown}"}, "x", ctx)
	require.Error(t, err)
}

func TestMockServerURLGenerator(t *testing.T) {
	ctx := NewContext(pactmodel.ModeProvider)
	ctx.MockServerURL = "http://localhost:51234"

	value, err := GenerateValue(pactmodel.Generator{
		Kind:    pactmodel.GenMockServerURL,
		Example: "http://localhost:9876/pacts/provider/p/consumer/c/latest",
		Regex:   `.*(\/pacts\/.*)$`,
	}, "http://localhost:9876/pacts/provider/p/consumer/c/latest", ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:51234/pacts/provider/p/consumer/c/latest", value)

	_, err = GenerateValue(pactmodel.Generator{Kind: pactmodel.GenMockServerURL, Regex: ".*(/nope/.*)$"}, "http://x/y", ctx)
	require.Error(t, err)
}

func TestGeneratorModes(t *testing.T) {
	random := pactmodel.Generator{Kind: pactmodel.GenRandomInt}
	state := pactmodel.Generator{Kind: pactmodel.GenProviderState}
	uuid := pactmodel.Generator{Kind: pactmodel.GenUuid}

	assert.True(t, random.AppliesTo(pactmodel.ModeConsumer))
	assert.False(t, random.AppliesTo(pactmodel.ModeProvider))
	assert.False(t, state.AppliesTo(pactmodel.ModeConsumer))
	assert.True(t, state.AppliesTo(pactmodel.ModeProvider))
	assert.True(t, uuid.AppliesTo(pactmodel.ModeConsumer))
	assert.True(t, uuid.AppliesTo(pactmodel.ModeProvider))
}

func TestApplyRequestGenerators(t *testing.T) {
	req := pactmodel.NewRequest()
	req.Method = "GET"
	req.Path = "/users/1"
	req.Headers["X-Request-Id"] = []string{"template"}
	req.Query["after"] = []pactmodel.QueryValue{pactmodel.StringValue("2000-01-01")}
	req.Body = pactmodel.PresentBody([]byte(`{"id": 1, "links": {"self": "http://localhost:9876/pacts/self"}}`), "application/json")

	req.Generators.Add("path", "$", pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "/users/${id}"})
	req.Generators.Add("header", "X-Request-Id", pactmodel.Generator{Kind: pactmodel.GenUuid})
	req.Generators.Add("query", "after", pactmodel.Generator{Kind: pactmodel.GenDate, Format: "yyyy-MM-dd"})
	req.Generators.Add("body", "$.id", pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "${id}", DataType: "INTEGER"})
	req.Generators.Add("body", "$.links.self", pactmodel.Generator{
		Kind:  pactmodel.GenMockServerURL,
		Regex: `.*(\/pacts\/.*)$`,
	})

	ctx := NewContext(pactmodel.ModeProvider)
	ctx.BaseTime = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	ctx.MockServerURL = "http://localhost:51234"
	ctx.ProviderStateValues["id"] = float64(42)

	out := ApplyRequest(req, ctx)

	assert.Equal(t, "/users/42", out.Path)
	assert.Regexp(t, "^[0-9a-f-]{36}$", out.Headers["X-Request-Id"][0])
	assert.Equal(t, "2024-05-10", out.Query["after"][0].Value)
	assert.Equal(t, int64(42), gjson.GetBytes(out.Body.Value, "id").Int())
	assert.Equal(t, "http://localhost:51234/pacts/self", gjson.GetBytes(out.Body.Value, "links.self").String())

	// The template is untouched.
	assert.Equal(t, "/users/1", req.Path)
	assert.Equal(t, "template", req.Headers["X-Request-Id"][0])
}

func TestGeneratorFailureKeepsTemplate(t *testing.T) {
	req := pactmodel.NewRequest()
	req.Body = pactmodel.PresentBody([]byte(`{"id": 1}`), "application/json")
	req.Generators.Add("body", "$.id", pactmodel.Generator{Kind: pactmodel.GenProviderState, Expression: "${missing}"})

	ctx := NewContext(pactmodel.ModeProvider)
	out := ApplyRequest(req, ctx)
	assert.JSONEq(t, `{"id": 1}`, string(out.Body.Value))
}

func TestApplyResponseGenerators(t *testing.T) {
	res := pactmodel.NewResponse()
	res.Status = 200
	res.Body = pactmodel.PresentBody([]byte(`{"token": "abc"}`), "application/json")
	res.Generators.Add("body", "$.token", pactmodel.Generator{Kind: pactmodel.GenRandomHexadecimal, Digits: 16})

	out := ApplyResponse(res, NewContext(pactmodel.ModeConsumer))
	assert.Regexp(t, "^[0-9a-f]{16}$", gjson.GetBytes(out.Body.Value, "token").String())
}

func TestWildcardBodyGeneratorPaths(t *testing.T) {
	res := pactmodel.NewResponse()
	res.Body = pactmodel.PresentBody([]byte(`{"items": [{"id": "a"}, {"id": "b"}]}`), "application/json")
	res.Generators.Add("body", "$.items[*].id", pactmodel.Generator{Kind: pactmodel.GenRandomHexadecimal, Digits: 4})

	out := ApplyResponse(res, NewContext(pactmodel.ModeConsumer))
	for _, id := range gjson.GetBytes(out.Body.Value, "items.#.id").Array() {
		assert.Regexp(t, "^[0-9a-f]{4}$", id.String())
	}
}
