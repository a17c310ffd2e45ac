package pactmodel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const v3Pact = `{
	"consumer": {"name": "consumer"},
	"provider": {"name": "provider"},
	"interactions": [
		{
			"description": "a request for user 123",
			"providerStates": [{"name": "user 123 exists", "params": {"id": "123"}}],
			"request": {
				"method": "get",
				"path": "/users/123",
				"query": {"full": ["true"]},
				"headers": {"Accept": "application/json"}
			},
			"response": {
				"status": 200,
				"headers": {"Content-Type": "application/json"},
				"body": {"id": 123, "name": "Alice"},
				"matchingRules": {
					"body": {
						"$.id": {"combine": "AND", "matchers": [{"match": "integer"}]},
						"$.name": {"combine": "AND", "matchers": [{"match": "type"}]}
					}
				}
			}
		}
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

const v2Pact = `{
	"consumer": {"name": "consumer"},
	"provider": {"name": "provider"},
	"interactions": [
		{
			"description": "a request for all users",
			"providerState": "users exist",
			"request": {
				"method": "GET",
				"path": "/users",
				"query": "page=1&size=20",
				"matchingRules": {
					"$.path": {"regex": "/users.*"}
				}
			},
			"response": {
				"status": 200,
				"body": [{"id": 1}],
				"matchingRules": {
					"$.body[0].id": {"match": "type"}
				}
			}
		}
	],
	"metadata": {"pactSpecification": {"version": "2.0.0"}}
}`

const v4Pact = `{
	"consumer": {"name": "consumer"},
	"provider": {"name": "provider"},
	"interactions": [
		{
			"type": "Synchronous/HTTP",
			"description": "a request for user 123",
			"key": "0123456789abcdef",
			"pending": true,
			"transport": "http",
			"request": {
				"method": "GET",
				"path": "/users/123",
				"body": {
					"content": {"probe": true},
					"contentType": "application/json",
					"encoded": false
				}
			},
			"response": {
				"status": 200,
				"body": {
					"content": "hello",
					"contentType": "text/plain",
					"encoded": false,
					"contentTypeHint": "TEXT"
				}
			},
			"comments": {"testname": "user_test", "text": ["flaky upstream"]}
		},
		{
			"type": "Asynchronous/Messages",
			"description": "a user created event",
			"contents": {
				"content": {"id": 1},
				"contentType": "application/json",
				"encoded": false
			},
			"metadata": {"contentType": "application/json", "topic": "users"}
		}
	],
	"metadata": {"pactSpecification": {"version": "4.0"}}
}`

func TestReadPactVersions(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		version SpecVersion
	}{
		{name: "v2", data: v2Pact, version: V2},
		{name: "v3", data: v3Pact, version: V3},
		{name: "v4", data: v4Pact, version: V4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pact, err := ReadPact([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.version, pact.SpecVersion)
			assert.Equal(t, "consumer", pact.Consumer.Name)
			assert.Equal(t, "provider", pact.Provider.Name)
			require.NotEmpty(t, pact.Interactions)
		})
	}
}

func TestReadPactDefaultsToV2(t *testing.T) {
	pact, err := ReadPact([]byte(`{
		"consumer": {"name": "c"},
		"provider": {"name": "p"},
		"interactions": []
	}`))
	require.NoError(t, err)
	assert.Equal(t, V2, pact.SpecVersion)
}

func TestReadPactErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "not json"},
		{name: "no consumer", data: `{"provider": {"name": "p"}, "interactions": []}`},
		{name: "empty provider name", data: `{"consumer": {"name": "c"}, "provider": {"name": ""}, "interactions": []}`},
		{name: "duplicate interactions", data: `{
			"consumer": {"name": "c"}, "provider": {"name": "p"},
			"interactions": [
				{"description": "dup", "request": {"method": "GET", "path": "/"}, "response": {"status": 200}},
				{"description": "dup", "request": {"method": "GET", "path": "/"}, "response": {"status": 201}}
			]
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPact([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestV2QueryString(t *testing.T) {
	pact, err := ReadPact([]byte(v2Pact))
	require.NoError(t, err)
	req := pact.Interactions[0].Request
	assert.Equal(t, []QueryValue{StringValue("1")}, req.Query["page"])
	assert.Equal(t, []QueryValue{StringValue("20")}, req.Query["size"])
}

func TestV2MatchingRulesSplit(t *testing.T) {
	pact, err := ReadPact([]byte(v2Pact))
	require.NoError(t, err)
	res := pact.Interactions[0].Response
	body, ok := res.MatchingRules.Lookup("body")
	require.True(t, ok)
	require.Contains(t, body.Rules, "$[0].id")
	req := pact.Interactions[0].Request
	pathCat, ok := req.MatchingRules.Lookup("path")
	require.True(t, ok)
	require.Contains(t, pathCat.Rules, "$")
	assert.Equal(t, RuleRegex, pathCat.Rules["$"].Rules[0].Kind)
}

func TestV4BodyStates(t *testing.T) {
	pact, err := ReadPact([]byte(v4Pact))
	require.NoError(t, err)
	interaction := pact.Interactions[0]
	assert.True(t, interaction.Pending)
	assert.Equal(t, "0123456789abcdef", interaction.Key())
	assert.Equal(t, BodyPresent, interaction.Request.Body.State)
	assert.JSONEq(t, `{"probe": true}`, string(interaction.Request.Body.Value))
	assert.Equal(t, BodyPresent, interaction.Response.Body.State)
	assert.Equal(t, HintText, interaction.Response.Body.Hint)
	assert.Equal(t, "hello", string(interaction.Response.Body.Value))

	message := pact.Interactions[1]
	assert.Equal(t, AsynchronousMessages, message.Type)
	assert.JSONEq(t, `{"id": 1}`, string(message.Message.Contents.Value))
	assert.Equal(t, "users", message.Message.Metadata["topic"])
}

func TestV4BodyEncodingStates(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		state BodyState
	}{
		{name: "missing content", body: `{}`, state: BodyMissing},
		{name: "null content", body: `{"content": null}`, state: BodyNull},
		{name: "empty unencoded string", body: `{"content": "", "encoded": false}`, state: BodyEmpty},
		{name: "base64", body: `{"content": "aGVsbG8=", "encoded": "base64", "contentType": "application/octet-stream"}`, state: BodyPresent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(tt.body), &raw))
			body, err := parseV4BodyJSON(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.state, body.State)
			if tt.state == BodyPresent {
				assert.Equal(t, "hello", string(body.Value))
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, data := range []string{v2Pact, v3Pact, v4Pact} {
		pact, err := ReadPact([]byte(data))
		require.NoError(t, err)

		written, err := pact.ToJSON(pact.SpecVersion)
		require.NoError(t, err)

		reloaded, err := ReadPact(written)
		require.NoError(t, err)

		rewritten, err := reloaded.ToJSON(reloaded.SpecVersion)
		require.NoError(t, err)

		var first, second interface{}
		require.NoError(t, json.Unmarshal(written, &first))
		require.NoError(t, json.Unmarshal(rewritten, &second))
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("pact changed across a load/write cycle (-first +second):\n%s", diff)
		}
	}
}

func TestInteractionKeyIsStable(t *testing.T) {
	build := func() *Interaction {
		i := NewHTTPInteraction("a request for user 123")
		i.ProviderStates = []ProviderState{{Name: "user 123 exists"}}
		i.Request.Path = "/users/123"
		return i
	}
	a, b := build(), build()
	require.Len(t, a.Key(), 16)
	assert.Equal(t, a.Key(), b.Key())

	c := build()
	c.Request.Path = "/users/456"
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestWritePactFileAndMerge(t *testing.T) {
	dir := t.TempDir()

	pact, err := ReadPact([]byte(v3Pact))
	require.NoError(t, err)

	// Merging into an empty directory yields the pact itself.
	path, err := WritePactFile(pact, dir, V3, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "consumer-provider.json"), path)

	loaded, err := LoadPactFile(path)
	require.NoError(t, err)
	require.Len(t, loaded.Interactions, 1)

	// Merging the identical pact again keeps it unchanged.
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = WritePactFile(pact, dir, V3, false)
	require.NoError(t, err)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	// A new interaction is appended.
	extra, err := ReadPact([]byte(v3Pact))
	require.NoError(t, err)
	extra.Interactions[0].Description = "a different request"
	_, err = WritePactFile(extra, dir, V3, false)
	require.NoError(t, err)
	merged, err := LoadPactFile(path)
	require.NoError(t, err)
	assert.Len(t, merged.Interactions, 2)

	// A conflicting interaction fails the merge.
	conflict, err := ReadPact([]byte(v3Pact))
	require.NoError(t, err)
	conflict.Interactions[0].Response.Status = 500
	_, err = WritePactFile(conflict, dir, V3, false)
	require.Error(t, err)
}

func TestMergeRejectsDifferentParties(t *testing.T) {
	a := NewPact("c1", "p")
	b := NewPact("c2", "p")
	_, err := Merge(a, b)
	require.Error(t, err)
}
