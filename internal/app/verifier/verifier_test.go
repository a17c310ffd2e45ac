package verifier

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
)

const verifierPact = `{
	"consumer": {"name": "user-web"},
	"provider": {"name": "user-service"},
	"interactions": [
		{
			"description": "a request for user 123",
			"providerStates": [{"name": "user 123 exists", "params": {"id": "123"}}],
			"request": {
				"method": "GET",
				"path": "/users/123"
			},
			"response": {
				"status": 200,
				"headers": {"Content-Type": "application/json"},
				"body": {"id": 1, "name": "Alice", "created_on": "2023-01-01T00:00:00+00:00"},
				"matchingRules": {
					"body": {
						"$.id": {"combine": "AND", "matchers": [{"match": "integer"}]},
						"$.name": {"combine": "AND", "matchers": [{"match": "type"}]},
						"$.created_on": {"combine": "AND", "matchers": [{"match": "datetime"}]}
					}
				}
			}
		}
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func writePactFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pact.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func providerReturning(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func optionsFor(provider *httptest.Server, pactPath string) Options {
	var port int
	fmt.Sscanf(provider.Listener.Addr().String(), "127.0.0.1:%d", &port)
	return Options{
		Provider: ProviderInfo{Hostname: "127.0.0.1", Port: port},
		Sources:  []PactSource{{Kind: FileSource, Location: pactPath}},
		Matching: matching.DefaultConfig(),
	}
}

func TestVerifySuccess(t *testing.T) {
	provider := providerReturning(t, 200, `{"id": 7, "name": "Bob", "created_on": "2024-01-02T03:04:05+00:00"}`)
	pactPath := writePactFile(t, verifierPact)

	result, err := New(optionsFor(provider, pactPath)).Verify()
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Ok())
	assert.True(t, result.Passed())
}

func TestVerifyBodyMismatch(t *testing.T) {
	provider := providerReturning(t, 200, `{"id": "not-a-number", "name": "Bob", "created_on": "2024-01-02T03:04:05+00:00"}`)
	pactPath := writePactFile(t, verifierPact)

	result, err := New(optionsFor(provider, pactPath)).Verify()
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, Failed, result.Results[0].Outcome)
	require.Len(t, result.Results[0].Mismatches, 1)
	assert.Equal(t, "$.id", result.Results[0].Mismatches[0].Path)
	assert.False(t, result.Passed())

	doc := result.ToJSON()
	assert.Equal(t, false, doc["result"])
	errorsOut := doc["errors"].([]interface{})
	require.Len(t, errorsOut, 1)
}

func TestVerifyProviderDown(t *testing.T) {
	pactPath := writePactFile(t, verifierPact)
	opts := Options{
		Provider: ProviderInfo{Hostname: "127.0.0.1", Port: 1},
		Sources:  []PactSource{{Kind: FileSource, Location: pactPath}},
	}
	result, err := New(opts).Verify()
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, Errored, result.Results[0].Outcome)
	assert.False(t, result.Passed())
}

func TestVerifyStateChangeProtocol(t *testing.T) {
	type stateCall struct {
		State  string                 `json:"state"`
		Params map[string]interface{} `json:"params"`
		Action string                 `json:"action"`
	}
	var mu sync.Mutex
	var calls []stateCall

	states := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var call stateCall
		require.NoError(t, json.Unmarshal(data, &call))
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "123"}`)
	}))
	defer states.Close()

	provider := providerReturning(t, 200, `{"id": 7, "name": "Bob", "created_on": "2024-01-02T03:04:05+00:00"}`)
	pactPath := writePactFile(t, verifierPact)

	opts := optionsFor(provider, pactPath)
	opts.StateChange = StateChangeConfig{URL: states.URL, Teardown: true}

	result, err := New(opts).Verify()
	require.NoError(t, err)
	assert.True(t, result.Passed())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, stateCall{State: "user 123 exists", Params: map[string]interface{}{"id": "123"}, Action: "setup"}, calls[0])
	assert.Equal(t, "teardown", calls[1].Action)
	assert.Equal(t, "user 123 exists", calls[1].State)
}

func TestVerifyStateChangeFailure(t *testing.T) {
	states := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer states.Close()

	provider := providerReturning(t, 200, `{}`)
	pactPath := writePactFile(t, verifierPact)
	opts := optionsFor(provider, pactPath)
	opts.StateChange = StateChangeConfig{URL: states.URL}

	result, err := New(opts).Verify()
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, Errored, result.Results[0].Outcome)
}

const pendingPact = `{
	"consumer": {"name": "user-web"},
	"provider": {"name": "user-service"},
	"interactions": [
		{
			"type": "Synchronous/HTTP",
			"description": "an experimental request",
			"pending": true,
			"request": {"method": "GET", "path": "/experimental"},
			"response": {"status": 200}
		}
	],
	"metadata": {"pactSpecification": {"version": "4.0"}}
}`

func TestVerifyPendingInteractionNeverFailsTheRun(t *testing.T) {
	provider := providerReturning(t, 500, `{}`)
	pactPath := writePactFile(t, pendingPact)

	result, err := New(optionsFor(provider, pactPath)).Verify()
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, Failed, result.Results[0].Outcome)
	assert.True(t, result.Results[0].Pending)
	assert.True(t, result.Passed())

	doc := result.ToJSON()
	assert.Equal(t, true, doc["result"])
	assert.Empty(t, doc["errors"])
	require.Len(t, doc["pendingErrors"], 1)
}

func TestVerifyFilters(t *testing.T) {
	provider := providerReturning(t, 200, `{"id": 7, "name": "Bob", "created_on": "2024-01-02T03:04:05+00:00"}`)
	pactPath := writePactFile(t, verifierPact)

	opts := optionsFor(provider, pactPath)
	opts.FilterDescription = "no such interaction"
	opts.IgnoreNoPactsError = true
	result, err := New(opts).Verify()
	require.NoError(t, err)
	assert.Empty(t, result.Results)

	opts = optionsFor(provider, pactPath)
	opts.FilterState = "user 123 exists"
	result, err = New(opts).Verify()
	require.NoError(t, err)
	assert.Len(t, result.Results, 1)

	opts = optionsFor(provider, pactPath)
	opts.FilterNoState = true
	result, err = New(opts).Verify()
	require.NoError(t, err)
	assert.Empty(t, result.Results)

	opts = optionsFor(provider, pactPath)
	opts.FilterConsumers = []string{"another-consumer"}
	result, err = New(opts).Verify()
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestVerifyNoPactsFound(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Sources: []PactSource{{Kind: DirSource, Location: dir}},
	}
	_, err := New(opts).Verify()
	require.Error(t, err)

	opts.IgnoreNoPactsError = true
	result, err := New(opts).Verify()
	require.NoError(t, err)
	assert.True(t, result.NoPactsFound)
}

func TestVerifyCustomHeadersNeverOverwrite(t *testing.T) {
	var received http.Header
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer provider.Close()

	pactPath := writePactFile(t, `{
		"consumer": {"name": "c"},
		"provider": {"name": "p"},
		"interactions": [
			{
				"description": "a probe",
				"request": {"method": "GET", "path": "/probe", "headers": {"X-Set-By-Pact": "interaction"}},
				"response": {"status": 204}
			}
		],
		"metadata": {"pactSpecification": {"version": "3.0.0"}}
	}`)

	opts := optionsFor(provider, pactPath)
	opts.Provider.CustomHeaders = map[string]string{
		"X-Set-By-Pact": "custom",
		"X-Extra":       "added",
	}
	result, err := New(opts).Verify()
	require.NoError(t, err)
	require.True(t, result.Passed())
	assert.Equal(t, "interaction", received.Get("X-Set-By-Pact"))
	assert.Equal(t, "added", received.Get("X-Extra"))
}

func TestLastFailedCache(t *testing.T) {
	dir := t.TempDir()
	results := []VerificationResult{
		{InteractionKey: "aaaa", Outcome: Failed},
		{InteractionKey: "bbbb", Outcome: Success},
		{InteractionKey: "cccc", Outcome: Failed, Pending: true},
	}
	require.NoError(t, SaveLastFailed(dir, results))

	keys, err := LoadLastFailed(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"aaaa": true}, keys)

	empty, err := LoadLastFailed(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
