package mockserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

const userPact = `{
	"consumer": {"name": "user-web"},
	"provider": {"name": "user-service"},
	"interactions": [
		{
			"description": "a request for user 123",
			"request": {
				"method": "GET",
				"path": "/users/123"
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
		},
		{
			"description": "a request to create a user",
			"request": {
				"method": "POST",
				"path": "/users",
				"headers": {"Content-Type": "application/json"},
				"body": {"name": "Jane"}
			},
			"response": {
				"status": 201,
				"headers": {"Content-Type": "application/json"},
				"body": {"id": 1, "name": "Jane"}
			}
		}
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func startTestServer(t *testing.T) *Server {
	t.Helper()
	pact, err := pactmodel.ReadPact([]byte(userPact))
	require.NoError(t, err)
	server, err := Start(pact, "localhost", 0, matching.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server
}

func TestMockServerServesMatchedInteraction(t *testing.T) {
	server := startTestServer(t)

	res, err := http.Get(server.URL() + "/users/123")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 123, "name": "Alice"}`, string(body))
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
}

func TestMockServerMatchedAndWritePact(t *testing.T) {
	server := startTestServer(t)

	// Nothing exercised yet.
	assert.False(t, server.Matched())

	res, err := http.Get(server.URL() + "/users/123")
	require.NoError(t, err)
	res.Body.Close()

	res, err = http.Post(server.URL()+"/users", "application/json", bytes.NewBufferString(`{"name": "Jane"}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	assert.True(t, server.Matched())

	dir := t.TempDir()
	path, err := server.WritePact(dir)
	require.NoError(t, err)

	reloaded, err := pactmodel.LoadPactFile(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.Interactions, 2)
	assert.Equal(t, "user-web", reloaded.Consumer.Name)
}

func TestMockServerRecordsMismatch(t *testing.T) {
	server := startTestServer(t)

	// Wrong body for the create interaction: best candidate selected,
	// diagnostics returned.
	res, err := http.Post(server.URL()+"/users", "application/json", bytes.NewBufferString(`{"name": "Bob"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

	assert.False(t, server.Matched())
	results := server.Results()
	var mismatched int
	for _, r := range results {
		if r.Kind == RequestMismatched {
			mismatched++
			assert.Equal(t, "a request to create a user", r.Interaction)
			assert.NotEmpty(t, r.Mismatches)
		}
	}
	assert.Equal(t, 1, mismatched)
}

func TestMockServerUnknownRequest(t *testing.T) {
	server := startTestServer(t)

	res, err := http.Get(server.URL() + "/nothing/here")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.False(t, server.Matched())
}

func TestMockServerUnmatchedInteractionReported(t *testing.T) {
	server := startTestServer(t)

	res, err := http.Get(server.URL() + "/users/123")
	require.NoError(t, err)
	res.Body.Close()

	// The POST interaction never ran.
	assert.False(t, server.Matched())
	var missing []string
	for _, r := range server.Results() {
		if r.Kind == InteractionNotMatched {
			missing = append(missing, r.Interaction)
		}
	}
	assert.Equal(t, []string{"a request to create a user"}, missing)
}

func TestMockServerURLGeneratorRewrite(t *testing.T) {
	pactJSON := `{
		"consumer": {"name": "c"},
		"provider": {"name": "p"},
		"interactions": [
			{
				"description": "the index resource",
				"request": {"method": "GET", "path": "/"},
				"response": {
					"status": 200,
					"headers": {"Content-Type": "application/json"},
					"body": {"_links": {"self": {"href": "http://localhost:9876/pacts/provider/p/latest"}}},
					"generators": {
						"body": {
							"$._links.self.href": {
								"type": "MockServerURL",
								"example": "http://localhost:9876/pacts/provider/p/latest",
								"regex": ".*(\\/pacts\\/.*)$"
							}
						}
					}
				}
			}
		],
		"metadata": {"pactSpecification": {"version": "3.0.0"}}
	}`
	pact, err := pactmodel.ReadPact([]byte(pactJSON))
	require.NoError(t, err)
	server, err := Start(pact, "localhost", 0, matching.DefaultConfig())
	require.NoError(t, err)
	defer server.Shutdown(context.Background())

	res, err := http.Get(server.URL() + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), server.URL()+"/pacts/provider/p/latest")
}
