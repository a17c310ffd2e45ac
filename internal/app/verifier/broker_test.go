package verifier

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
)

// fakeBroker implements just enough HAL surface for the verification
// flow: index, pacts-for-verification, the pact itself and the publish
// endpoint.
type fakeBroker struct {
	server *httptest.Server

	mu               sync.Mutex
	verificationBody map[string]interface{}
	published        map[string]interface{}
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{}
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]interface{}{
			"_links": map[string]interface{}{
				"pb:provider-pacts-for-verification": map[string]interface{}{
					"href": b.server.URL + "/pacts/provider/{provider}/for-verification",
				},
			},
		})
	})

	mux.HandleFunc("/pacts/provider/user-service/for-verification", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &body))
		b.mu.Lock()
		b.verificationBody = body
		b.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"_embedded": map[string]interface{}{
				"pacts": []interface{}{
					map[string]interface{}{
						"_links": map[string]interface{}{
							"self": map[string]interface{}{
								"href": b.server.URL + "/pacts/provider/user-service/consumer/user-web/latest",
							},
						},
						"verificationProperties": map[string]interface{}{
							"pending": false,
							"notices": []interface{}{
								map[string]interface{}{"text": "the pact is being verified"},
							},
						},
					},
				},
			},
		})
	})

	mux.HandleFunc("/pacts/provider/user-service/consumer/user-web/latest", func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(verifierPact), &doc))
		doc["_links"] = map[string]interface{}{
			"pb:publish-verification-results": map[string]interface{}{
				"href": b.server.URL + "/pacts/provider/user-service/consumer/user-web/verification-results",
			},
		}
		writeJSON(w, doc)
	})

	mux.HandleFunc("/pacts/provider/user-service/consumer/user-web/verification-results", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &body))
		b.mu.Lock()
		b.published = body
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{}`)
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func writeJSON(w http.ResponseWriter, doc map[string]interface{}) {
	w.Header().Set("Content-Type", "application/hal+json")
	data, _ := json.Marshal(doc)
	w.Write(data)
}

func TestVerifyAgainstBrokerAndPublish(t *testing.T) {
	broker := newFakeBroker(t)
	provider := providerReturning(t, 200, `{"id": 7, "name": "Bob", "created_on": "2024-01-02T03:04:05+00:00"}`)

	var port int
	fmt.Sscanf(provider.Listener.Addr().String(), "127.0.0.1:%d", &port)
	opts := Options{
		Provider:     ProviderInfo{Hostname: "127.0.0.1", Port: port},
		ProviderName: "user-service",
		Sources: []PactSource{{
			Kind:          BrokerSource,
			Location:      broker.server.URL,
			Selectors:     []ConsumerVersionSelector{{MainBranch: true}},
			EnablePending: true,
		}},
		Publish:         true,
		ProviderVersion: "1.2.3",
		ProviderBranch:  "main",
		Matching:        matching.DefaultConfig(),
	}

	result, err := New(opts).Verify()
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Ok())
	assert.True(t, result.Results[0].Published)
	assert.Contains(t, result.Output, "the pact is being verified")

	broker.mu.Lock()
	defer broker.mu.Unlock()

	// The selection request carried the selectors and pending flag.
	require.NotNil(t, broker.verificationBody)
	assert.Equal(t, true, broker.verificationBody["includePendingStatus"])
	selectors := broker.verificationBody["consumerVersionSelectors"].([]interface{})
	require.Len(t, selectors, 1)
	assert.Equal(t, map[string]interface{}{"mainBranch": true}, selectors[0])

	// The published payload carries the verdict and provenance.
	require.NotNil(t, broker.published)
	assert.Equal(t, true, broker.published["success"])
	assert.Equal(t, "1.2.3", broker.published["providerApplicationVersion"])
	assert.Equal(t, "main", broker.published["providerBranch"])
	verifiedBy := broker.published["verifiedBy"].(map[string]interface{})
	assert.Equal(t, "pact-core", verifiedBy["implementation"])
	testResults := broker.published["testResults"].([]interface{})
	require.Len(t, testResults, 1)
	assert.Equal(t, true, testResults[0].(map[string]interface{})["success"])
}

func TestBrokerLinkExtraction(t *testing.T) {
	doc := map[string]interface{}{
		"_links": map[string]interface{}{
			"pb:provider-pacts-for-verification": map[string]interface{}{
				"href": "http://broker/pacts/provider/{provider}/for-verification",
			},
		},
	}
	href, err := link(doc, "pb:provider-pacts-for-verification")
	require.NoError(t, err)
	assert.Equal(t, "http://broker/pacts/provider/{provider}/for-verification", href)

	expanded := expandTemplate(href, map[string]string{"provider": "user-service"})
	assert.Equal(t, "http://broker/pacts/provider/user-service/for-verification", expanded)

	_, err = link(doc, "missing-rel")
	require.Error(t, err)
}
