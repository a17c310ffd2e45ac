package configuration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminTestPact = `{
	"consumer": {"name": "c"},
	"provider": {"name": "p"},
	"interactions": [
		{
			"description": "a ping",
			"request": {"method": "GET", "path": "/ping"},
			"response": {"status": 200, "headers": {"Content-Type": "text/plain"}, "body": "pong"}
		}
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func adminEcho(t *testing.T) (*echo.Echo, adminAPI) {
	t.Helper()
	config := Config{Host: "localhost", PactDir: t.TempDir()}
	api := adminAPI{config: config}
	e := echo.New()
	e.HideBanner = true
	e.POST("/", api.createHandler)
	e.GET("/:port/matched", api.matchedHandler)
	e.GET("/:port/mismatches", api.mismatchesHandler)
	e.POST("/:port/pact", api.writePactHandler)
	e.DELETE("/:port", api.deleteHandler)
	t.Cleanup(func() {
		ShutdownAllServers(context.Background())
	})
	return e, api
}

func TestAdminAPILifecycle(t *testing.T) {
	e, _ := adminEcho(t)

	// Create a mock server from pact JSON.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(adminTestPact))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		Port int    `json:"port"`
		URL  string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.Port)

	// Not yet matched.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%d/matched", created.Port), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matched":false`)

	// Exercise the interaction against the real listener.
	res, err := http.Get(created.URL + "/ping")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%d/matched", created.Port), nil))
	assert.Contains(t, rec.Body.String(), `"matched":true`)

	// Write the pact.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/%d/pact", created.Port), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c-p.json")

	// Shut it down and confirm it is gone.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/%d", created.Port), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%d/matched", created.Port), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAPIRejectsBadPact(t *testing.T) {
	e, _ := adminEcho(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
