package pactcore

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingPact = `{
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

func TestServePactLifecycle(t *testing.T) {
	server, err := ServePact([]byte(pingPact), "localhost", 0)
	require.NoError(t, err)
	defer server.Shutdown(context.Background())

	require.NotZero(t, server.Port())
	assert.False(t, server.Matched())

	res, err := http.Get(server.URL() + "/ping")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	assert.True(t, server.Matched())
	assert.Empty(t, server.Mismatches())

	dir := t.TempDir()
	path, err := server.WritePact(dir)
	require.NoError(t, err)
	assert.Contains(t, path, "c-p.json")
}

func TestServePactRejectsInvalidJSON(t *testing.T) {
	_, err := ServePact([]byte("nope"), "localhost", 0)
	require.Error(t, err)
}
