// Package pactcore is the public surface of the contract testing engine:
// serve a pact on a mock server during a consumer test, and verify a
// provider against recorded pacts.
package pactcore

import (
	"context"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
	"github.com/form3tech-oss/pact-core/internal/app/mockserver"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/verifier"
)

// MockServer is a running provider double bound to one pact.
type MockServer struct {
	server *mockserver.Server
}

// ServePact loads pact JSON and starts a mock server for it on
// host:port; a zero port picks a free one.
func ServePact(pactJSON []byte, host string, port int) (*MockServer, error) {
	pact, err := pactmodel.ReadPact(pactJSON)
	if err != nil {
		return nil, err
	}
	return ServeLoadedPact(pact, host, port)
}

// ServePactFile is ServePact for a pact on disk.
func ServePactFile(path, host string, port int) (*MockServer, error) {
	pact, err := pactmodel.LoadPactFile(path)
	if err != nil {
		return nil, err
	}
	return ServeLoadedPact(pact, host, port)
}

// ServeLoadedPact starts a mock server for an already loaded pact.
func ServeLoadedPact(pact *pactmodel.Pact, host string, port int) (*MockServer, error) {
	server, err := mockserver.Start(pact, host, port, matching.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &MockServer{server: server}, nil
}

// URL returns the base URL the consumer under test should call.
func (m *MockServer) URL() string {
	return m.server.URL()
}

// Port returns the bound port.
func (m *MockServer) Port() int {
	return m.server.Port()
}

// Matched reports whether every interaction was exercised and nothing
// mismatched.
func (m *MockServer) Matched() bool {
	return m.server.Matched()
}

// Mismatches returns the recorded mismatch log in its JSON form.
func (m *MockServer) Mismatches() []map[string]interface{} {
	var out []map[string]interface{}
	for _, r := range m.server.Results() {
		if r.Kind == mockserver.RequestMatched {
			continue
		}
		out = append(out, r.ToJSON())
	}
	return out
}

// WritePact serialises the pact into dir, merging with any existing
// file, and returns the written path.
func (m *MockServer) WritePact(dir string) (string, error) {
	return m.server.WritePact(dir)
}

// Shutdown stops the server, waiting for in-flight requests.
func (m *MockServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

// VerifyOptions re-exports the verifier configuration.
type VerifyOptions = verifier.Options

// PactSource re-exports the verifier source description.
type PactSource = verifier.PactSource

// VerificationResult re-exports one graded interaction.
type VerificationResult = verifier.VerificationResult

// ExecutionResult re-exports a whole verification run.
type ExecutionResult = verifier.ExecutionResult

// Verify runs a provider verification with the given options.
func Verify(opts VerifyOptions) (ExecutionResult, error) {
	return verifier.New(opts).Verify()
}
