package configuration

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
	"github.com/form3tech-oss/pact-core/internal/app/mockserver"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

var servers sync.Map

// StartMockServer boots a mock server for the pact and registers it by
// port so the admin API can address it.
func StartMockServer(pact *pactmodel.Pact, host string, port int) (*mockserver.Server, error) {
	server, err := mockserver.Start(pact, host, port, matching.DefaultConfig())
	if err != nil {
		return nil, err
	}
	servers.Store(server.Port(), server)
	return server, nil
}

// LoadServer finds a running mock server by port.
func LoadServer(port int) (*mockserver.Server, bool) {
	server, loaded := servers.Load(port)
	if !loaded {
		return nil, false
	}
	return server.(*mockserver.Server), true
}

// StopServer shuts down and deregisters one mock server.
func StopServer(ctx context.Context, port int) error {
	server, loaded := servers.LoadAndDelete(port)
	if !loaded {
		return errors.Errorf("no mock server is running on port %d", port)
	}
	return server.(*mockserver.Server).Shutdown(ctx)
}

// ShutdownAllServers stops every registered mock server.
func ShutdownAllServers(ctx context.Context) {
	servers.Range(func(key, _ interface{}) bool {
		server, loaded := servers.LoadAndDelete(key)
		if loaded {
			if err := server.(*mockserver.Server).Shutdown(ctx); err != nil {
				log.Error(err)
			}
		}
		return true
	})
}
