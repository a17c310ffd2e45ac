package configuration

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

// Config is the mock-server daemon configuration, loaded from the
// environment.
type Config struct {
	AdminPort int    `env:"ADMIN_PORT,default=8080"` // Port for the management API
	Host      string `env:"HOST,default=localhost"`  // Address mock servers bind to
	PactDir   string `env:"PACT_DIR,default=."`      // Directory pacts are written to
}

// NewFromEnv loads the daemon configuration from the environment.
func NewFromEnv() (Config, error) {
	ctx := context.Background()

	var config Config
	err := envconfig.Process(ctx, &config)
	if err != nil {
		return config, errors.Wrap(err, "process env config")
	}
	return config, nil
}
