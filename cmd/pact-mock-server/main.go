package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/configuration"
)

func main() {
	config, err := configuration.NewFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("starting mock server daemon on port %d", config.AdminPort)
	adminServer := configuration.ServeAdminAPI(config)

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	if err := adminServer.Close(); err != nil {
		log.Error(err)
	}

	configuration.ShutdownAllServers(context.Background())
}
