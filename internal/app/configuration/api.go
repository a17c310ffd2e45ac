package configuration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/httpresponse"
	"github.com/form3tech-oss/pact-core/internal/app/mockserver"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

// ServeAdminAPI starts the daemon management API: create, query, write
// and shut down mock servers.
func ServeAdminAPI(config Config) *echo.Echo {
	adminServer := echo.New()
	adminServer.HideBanner = true

	api := adminAPI{config: config}
	adminServer.POST("/", api.createHandler)
	adminServer.GET("/:port/matched", api.matchedHandler)
	adminServer.GET("/:port/mismatches", api.mismatchesHandler)
	adminServer.POST("/:port/pact", api.writePactHandler)
	adminServer.DELETE("/:port", api.deleteHandler)
	adminServer.DELETE("/", deleteAllHandler)

	go func() {
		address := fmt.Sprintf(":%d", config.AdminPort)
		if err := adminServer.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	return adminServer
}

type adminAPI struct {
	config Config
}

func (a adminAPI) createHandler(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read pact. %s", err.Error()))
	}
	pact, err := pactmodel.ReadPact(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to load pact. %s", err.Error()))
	}

	port, _ := strconv.Atoi(c.QueryParam("port"))
	server, err := StartMockServer(pact, a.config.Host, port)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to start mock server. %s", err.Error()))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"port": server.Port(),
		"url":  server.URL(),
	})
}

func serverFromContext(c echo.Context) (*mockserver.Server, int, error) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid port %q", c.Param("port"))
	}
	server, ok := LoadServer(port)
	if !ok {
		return nil, port, fmt.Errorf("no mock server is running on port %d", port)
	}
	return server, port, nil
}

func (a adminAPI) matchedHandler(c echo.Context) error {
	server, _, err := serverFromContext(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"matched": server.Matched()})
}

func (a adminAPI) mismatchesHandler(c echo.Context) error {
	server, _, err := serverFromContext(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()))
	}
	results := server.Results()
	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		if r.Kind == mockserver.RequestMatched {
			continue
		}
		out = append(out, r.ToJSON())
	}
	return c.JSON(http.StatusOK, out)
}

func (a adminAPI) writePactHandler(c echo.Context) error {
	server, _, err := serverFromContext(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()))
	}
	dir := c.QueryParam("dir")
	if dir == "" {
		dir = a.config.PactDir
	}
	path, err := server.WritePact(dir)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to write pact. %s", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"path": path})
}

func (a adminAPI) deleteHandler(c echo.Context) error {
	_, port, err := serverFromContext(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()))
	}
	log.Infof("stopping mock server on port %d", port)
	if err := StopServer(c.Request().Context(), port); err != nil {
		return c.JSON(http.StatusInternalServerError, httpresponse.Error(err.Error()))
	}
	return c.NoContent(http.StatusNoContent)
}

func deleteAllHandler(c echo.Context) error {
	log.Infof("stopping all mock servers")
	ShutdownAllServers(context.Background())
	return c.NoContent(http.StatusNoContent)
}
