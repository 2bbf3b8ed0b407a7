package api

import (
	"context"
	"fmt"
	"time"

	"github.com/conduit-ci/conduit/api/rest/v1"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
)

var server *echo.Echo

// Start launches Conduit's API.
func Start(controllers *rest.Controllers) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("conduit", nil).Use(e)

	// REST
	rest.Bind(e.Group("/v1"), controllers)

	server = e

	return e.Start(fmt.Sprintf(":%v", env.Variables().Port))
}

// Shutdown drains in-flight requests and stops the API.
func Shutdown() error {
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(ctx)
}
