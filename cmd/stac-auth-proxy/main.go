// Package main is the entry point for the stac-auth-proxy server.
package main

import (
	"context"
	"os"

	"github.com/stacklok/stac-auth-proxy/cmd/stac-auth-proxy/app"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
)

func main() {
	logger.Initialize()

	ctx, cancel := app.NotifyContext(context.Background())
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
