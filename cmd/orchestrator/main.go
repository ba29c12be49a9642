package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lyzr/canvas-engine/internal/bootstrap"
	"github.com/lyzr/canvas-engine/internal/httpapi"
	"github.com/lyzr/canvas-engine/internal/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "canvas-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap canvas-engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	router := httpapi.NewRouter(components)
	srv := server.New("canvas-engine", components.Config.Service.Port, router, components.Logger)

	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
