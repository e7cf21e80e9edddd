package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-assets/pkg/simpleasset"
	"github.com/tendant/simple-assets/pkg/simpleasset/api"
	"github.com/tendant/simple-assets/pkg/simpleasset/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("Failed to read .env file", "err", err)
		os.Exit(1)
	}

	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	rt, err := serverConfig.BuildService(context.Background())
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer rt.Close()
	slog.SetDefault(rt.Logger)

	rt.Logger.Info("Simple Assets server starting",
		"environment", serverConfig.Environment,
		"storage", serverConfig.Storage.Type,
		"manifests", serverConfig.Manifests.Type,
		"auth", serverConfig.AuthMode,
	)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Mount("/", newRouter(rt.Service, serverConfig, rt.Logger))

	server.Run()
}

// newRouter wraps the asset routes with development CORS
func newRouter(svc simpleasset.Service, serverConfig *config.ServerConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	if serverConfig.Environment == "development" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", api.ExpectedHashHeader},
			ExposedHeaders: []string{"ETag"},
			MaxAge:         300,
		}))
	}
	r.Mount("/", api.NewHandler(svc, logger).Routes())
	return r
}
