package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/devserver"
	"lambda-route-proxy/internal/dispatch"
	"lambda-route-proxy/internal/exampleapp"
	"lambda-route-proxy/pkg/server"
)

type serveOptions struct {
	port        string
	routesFile  string
	securityDir string
}

func newRootCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:           "devserver",
		Short:         "Serve the route table over HTTP for local development",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.port, "port", "p", "", "listen port (default DEV_SERVER_PORT)")
	fs.StringVar(&opts.routesFile, "routes", "", "route table file (default ROUTES_FILE)")
	fs.StringVar(&opts.securityDir, "security-dir", "", "directory holding the security policy (default SECURITY_CONFIG_DIR)")

	cmd.AddCommand(newRoutesCmd(&opts), newTokenCmd())
	return cmd
}

// loadConfig applies command line overrides on top of the environment
func loadConfig(opts serveOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.port != "" {
		cfg.DevServerPort = opts.port
	}
	if opts.routesFile != "" {
		cfg.RoutesFile = opts.routesFile
	}
	if opts.securityDir != "" {
		cfg.SecurityConfigDir = opts.securityDir
	}
	return cfg, nil
}

func runServe(opts serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := exampleapp.NewRegistry(exampleapp.NewStore(), cfg.RateLimit)
	container, err := server.NewContainer(context.Background(), cfg, registry,
		server.WithNotFound(dispatch.NotFoundModule()))
	if err != nil {
		return err
	}
	defer container.Close()

	dev := devserver.New(container.Dispatcher, container.Logger, cfg.Stage)
	dev.LogRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.DevServerPort,
		Handler:           dev.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	container.Logger.WithField("port", cfg.DevServerPort).Info("Dev server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	container.Logger.Info("Shutting down dev server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
