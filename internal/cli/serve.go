package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akshayaggarwal99/boxed/internal/api"
	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/metrics"
	"github.com/akshayaggarwal99/boxed/internal/policy"
	"github.com/akshayaggarwal99/boxed/internal/runner"
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	defaultPort := "8080"
	if p := os.Getenv("PORT"); p != "" {
		defaultPort = p
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", defaultPort, "HTTP server port")
	RootCmd.AddCommand(serveCmd)
}

func runServer() {
	pol, err := policy.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load policy from environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	d := driver.New()
	registry := driver.NewRegistry(d)
	m := metrics.New()
	r := runner.New(registry, d, m)
	h := api.New(pol, r, log.Logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(m.Middleware())
	if pol.APIMaxPayloadSize > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(pol.APIMaxPayloadSize, 10)))
	}
	e.GET("/metrics", m.Handler())

	h.Register(e)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", port).Msg("server listening")
		serverErr <- e.Start(":" + port)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("server startup failed")
	}
}
