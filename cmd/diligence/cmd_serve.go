package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"diligence/internal/platform/httpserver"
	"diligence/internal/platform/logger"
	"diligence/internal/platform/middleware"
	"diligence/internal/report/handler"
	"diligence/pkg/platform/httputil"
)

const shutdownGrace = 15 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reports over HTTP",
	Long: `Starts the HTTP API:

  GET /v1/reports/{name}?days=&sections=&timeout=
  GET /v1/protocols
  GET /healthz
  GET /metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address; overrides DILIGENCE_ADDR")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	log := logger.New(cfg.LogLevel)

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpserver.New(cfg.Addr, newRouter(a))
	log.Info("starting diligence", "addr", cfg.Addr, "version", version, "protocols", a.catalog.Len())
	return httpserver.Run(cmd.Context(), srv, shutdownGrace, log)
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logger(a.logger))

	handler.New(a.reports, a.catalog, a.logger).Register(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.health(r.Context()); err != nil {
			a.logger.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return r
}
