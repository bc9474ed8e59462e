// Package handler exposes report generation over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks ReportBuilder,Catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"diligence/internal/platform/middleware"
	"diligence/internal/protocol"
	"diligence/internal/report"
	"diligence/internal/resolver"
	"diligence/pkg/platform/httputil"
)

// ReportBuilder produces one report per call.
type ReportBuilder interface {
	BuildReport(ctx context.Context, name string, opts report.Options) (*report.Report, error)
}

// Catalog lists the protocols the service knows.
type Catalog interface {
	Entries() []protocol.Identity
}

type Handler struct {
	reports ReportBuilder
	catalog Catalog
	logger  *slog.Logger
}

func New(reports ReportBuilder, catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		reports: reports,
		catalog: catalog,
		logger:  logger,
	}
}

// Register mounts the report routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/reports/{name}", h.handleGetReport)
	r.Get("/v1/protocols", h.handleListProtocols)
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, err := parseReportRequest(chi.URLParam(r, "name"), r.URL.Query())
	if err != nil {
		h.logger.InfoContext(ctx, "invalid report request",
			"request_id", requestID,
			"error", err,
		)
		httputil.BadRequest(w, err.Error())
		return
	}

	rep, err := h.reports.BuildReport(ctx, req.Name, req.Options())
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, rep)
	case errors.Is(err, resolver.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, httputil.ErrorResponse{
			Error:       "not_found",
			Description: err.Error(),
			Suggestions: resolver.Suggestions(err),
		})
	case ctx.Err() != nil:
		// The client is gone; nobody reads a response.
		h.logger.InfoContext(ctx, "report request abandoned",
			"request_id", requestID,
			"name", req.Name,
			"error", err,
		)
	default:
		h.logger.ErrorContext(ctx, "report build failed",
			"request_id", requestID,
			"name", req.Name,
			"error", err,
		)
		httputil.InternalError(w)
	}
}

func (h *Handler) handleListProtocols(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, toProtocolList(h.catalog.Entries()))
}
