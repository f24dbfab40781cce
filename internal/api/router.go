package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/exporter"
	"github.com/ruslano69/dbxray/pkg/importer"
	"github.com/ruslano69/dbxray/pkg/mockdata"
	"github.com/ruslano69/dbxray/pkg/mutation"
)

// NewRouter wires the handler set around a connected adapter and returns
// the chi router.
func NewRouter(adapter adapters.Adapter, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h := &handler{
		adapter:     adapter,
		coordinator: mutation.NewCoordinator(adapter, log),
		importer:    importer.NewImporter(log),
		exporter:    exporter.NewExporter(log),
		generator:   mockdata.NewGenerator(log),
		log:         log,
	}

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", h.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/units", h.handleUnits)
		r.Get("/explore", h.handleExplore)
		r.Post("/query", h.handleQuery)
		r.Post("/raw", h.handleRaw)

		r.Post("/mutate", h.handleMutate)
		r.Post("/delete", h.handleProposeDelete)
		r.Post("/delete/confirm", h.handleConfirmDelete)
		r.Post("/delete/cancel", h.handleCancelDelete)

		r.Post("/export", h.handleExport)

		r.Post("/import", h.handleImportUpload)
		r.Get("/import/{id}/preview", h.handleImportPreview)
		r.Post("/import/{id}/validate", h.handleImportValidate)
		r.Post("/import/{id}/commit", h.handleImportCommit)

		r.Post("/mockdata", h.handleMockData)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the storage engine to confirm the service is ready.
func (h *handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.adapter.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"engine": h.adapter.EngineType(),
			"status": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"engine": h.adapter.EngineType(),
		"status": "ok",
	})
}
