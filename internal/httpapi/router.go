// Package httpapi exposes the two HTTP surfaces of the server: the
// vehicle protocol at the root (/hb, /descent-check, /ascent-notify) and
// the operator Web API under /api/v1.
package httpapi

import (
	"net/http"
	"time"

	"triton/internal/clockcheck"
	"triton/internal/ingest"
	"triton/internal/mission"
	"triton/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// onlineThreshold decides DeviceView.Online from last_seen_at.
const onlineThreshold = 60 * time.Second

// Handler bundles the services behind the routes.
type Handler struct {
	Store      *store.Store
	Ingest     *ingest.Service
	Gate       *mission.Gate
	Reconciler *mission.Reconciler
	ClockCheck *clockcheck.Checker

	// VehicleTimeout caps vehicle-facing request handling.
	VehicleTimeout time.Duration

	// AdminReset gates whether /admin/reset-db is routed at all.
	AdminReset bool

	Clock func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// Router assembles the full route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Vehicle protocol. These run under a short deadline; the firmware
	// retries on its heartbeat cadence, so failing fast beats queueing.
	r.Group(func(r chi.Router) {
		if h.VehicleTimeout > 0 {
			r.Use(middleware.Timeout(h.VehicleTimeout))
		}
		r.Post("/hb", h.handleHeartbeat)
		r.Post("/descent-check", h.handleDescentCheck)
		r.Post("/ascent-notify", h.handleAscentNotify)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", h.handleListDevices)
		r.Get("/devices/{mid}", h.handleGetDevice)
		r.Get("/devices/{mid}/status", h.handleDeviceStatus)

		r.Post("/commands", h.handleEnqueueCommand)
		r.Get("/commands", h.handleListCommands)
		r.Get("/commands/{id}", h.handleGetCommand)

		r.Get("/telemetry/latest/{mid}", h.handleLatestTelemetry)
		r.Get("/telemetry/heartbeats", h.handleListHeartbeats)
		r.Get("/telemetry/trajectory/{mid}", h.handleTrajectory)

		r.Get("/dives", h.handleListDives)
		r.Get("/dives/{id}", h.handleGetDive)

		r.Get("/events", h.handleListEvents)
	})

	r.Get("/health", h.handleHealth)

	if h.AdminReset {
		r.Post("/admin/reset-db", h.handleResetDB)
	}

	return otelhttp.NewHandler(r, "triton")
}
