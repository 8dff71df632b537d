// Package httptransport assembles the HTTP surface: middleware chains, the
// institute and verification routes, operator routes and health checks.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certledger/internal/certificate/handler"
	"certledger/internal/certificate/models"
	"certledger/internal/platform/metrics"
	platformmw "certledger/internal/platform/middleware"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/platform/middleware/admin"
	"certledger/pkg/platform/middleware/auth"
	"certledger/pkg/platform/middleware/metadata"
	request "certledger/pkg/platform/middleware/request"
	"certledger/pkg/platform/middleware/requesttime"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the pieces the router mounts.
type Deps struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Certificates *handler.Handler
	Reconcile    *handler.ReconcileHandler
	JWTValidator auth.JWTValidator
	AdminToken   string
	Checks       map[string]HealthCheck
}

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(platformmw.Metrics(d.Metrics))

	r.Get("/health", health(d.Checks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	d.Certificates.RegisterVerify(r)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWTValidator, d.Logger))
		r.Use(auth.RequireRole(string(models.RoleInstitute), d.Logger))
		d.Certificates.RegisterInstitute(r)
	})

	if d.Reconcile != nil {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
			d.Reconcile.Register(r)
		})
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
