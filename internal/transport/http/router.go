package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	newsletterhandler "newsletter/internal/newsletter/handler"
	"newsletter/internal/platform/metrics"
	"newsletter/internal/platform/middleware"
	subscriptionhandler "newsletter/internal/subscription/handler"
	"newsletter/pkg/platform/middleware/auth"
	"newsletter/pkg/platform/middleware/metadata"
	request "newsletter/pkg/platform/middleware/request"
	"newsletter/pkg/platform/middleware/requesttime"
)

const defaultRequestTimeout = 30 * time.Second

// Deps are the collaborators the router mounts.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Subscriptions  subscriptionhandler.Service
	Newsletters    newsletterhandler.Service
	Publishers     auth.Authenticator
	RequestTimeout time.Duration
}

// NewRouter wires the public endpoints and the shared middleware chain.
func NewRouter(deps Deps) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(deps.Logger))
	r.Use(request.Logger(deps.Logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))
	r.Use(chimw.Timeout(timeout))

	r.Get("/health_check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	subscriptionhandler.New(deps.Subscriptions, deps.Logger).Register(r)
	newsletterhandler.New(deps.Newsletters, deps.Publishers, deps.Logger).Register(r)

	return r
}
