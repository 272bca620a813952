package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gatewaynetwork/go-txgateway/internal/chains"
	"github.com/gatewaynetwork/go-txgateway/internal/gateway/impl"
	"github.com/gatewaynetwork/go-txgateway/internal/router/controllers"
	"github.com/gatewaynetwork/go-txgateway/internal/router/middlewares"
	"github.com/gorilla/mux"
)

// ConfiguredRouter returns a fully configured Router that can be used as an http handler.
func ConfiguredRouter(
	maxRPI uint64,
	rateLimInterval time.Duration,
	registry *chains.Registry,
) (*Router, error) {
	gatewayService, err := impl.NewInstrumentedGateway(impl.NewTxCoordinator(registry))
	if err != nil {
		return nil, fmt.Errorf("instrumenting gateway: %s", err)
	}
	controller := controllers.NewController(gatewayService)
	infraController := controllers.NewInfraController()

	router := NewRouter()
	router.Use(middlewares.CORS, middlewares.TraceID)

	rateLim, err := middlewares.RateLimitController(middlewares.RateLimiterConfig{
		MaxRPI:   maxRPI,
		Interval: rateLimInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rate limit controller middleware: %s", err)
	}
	restChain := middlewares.RESTChain(registry)

	router.Post("/v1/chains/{chain}/nonce", controller.AllocateNonce, middlewares.WithLogging, middlewares.OtelHTTP("AllocateNonce"), restChain, rateLim)                          // nolint
	router.Post("/v1/chains/{chain}/transactions", controller.SubmitTransaction, middlewares.WithLogging, middlewares.OtelHTTP("SubmitTransaction"), restChain, rateLim)           // nolint
	router.Post("/v1/chains/{chain}/transactions/{hash}/cancel", controller.CancelTransaction, middlewares.WithLogging, middlewares.OtelHTTP("CancelTransaction"), restChain, rateLim) // nolint
	router.Get("/v1/chains/{chain}/transactions/{hash}", controller.GetTransaction, middlewares.WithLogging, middlewares.OtelHTTP("GetTransaction"), restChain, rateLim)           // nolint
	router.Get("/v1/chains/{chain}/gasprice", controller.GasPrice, middlewares.WithLogging, middlewares.OtelHTTP("GasPrice"), restChain, rateLim)                                  // nolint

	router.Get("/version", infraController.Version, middlewares.WithLogging, middlewares.OtelHTTP("Version"), rateLim) // nolint

	// Health endpoint configuration.
	router.Get("/healthz", healthHandler)
	router.Get("/health", healthHandler)

	return router, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Router provides a nice api around mux.Router.
type Router struct {
	r *mux.Router
}

// NewRouter is a Mux HTTP router constructor.
func NewRouter() *Router {
	r := mux.NewRouter()
	r.PathPrefix("/").Methods(http.MethodOptions) // accept OPTIONS on all routes and do nothing
	return &Router{r: r}
}

// Get creates a subroute on the specified URI that only accepts GET. You can provide specific middlewares.
func (r *Router) Get(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodGet)
	sub.Use(mid...)
}

// Post creates a subroute on the specified URI that only accepts POST. You can provide specific middlewares.
func (r *Router) Post(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodPost)
	sub.Use(mid...)
}

// Use adds middlewares to all routes. Should be used when a middleware should be execute all all routes (e.g. CORS).
func (r *Router) Use(mid ...mux.MiddlewareFunc) {
	r.r.Use(mid...)
}

// Handler returns the configured router http handler.
func (r *Router) Handler() http.Handler {
	return r.r
}
