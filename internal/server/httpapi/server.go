// Package httpapi serves the Matrix identity service v2 lookup endpoints.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/auth"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/pepper"
	"github.com/dmitrijs2005/fedid/internal/server/ratelimit"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type Resolver interface {
	Resolve(ctx context.Context, hashes []string) (*models.LookupResponse, error)
}

type Ingester interface {
	Ingest(ctx context.Context, server, pepper string, hashes []string) error
}

type PepperSource interface {
	Snapshot() pepper.Pair
}

// TrustEvaluator is satisfied by *auth.Evaluator.
type TrustEvaluator interface {
	IsPeer(ctx context.Context, req auth.Request) bool
	Authenticate(ctx context.Context, req auth.Request) auth.Result
	ClientAddr(req auth.Request) (string, error)
}

// Limits holds one limiter per protocol endpoint.
type Limits struct {
	HashDetails ratelimit.Limiter
	Lookup      ratelimit.Limiter
	Lookups     ratelimit.Limiter
}

type Options struct {
	Resolver     Resolver
	Ingester     Ingester
	Peppers      PepperSource
	Trust        TrustEvaluator
	Limits       Limits
	MaxAddresses int
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Logger       logging.Logger
}

type Server struct {
	resolver     Resolver
	ingester     Ingester
	peppers      PepperSource
	trust        TrustEvaluator
	limits       Limits
	maxAddresses int
	metrics      *metrics.Metrics
	logger       logging.Logger
}

func NewServer(o Options) *Server {
	return &Server{
		resolver:     o.Resolver,
		ingester:     o.Ingester,
		peppers:      o.Peppers,
		trust:        o.Trust,
		limits:       o.Limits,
		maxAddresses: o.MaxAddresses,
		metrics:      o.Metrics,
		logger:       o.Logger.With("module", "httpapi"),
	}
}

// Handler builds the routed handler, wrapped for CORS.
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.Use(s.requestID)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer)).Methods(http.MethodGet)
	}

	r.Handle(common.HashDetailsPath, s.instrument("hash_details", s.hashDetails)).Methods(http.MethodGet)
	r.Handle(common.LookupPath, s.instrument("lookup", s.lookup)).Methods(http.MethodPost)
	r.Handle(common.LookupsPath, s.instrument("lookups", s.push)).Methods(http.MethodPost)

	return cors(r)
}

// NewHandler is a shorthand for NewServer(o).Handler(o.Gatherer).
func NewHandler(o Options) http.Handler {
	return NewServer(o).Handler(o.Gatherer)
}
