package http

import (
	"context"
	"net/http"
	"time"

	applog "tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/services"
	"tally/internal/storage"
)

const readyTimeout = 2 * time.Second

// Services are the application services behind the API. Portfolio and
// Classification may be nil when their upstreams are not configured.
type Services struct {
	Store          storage.Store
	Recalc         services.Recalculator
	Imports        *services.ImportService
	Transactions   *services.TransactionService
	Portfolio      *services.PortfolioService
	Classification *services.ClassificationService
}

// Options tune the server.
type Options struct {
	RequestsPerMinute int
	MaxUploadBytes    int64
	RunwayMonths      int
	TrustedProxies    []string
}

type Server struct {
	http.Server
	svc      Services
	opts     Options
	logger   *applog.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	now      func() time.Time
}

func NewServer(addr string, svc Services, opts Options, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.Nop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.RunwayMonths <= 0 {
		opts.RunwayMonths = services.DefaultRunwayMonths
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	detector := security.NewDetector(logger)
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	s := &Server{
		svc:      svc,
		opts:     opts,
		logger:   logger,
		detector: detector,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RequestsPerMinute,
		}, logger),
		tracer: trace.NewMiddleware(detector.ExtractClientIP, logger),
		now:    time.Now,
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/imports/csv", s.handleImportCSV)
	api.HandleFunc("POST /api/imports/sheet", s.handleImportSheet)
	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	api.HandleFunc("PATCH /api/transactions/{id}", s.handleRecategorize)
	api.HandleFunc("GET /api/aggregates", s.handleListAggregates)
	api.HandleFunc("GET /api/aggregates/{month}", s.handleGetAggregate)
	api.HandleFunc("POST /api/aggregates/recalculate", s.handleRecalculate)
	api.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	api.HandleFunc("GET /api/runway", s.handleRunway)
	api.HandleFunc("POST /api/classification/train", s.handleTrain)
	api.HandleFunc("POST /api/classification/classify", s.handleClassify)
	api.HandleFunc("GET /api/classification/status/{id}", s.handleClassificationStatus)
	api.HandleFunc("PUT /api/classification/key", s.handleSetKey)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("/api/", requireUser(api))

	var h http.Handler = mux
	h = s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	})(h)
	h = detector.Middleware(func(w http.ResponseWriter, r *http.Request) {
		BadRequestError("request rejected").Write(w)
	})(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown drains in-flight requests and stops background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.svc.Store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
		ServiceUnavailableError("storage unavailable").Write(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
