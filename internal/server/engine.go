// Package server wires configuration into the running exporter: the scrape
// endpoint, the optional self metrics endpoint and the optional gRPC health
// service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"sonar-exporter/internal/config"
	"sonar-exporter/internal/exporter"
	"sonar-exporter/internal/health"
	"sonar-exporter/internal/match"
	"sonar-exporter/internal/selfmetrics"
	"sonar-exporter/internal/settings"
	"sonar-exporter/internal/sonar"
)

// Options carries build-time values that are not part of the config file.
type Options struct {
	// UserAgent is sent on every upstream request.
	UserAgent string
}

// Engine owns the listeners of one runtime generation.
// Params: runners and logger.
// Returns: server runtime engine.
type Engine struct {
	runners    []runner
	http       *httpServer
	healthAddr string
	exporter   *exporter.Exporter
	logger     *slog.Logger
}

type runner interface {
	run(context.Context) error
}

type runnerFunc func(context.Context) error

func (f runnerFunc) run(ctx context.Context) error {
	return f(ctx)
}

// NewFromConfig builds the exporter and binds every configured listener.
// Params: ctx lifecycle context (unused until Run); cfg validated config; logger root logger; opts build values.
// Returns: engine ready to Run or construction/bind error.
func NewFromConfig(_ context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	client, err := sonar.NewClient(cfg.Sonar.URL, sonar.Options{
		Timeout:   cfg.Sonar.Timeout.Duration,
		UserAgent: opts.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("init sonar client: %w", err)
	}

	observers := exporter.Observers{}

	var self *selfmetrics.Metrics
	if cfg.Self.Enabled {
		self, err = selfmetrics.New(logger)
		if err != nil {
			return nil, fmt.Errorf("init self metrics: %w", err)
		}
		observers = append(observers, self)
	}

	var healthSrv *health.Server
	if cfg.Health.GRPCListen != "" {
		healthSrv = health.NewServer(logger)
		observers = append(observers, healthSrv)
	}

	exp := exporter.New(client, settings.NewFileSource(cfg.Export.Settings), exporter.Options{
		PageSize:    cfg.Sonar.PageSize,
		Concurrency: cfg.Sonar.Concurrency,
		Projects:    match.NewSet(cfg.Sonar.IncludeProjects, cfg.Sonar.ExcludeProjects),
		Observer:    observers,
		Logger:      logger,
	})

	router := newRouter(cfg, exporter.NewHandler(exp, cfg.Server.ScrapeTimeout.Duration), self)

	httpSrv, err := newHTTPServer(cfg.Server.Listen, router, cfg.Server.ReadHeaderTimeout.Duration, logger)
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	runners := []runner{runnerFunc(httpSrv.run)}
	healthAddr := ""

	if healthSrv != nil {
		ln, listenErr := net.Listen("tcp", cfg.Health.GRPCListen)
		if listenErr != nil {
			httpSrv.close()
			return nil, fmt.Errorf("init health server: listen %q: %w", cfg.Health.GRPCListen, listenErr)
		}
		healthAddr = ln.Addr().String()
		runners = append(runners, runnerFunc(func(ctx context.Context) error {
			logger.Info("grpc health server started", slog.String("listen", healthAddr))
			return healthSrv.Serve(ctx, ln)
		}))
	}

	return &Engine{
		runners:    runners,
		http:       httpSrv,
		healthAddr: healthAddr,
		exporter:   exp,
		logger:     logger,
	}, nil
}

// newRouter maps configured paths to handlers.
// Params: cfg validated config; scrape exporter handler; self optional self metrics.
// Returns: router serving every enabled endpoint.
func newRouter(cfg *config.Config, scrape http.Handler, self *selfmetrics.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.Handle(cfg.Server.Path, scrape)
	if self != nil {
		router.Handle(cfg.Self.Path, self.Handler()).Methods(http.MethodGet, http.MethodHead)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
	return router
}

// HTTPAddr returns the address the scrape endpoint listens on.
// Params: none.
// Returns: bound host:port.
func (e *Engine) HTTPAddr() string {
	return e.http.addr()
}

// Exporter returns the scrape pipeline served by the engine.
func (e *Engine) Exporter() *exporter.Exporter {
	return e.exporter
}

// Run serves every listener until ctx is canceled or one of them fails.
// Params: ctx lifecycle context.
// Returns: first runner error or nil on graceful stop.
func (e *Engine) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, r := range e.runners {
		r := r
		group.Go(func() error {
			return r.run(groupCtx)
		})
	}
	return group.Wait()
}
