package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sonar-exporter/internal/catalog"
	"sonar-exporter/internal/config"
	"sonar-exporter/internal/exporter"
	"sonar-exporter/internal/logging"
	"sonar-exporter/internal/server"
	"sonar-exporter/internal/settings"
)

// Runtime defines runtime inputs required to start the exporter.
// Params: ConfigPath points to the TOML configuration file; Reload triggers config reload; Version tags upstream requests.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Reload     <-chan struct{}
	Version    string
}

type engineRunner interface {
	Run(context.Context) error
}

type runDeps struct {
	loadConfig    func(string) (*config.Config, error)
	checkSettings func(*config.Config) (int, error)
	newLogger     func(config.LogConfig) (*slog.Logger, func(), error)
	startPprof    func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	newEngine     func(context.Context, *config.Config, *slog.Logger) (engineRunner, error)
}

// generation is the set of listeners built from one config file revision.
type generation struct {
	cfg     *config.Config
	enabled int

	logger      *slog.Logger
	closeLogger func()

	cancel    context.CancelFunc
	done      chan error
	stopPprof func()
}

// supervisor keeps exactly one generation serving and swaps it on reload.
type supervisor struct {
	path    string
	deps    runDeps
	current *generation
}

// Run loads configuration, serves scrapes and swaps the runtime on every Runtime.Reload signal.
// Params: ctx controls lifecycle; rt provides runtime inputs and optional reload trigger channel.
// Returns: error on startup failure, unexpected engine exit or failed rollback; nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps(rt.Version))
}

// runWithDeps executes runtime lifecycle using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps start/reload dependencies.
// Returns: runtime error or nil on graceful stop.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	path := strings.TrimSpace(rt.ConfigPath)
	if path == "" {
		return fmt.Errorf("config path is required")
	}

	sup := &supervisor{path: path, deps: deps}
	if err := sup.boot(ctx); err != nil {
		return err
	}
	return sup.serve(ctx, rt.Reload)
}

// defaultRunDeps provides production runtime dependencies.
// Params: version is the build version reported in the upstream User-Agent.
// Returns: dependency set used by Run.
func defaultRunDeps(version string) runDeps {
	opts := server.Options{UserAgent: userAgent(version)}
	return runDeps{
		loadConfig:    config.Load,
		checkSettings: countEnabled,
		newLogger:     logging.New,
		startPprof:    startPprofServer,
		newEngine: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engineRunner, error) {
			return server.NewFromConfig(ctx, cfg, logger, opts)
		},
	}
}

// userAgent formats the upstream User-Agent header.
// Params: version build version, may be empty.
// Returns: header value.
func userAgent(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	return "sonar-exporter/" + version
}

// countEnabled reads the export settings named by cfg once and resolves them against the catalog.
// Params: cfg validated config.
// Returns: number of enabled metrics or settings read/decode error.
func countEnabled(cfg *config.Config) (int, error) {
	snap, err := settings.NewFileSource(cfg.Export.Settings).Snapshot()
	if err != nil {
		return 0, err
	}
	return len(exporter.ResolveEnabled(catalog.All(), snap)), nil
}

// boot builds the first generation. A settings file that cannot be read fails startup.
// Params: ctx root lifecycle context.
// Returns: load, settings, logger or start error.
func (s *supervisor) boot(ctx context.Context) error {
	cfg, err := s.deps.loadConfig(s.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := s.deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	enabled, err := s.deps.checkSettings(cfg)
	if err != nil {
		logger.Error("export settings unreadable", slog.String("settings", cfg.Export.Settings), slog.String("error", err.Error()))
		closeLogger()
		return fmt.Errorf("check settings: %w", err)
	}

	gen, err := s.start(ctx, cfg, enabled, logger, closeLogger)
	if err != nil {
		closeLogger()
		return err
	}
	s.current = gen
	return nil
}

// serve waits for shutdown, engine exit or reload requests.
// Params: ctx root lifecycle context; reload optional trigger channel.
// Returns: nil on graceful stop; engine or rollback error otherwise.
func (s *supervisor) serve(ctx context.Context, reload <-chan struct{}) error {
	for {
		select {
		case runErr := <-s.current.done:
			s.current.done = nil
			return s.engineExited(ctx, runErr)
		case <-ctx.Done():
			s.shutdown(ctx)
			return nil
		case _, ok := <-reload:
			if !ok {
				reload = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			if err := s.reload(ctx); err != nil && s.current == nil {
				return err
			}
		}
	}
}

// engineExited tears down a generation whose engine returned on its own.
// Params: ctx root lifecycle context; runErr engine result.
// Returns: nil when shutdown caused the exit, wrapped engine error otherwise.
func (s *supervisor) engineExited(ctx context.Context, runErr error) error {
	if ctx.Err() != nil {
		s.shutdown(ctx)
		return nil
	}

	gen := s.current
	gen.halt()
	if runErr == nil {
		runErr = fmt.Errorf("runner exited without context cancellation")
	}
	gen.logger.Error("server stopped unexpectedly", slog.String("error", runErr.Error()))
	gen.release()
	return fmt.Errorf("run server: %w", runErr)
}

// shutdown stops the current generation and closes its log sinks.
// Params: ctx canceled root context.
// Returns: none.
func (s *supervisor) shutdown(ctx context.Context) {
	gen := s.current
	gen.halt()
	reason := "canceled"
	if ctx.Err() != nil {
		reason = ctx.Err().Error()
	}
	gen.logger.Info("exporter stopped", slog.String("reason", reason))
	gen.release()
}

// reload validates the new config and its export settings before touching the
// running generation, then swaps generations and restores the old one if the
// new one fails to start.
// Params: ctx root lifecycle context.
// Returns: rejection error (generation unchanged or restored) or rollback error with s.current cleared.
func (s *supervisor) reload(ctx context.Context) error {
	prev := s.current
	prev.logger.Info("config reload requested")

	cfg, err := s.deps.loadConfig(s.path)
	if err != nil {
		prev.logger.Error("config reload validation failed", slog.String("error", err.Error()))
		return fmt.Errorf("reload config: %w", err)
	}

	enabled, err := s.deps.checkSettings(cfg)
	if err != nil {
		prev.logger.Error("config reload rejected, export settings unreadable",
			slog.String("settings", cfg.Export.Settings),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("reload settings: %w", err)
	}

	logger, closeLogger, err := s.deps.newLogger(cfg.Log)
	if err != nil {
		prev.logger.Error("config reload logger init failed", slog.String("error", err.Error()))
		return fmt.Errorf("init reload logger: %w", err)
	}

	prev.halt()
	next, startErr := s.start(ctx, cfg, enabled, logger, closeLogger)
	if startErr == nil {
		prev.release()
		s.current = next
		next.logger.Info("config reload applied", slog.Int("enabled_metrics", enabled))
		return nil
	}
	closeLogger()

	if ctx.Err() != nil {
		prev.logger.Info("config reload interrupted by shutdown")
		return nil
	}

	prev.logger.Error("config reload apply failed, restoring previous runtime", slog.String("error", startErr.Error()))
	restored, rollbackErr := s.start(ctx, prev.cfg, prev.enabled, prev.logger, prev.closeLogger)
	if rollbackErr != nil {
		prev.release()
		s.current = nil
		return fmt.Errorf("apply reload: %w; rollback failed: %w", startErr, rollbackErr)
	}

	restored.logger.Warn("config reload rejected, previous runtime restored", slog.String("error", startErr.Error()))
	s.current = restored
	return fmt.Errorf("apply reload: %w", startErr)
}

// start launches pprof and the engine for cfg. The caller keeps ownership of
// the logger when start fails.
// Params: ctx root lifecycle context; cfg validated config; enabled resolved metric count; logger/closeLogger log sinks.
// Returns: running generation or pprof/engine error.
func (s *supervisor) start(
	ctx context.Context,
	cfg *config.Config,
	enabled int,
	logger *slog.Logger,
	closeLogger func(),
) (*generation, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("runtime context canceled: %w", ctx.Err())
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopPprof, err := s.deps.startPprof(runCtx, cfg.Pprof, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start pprof: %w", err)
	}

	engine, err := s.deps.newEngine(runCtx, cfg, logger)
	if err != nil {
		stopPprof()
		cancel()
		return nil, fmt.Errorf("build server: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(runCtx)
	}()

	logStartup(logger, cfg, enabled)
	return &generation{
		cfg:         cfg,
		enabled:     enabled,
		logger:      logger,
		closeLogger: closeLogger,
		cancel:      cancel,
		done:        done,
		stopPprof:   stopPprof,
	}, nil
}

// halt stops the engine and pprof of g. Log sinks stay open. Safe to call twice.
func (g *generation) halt() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	if g.done != nil {
		<-g.done
		g.done = nil
	}
	if g.stopPprof != nil {
		g.stopPprof()
		g.stopPprof = nil
	}
}

// release closes the log sinks of g.
func (g *generation) release() {
	if g.closeLogger != nil {
		g.closeLogger()
		g.closeLogger = nil
	}
}

// logStartup emits the listener layout and how many metrics the settings enable.
// Params: logger generation logger; cfg validated runtime config; enabled resolved metric count.
// Returns: none.
func logStartup(logger *slog.Logger, cfg *config.Config, enabled int) {
	logger.Info(
		"exporter started",
		slog.String("listen", cfg.Server.Listen),
		slog.String("path", cfg.Server.Path),
		slog.String("sonar_url", cfg.Sonar.URL),
		slog.String("settings", cfg.Export.Settings),
		slog.Int("enabled_metrics", enabled),
		slog.Bool("self_metrics", cfg.Self.Enabled),
		slog.String("health_listen", cfg.Health.GRPCListen),
	)
	if enabled == 0 {
		logger.Warn("no metrics enabled, scrapes will return an empty exposition", slog.String("settings", cfg.Export.Settings))
	}
}
