package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"sonar-exporter/internal/config"
)

const (
	pprofShutdownTimeout = 3 * time.Second
	pprofReadHeaderTO    = 2 * time.Second
	pprofPrefix          = "/debug/pprof"
)

// newPprofRouter maps runtime profiling endpoints.
// Params: none.
// Returns: router exposing index, named profiles, cmdline, profile, symbol and trace.
func newPprofRouter() *mux.Router {
	router := mux.NewRouter()
	sub := router.PathPrefix(pprofPrefix).Subrouter()
	sub.HandleFunc("/cmdline", pprofhttp.Cmdline)
	sub.HandleFunc("/profile", pprofhttp.Profile)
	sub.HandleFunc("/symbol", pprofhttp.Symbol)
	sub.HandleFunc("/trace", pprofhttp.Trace)
	sub.HandleFunc("/{profile}", func(w http.ResponseWriter, r *http.Request) {
		pprofhttp.Handler(mux.Vars(r)["profile"]).ServeHTTP(w, r)
	})
	sub.HandleFunc("/", pprofhttp.Index)
	router.Handle(pprofPrefix, http.RedirectHandler(pprofPrefix+"/", http.StatusMovedPermanently))
	return router
}

// startPprofServer starts optional pprof HTTP endpoint and wires graceful shutdown.
// Params: ctx controls lifecycle; cfg provides enabled/listen options; logger reports runtime events.
// Returns: stop function (idempotent) and startup error.
func startPprofServer(ctx context.Context, cfg config.PprofConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}

	server := &http.Server{
		Handler:           newPprofRouter(),
		ReadHeaderTimeout: pprofReadHeaderTO,
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), pprofShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("pprof shutdown error", slog.String("error", err.Error()))
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof server failed", slog.String("addr", listener.Addr().String()), slog.String("error", err.Error()))
		}
	}()

	logger.Info("pprof server started", slog.String("addr", listener.Addr().String()))
	return stop, nil
}
