package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const httpShutdownTimeout = 5 * time.Second

// httpServer runs an HTTP server tied to a lifecycle context.
// Params: listen address, handler, and logger for diagnostics.
// Returns: runnable HTTP server instance.
type httpServer struct {
	listen string
	ln     net.Listener
	server *http.Server
	logger *slog.Logger
}

// newHTTPServer creates an HTTP server and binds to the listen address.
// Params: listen address in host:port; handler HTTP handler; readHeaderTimeout header deadline; logger root logger.
// Returns: server instance or bind error.
func newHTTPServer(listen string, handler http.Handler, readHeaderTimeout time.Duration, logger *slog.Logger) (*httpServer, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &httpServer{
		listen: listen,
		ln:     ln,
		server: server,
		logger: logger,
	}, nil
}

// addr returns the bound listener address.
// Params: none.
// Returns: host:port actually listened on.
func (s *httpServer) addr() string {
	return s.ln.Addr().String()
}

// close releases the listener of a server that never ran.
// Params: none.
// Returns: none.
func (s *httpServer) close() {
	_ = s.ln.Close()
}

// run starts serving and shuts down on context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; error on early serve failures.
func (s *httpServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()

	s.logger.Info("http server started", slog.String("listen", s.addr()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("http server stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		return err
	}
}
