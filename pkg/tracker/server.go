package tracker

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ryandielhenn/meshtrack/internal/telemetry"
)

// ServerConfig is the tracker's listen surface.
type ServerConfig struct {
	Addr         string        // host:port for the tracker surface
	RetryBind    time.Duration // >0: retry binding on this fixed interval forever
	MetricsAddr  string        // optional second listener for /metrics; "" disables
	MaxBodyBytes int64         // request body cap; 0 = unbounded, like the tracker protocol assumes
}

// Server owns the HTTP listeners around a Tracker.
type Server struct {
	cfg     ServerConfig
	logger  *zap.Logger
	handler http.Handler
	httpSrv *http.Server
	metrics *http.Server
}

func NewServer(cfg ServerConfig, tr *Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()
	r.HandleFunc("/", tr.HandleUpdate).Methods(http.MethodPost)
	// Anything that is not POST / is a 404, wrong method on / included.
	r.NotFoundHandler = http.HandlerFunc(NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(NotFound)

	var handler http.Handler = r
	if cfg.MaxBodyBytes > 0 {
		handler = limitBody(cfg.MaxBodyBytes, handler)
	}
	handler = Logging(logger, handler)
	handler = telemetry.Instrument("track", handler)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		httpSrv: &http.Server{Handler: handler},
	}
	if cfg.MetricsAddr != "" {
		mm := http.NewServeMux()
		mm.Handle("/metrics", telemetry.MetricsHandler())
		s.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mm}
	}
	return s
}

// Handler exposes the fully wired tracker surface, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// listen binds the tracker address. When RetryBind is set, bind failures are
// retried on that fixed interval with no backoff growth, until the bind
// succeeds or ctx is done.
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	for {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err == nil {
			return ln, nil
		}
		if s.cfg.RetryBind <= 0 {
			return nil, err
		}
		s.logger.Warn("bind failed, retrying",
			zap.String("addr", s.cfg.Addr),
			zap.Duration("retry_in", s.cfg.RetryBind),
			zap.Error(err))
		select {
		case <-time.After(s.cfg.RetryBind):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Run binds, signals readiness to any supervisor, and serves until ctx is
// canceled, then shuts the listeners down gracefully. Pending expiry timers
// need no individual teardown; they die with the process.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("tracker listening", zap.String("addr", ln.Addr().String()))

	// Readiness for a supervising init; a no-op when none is attached.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.logger.Warn("readiness notify failed", zap.Error(err))
	} else if sent {
		s.logger.Debug("readiness notified")
	}

	errCh := make(chan error, 2)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	if s.metrics != nil {
		go func() {
			s.logger.Info("metrics listening", zap.String("addr", s.cfg.MetricsAddr))
			if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.metrics != nil {
		_ = s.metrics.Shutdown(shutCtx)
	}
	return s.httpSrv.Shutdown(shutCtx)
}

func limitBody(n int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next.ServeHTTP(w, r)
	})
}
