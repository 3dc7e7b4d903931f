package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// OpsServer serves the operational endpoints of one worker process:
// /metrics with the prometheus exposition and /healthz for probes.
type OpsServer struct {
	srv *http.Server
}

// NewOpsServer builds the ops listener. ready is consulted by /healthz; a
// nil ready reports healthy unconditionally.
func NewOpsServer(addr string, metricsHandler http.Handler, ready func() error) *OpsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	return &OpsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background. Listener failures are logged, not fatal:
// a worker without an ops port can still drain its queue.
func (s *OpsServer) Start(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops listener failed", "addr", s.srv.Addr, "error", err)
		}
	}()
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
