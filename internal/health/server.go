package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the minimal chi router spec §6 allows: /health and /metrics,
// nothing else. It deliberately never exposes a data query API (that is an
// explicit Non-goal).
type Server struct {
	http    *http.Server
	metrics *Metrics
	window  time.Duration
}

// NewServer builds a Server listening on addr. window is the liveness
// window /health checks progress against (spec §6's "configurable liveness
// window").
func NewServer(addr string, metrics *Metrics, window time.Duration, reg *prometheus.Registry) *Server {
	s := &Server{metrics: metrics, window: window}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// healthResponse is the JSON body returned by /health.
type healthResponse struct {
	Status   string `json:"status"`
	Block    string `json:"block_pipeline"`
	VCP      string `json:"virtual_chain_processor"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	blockLive, vcpLive := s.metrics.Liveness(time.Now(), s.window)

	resp := healthResponse{Status: "ok"}
	if blockLive {
		resp.Block = "ok"
	} else {
		resp.Block = "stalled"
		resp.Status = "degraded"
	}
	if vcpLive {
		resp.VCP = "ok"
	} else {
		resp.VCP = "stalled"
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
