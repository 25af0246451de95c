package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/statusbus"
)

// Server exposes the supervisor's observability surface over HTTP:
// Prometheus metrics, the component health endpoints, and a JSON status
// endpoint aggregating every role's status file.
type Server struct {
	Addr   string
	Sup    *Supervisor
	Status *statusbus.Bus

	srv *http.Server
}

// NewServer constructs a Server listening on addr.
func NewServer(addr string, sup *Supervisor, status *statusbus.Bus) *Server {
	return &Server{Addr: addr, Sup: sup, Status: status}
}

// Start begins serving in a background goroutine. It returns once the
// listener is configured; serve errors other than clean shutdown are
// logged, not returned.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LiveHandler())
	mux.HandleFunc("/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := log.WithComponent("supervisor")
			logger.Error().Err(err).Msg("observability server failed")
		}
	}()
}

// Stop shuts the listener down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// statusResponse aggregates the supervisor's child view with each
// role's own last-written status.
type statusResponse struct {
	Supervisor any                         `json:"supervisor"`
	Roles      map[string]statusbus.Status `json:"roles"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Supervisor: s.Sup.ChildStates(),
		Roles:      make(map[string]statusbus.Status, len(role.Agents)),
	}
	for _, ro := range role.Agents {
		st, err := s.Status.Read(ro)
		if err != nil {
			continue
		}
		resp.Roles[string(ro)] = st
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, fmt.Sprintf("encode status: %v", err), http.StatusInternalServerError)
	}
}
