// Package gateway runs the relay together with its chat channels and exposes
// liveness and readiness endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/channel"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
)

const (
	defaultStatusHost   = "0.0.0.0"
	defaultStatusPort   = 18790
	remoteProbeInterval = 30 * time.Second
)

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	relay    *Relay
	channels []channel.Adapter

	mu             sync.RWMutex
	startedAt      time.Time
	remoteLastOKAt time.Time
	remoteLastErr  string
	channelStates  map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status         string                  `json:"status"`
	Agent          string                  `json:"agent"`
	IntakeMode     string                  `json:"intake_mode"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	RemoteURL      string                  `json:"remote_url"`
	RemoteLastOKAt string                  `json:"remote_last_ok_at,omitempty"`
	RemoteLastErr  string                  `json:"remote_last_error,omitempty"`
	Channels       map[string]channelState `json:"channels"`
}

// NewService builds the relay from cfg and attaches every adapter to it.
func NewService(cfg *config.Config, adapters []channel.Adapter, log *slog.Logger, opts ...RelayOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	relay, err := NewRelay(cfg, log, opts...)
	if err != nil {
		return nil, err
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		if _, exists := channelStates[adapter.Name()]; exists {
			relay.close()
			return nil, fmt.Errorf("duplicate channel %q", adapter.Name())
		}
		channelStates[adapter.Name()] = channelState{}
		relay.Attach(adapter)
	}

	return &Service{
		cfg:           cfg,
		log:           logger.Component(log, "gateway.service"),
		relay:         relay,
		channels:      adapters,
		channelStates: channelStates,
	}, nil
}

// Relay exposes the wired relay.
func (s *Service) Relay() *Relay { return s.relay }

// Run serves every channel until ctx ends or one of them fails. An unreachable
// remote is logged and reported through /readyz but does not stop startup.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- s.relay.Run(ctx)
	}()

	if err := s.checkRemoteHealth(ctx); err != nil {
		s.log.Warn("Remote endpoint is not reachable yet", "remote", s.relay.Bridge().BaseURL(), "error", err)
	}

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	go func() {
		ticker := time.NewTicker(remoteProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkRemoteHealth(ctx)
			}
		}
	}()

	submitter := s.relay.Agent()
	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, submitter)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErrors:
		runErr = err
	case err := <-errCh:
		runErr = err
	case err := <-relayDone:
		relayDone <- err
		if err != nil {
			runErr = fmt.Errorf("relay stopped: %w", err)
		}
	}

	cancel()
	if err := <-relayDone; err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	remoteLastOK := ""
	if !s.remoteLastOKAt.IsZero() {
		remoteLastOK = s.remoteLastOKAt.Format(time.RFC3339)
	}

	response := statusResponse{
		Status:         status,
		UptimeSeconds:  uptime,
		RemoteLastOKAt: remoteLastOK,
		RemoteLastErr:  s.remoteLastErr,
		Channels:       channels,
	}
	if s.relay != nil {
		response.Agent = s.relay.Agent().Name()
		response.IntakeMode = s.relay.IntakeMode()
		response.RemoteURL = s.relay.Bridge().BaseURL()
	}

	return response
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	return anyRunning && !s.remoteLastOKAt.IsZero() && s.remoteLastErr == ""
}

func (s *Service) checkRemoteHealth(ctx context.Context) error {
	if err := s.relay.Bridge().Health(ctx); err != nil {
		s.mu.Lock()
		s.remoteLastErr = err.Error()
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.remoteLastErr = ""
	s.remoteLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
