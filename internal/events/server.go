package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the bridge server.
	DefaultPort = 8765
	// DefaultHistoryLimit bounds how many events the bridge retains for pollers.
	DefaultHistoryLimit = 2048
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// ServerStatus reports runtime lifecycle states for the HTTP bridge.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Settings captures runtime configuration for the HTTP event bridge server.
type Settings struct {
	Host         string
	Port         int
	HistoryLimit int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address joins host and port into a dial string. Port 0 is preserved so the
// listener binds an ephemeral port; only out-of-range ports fall back to the
// default.
func (s Settings) Address() string {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		host = DefaultHost
	}
	port := s.Port
	if port < 0 || port > 65535 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (s Settings) normalized() Settings {
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = DefaultHistoryLimit
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	return s
}

// BridgeServer exposes the event stream over HTTP: /health for liveness and
// /events for NDJSON history polling. It is a bus subscriber like any other;
// the engine never knows it exists.
type BridgeServer struct {
	settings Settings
	bus      *Bus
	logger   Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	history   []Event
	sub       Subscription
	done      chan struct{}
}

// BridgeOption customizes server construction.
type BridgeOption func(*BridgeServer)

// BridgeWithLogger overrides the default no-op logger.
func BridgeWithLogger(l Logger) BridgeOption {
	return func(s *BridgeServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// BridgeWithClock allows tests to control timestamps.
func BridgeWithClock(clock func() time.Time) BridgeOption {
	return func(s *BridgeServer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewBridgeServer prepares a bridge over the provided bus.
func NewBridgeServer(settings Settings, bus *Bus, opts ...BridgeOption) *BridgeServer {
	s := &BridgeServer{
		settings: settings.normalized(),
		bus:      bus,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener, subscribes to the bus, and serves HTTP.
func (s *BridgeServer) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("events: bridge server is nil")
	}
	if s.bus == nil {
		return fmt.Errorf("events: bridge requires a bus")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("events: bridge already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("events: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	s.sub = s.bus.Subscribe("")
	s.done = make(chan struct{})
	go s.consume(s.sub.Events, s.done)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events", s.handleEvents)
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("events: bridge serve error: %v", err)
		}
	}()
	s.logger.Printf("events: bridge listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting connections and detaches from the bus.
func (s *BridgeServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	s.sub.Close()
	<-s.done
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *BridgeServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Status reports the server's lifecycle state.
func (s *BridgeServer) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *BridgeServer) consume(ch <-chan Event, done chan struct{}) {
	defer close(done)
	for event := range ch {
		s.mu.Lock()
		s.history = append(s.history, event)
		if len(s.history) > s.settings.HistoryLimit {
			s.history = s.history[len(s.history)-s.settings.HistoryLimit:]
		}
		s.mu.Unlock()
	}
}

func (s *BridgeServer) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Events        int    `json:"events"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *BridgeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.mu.RLock()
	count := len(s.history)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		Events:        count,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

// handleEvents streams retained history as NDJSON, optionally filtered by the
// execution query parameter.
func (s *BridgeServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	execution := strings.TrimSpace(r.URL.Query().Get("execution"))
	s.mu.RLock()
	snapshot := make([]Event, 0, len(s.history))
	for _, event := range s.history {
		if execution == "" || event.ExecutionID == execution {
			snapshot = append(snapshot, event)
		}
	}
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/x-ndjson")
	encoder := json.NewEncoder(w)
	for _, event := range snapshot {
		if err := encoder.Encode(event); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
