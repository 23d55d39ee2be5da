package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mikey/workauth-assistant/internal/adapters/status"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

const (
	AppName    = "Work Authorization Assistant"
	AppVersion = "0.1.0"

	greeting = "INFO: Connection established. Waiting for status updates..."

	defaultLogLimit = 100
	maxLogLimit     = 1000
	writeWait       = 10 * time.Second
)

// Controller is the pipeline as seen by the control surface
type Controller interface {
	Start() error
	Stop(ctx context.Context) error
	Status() core.PipelineStatus
}

// EventReader pages through the durable event log
type EventReader interface {
	List(ctx context.Context, limit, offset int) ([]core.EventLogEntry, error)
}

// Options are the collaborators the control server exposes
type Options struct {
	Controller     Controller
	Events         core.EventLogger
	Logs           EventReader
	Status         *status.Broadcaster
	IMAPConfigured bool
	StopTimeout    time.Duration
}

// Server is the HTTP control surface: health, start/stop/status, the event
// log and the WebSocket status stream
type Server struct {
	cfg      config.ServerConfig
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
	http     *http.Server

	stops sync.WaitGroup
}

// NewServer creates a control server
func NewServer(cfg config.ServerConfig, opts Options, logger *zap.Logger) *Server {
	if opts.Events == nil {
		opts.Events = core.NopEventLogger{}
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed control surface
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /control/start", s.handleStart)
	mux.HandleFunc("POST /control/start_monitoring", s.handleStart)
	mux.HandleFunc("POST /control/stop", s.handleStop)
	mux.HandleFunc("POST /control/stop_monitoring", s.handleStop)
	mux.HandleFunc("GET /control/status", s.handleStatus)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /ws/status", s.handleStatusStream)
	return mux
}

// Start begins listening in the background. Listener errors are returned
// synchronously; serve errors are logged.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.logger.Info("Control server listening", zap.String("address", l.Addr().String()))

	go func() {
		if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for stop requests already
// handed to the pipeline
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	waited := make(chan struct{})
	go func() {
		s.stops.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

type actionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"app_name": AppName,
		"version":  AppVersion,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.opts.IMAPConfigured || s.opts.Controller == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "IMAP host not configured. Cannot start monitoring."})
		return
	}

	s.logger.Info("Received request to start email monitoring", zap.String("remote", r.RemoteAddr))
	err := s.opts.Controller.Start()
	switch {
	case errors.Is(err, core.ErrPipelineRunning):
		s.writeJSON(w, http.StatusOK, actionResponse{Status: "already_running", Message: "Email monitoring is already active."})
	case errors.Is(err, core.ErrPipelineStopping):
		s.writeJSON(w, http.StatusConflict, actionResponse{Status: "stopping", Message: "Email monitoring is still stopping. Try again shortly."})
	case err != nil:
		s.logger.Error("Failed to start email monitoring", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
	default:
		s.opts.Events.Log(r.Context(), core.EventControlAction, "Email monitoring started via API.", "")
		s.writeJSON(w, http.StatusOK, actionResponse{Status: "starting", Message: "Email monitoring initiated."})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.opts.Controller == nil || s.opts.Controller.Status().State != core.StateRunning {
		s.writeJSON(w, http.StatusOK, actionResponse{Status: "already_stopped", Message: "Email monitoring is not active or already stopping."})
		return
	}

	s.logger.Info("Received request to stop email monitoring", zap.String("remote", r.RemoteAddr))
	s.stops.Add(1)
	go func() {
		defer s.stops.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
		defer cancel()
		if err := s.opts.Controller.Stop(ctx); err != nil {
			s.logger.Warn("Email monitoring did not stop cleanly", zap.Error(err))
		}
	}()

	s.opts.Events.Log(r.Context(), core.EventControlAction, "Email monitoring stopped via API.", "")
	s.writeJSON(w, http.StatusOK, actionResponse{Status: "stopping", Message: "Email monitoring stopping."})
}

type statusResponse struct {
	MonitoringActive bool   `json:"monitoring_active"`
	StatusMessage    string `json:"status_message"`
	IMAPConfigured   bool   `json:"imap_configured"`
	State            string `json:"state"`
	RunID            string `json:"run_id,omitempty"`
	Processed        int64  `json:"processed"`
	Observers        int    `json:"observers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		StatusMessage:  "Email monitoring is disabled (IMAP host not configured).",
		IMAPConfigured: s.opts.IMAPConfigured,
		State:          core.StateStopped.String(),
	}
	if s.opts.Status != nil {
		resp.Observers = s.opts.Status.Count()
	}

	if s.opts.IMAPConfigured && s.opts.Controller != nil {
		st := s.opts.Controller.Status()
		resp.MonitoringActive = st.State == core.StateRunning
		resp.StatusMessage = st.Message
		resp.State = st.State.String()
		resp.RunID = st.RunID
		resp.Processed = st.Processed
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "Event log is not available."})
		return
	}

	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil || limit < 1 || limit > maxLogLimit {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("limit must be an integer between 1 and %d", maxLogLimit)})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "offset must be a non-negative integer"})
		return
	}

	entries, err := s.opts.Logs.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to fetch event logs", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Error fetching logs from database."})
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "Status stream is not available."})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	s.logger.Info("WebSocket connected", zap.String("remote", r.RemoteAddr))

	sub := s.opts.Status.Subscribe()
	client := &streamClient{conn: conn}
	defer func() {
		s.opts.Status.Unsubscribe(sub)
		conn.Close()
		s.logger.Info("WebSocket disconnected", zap.String("remote", r.RemoteAddr))
	}()

	if err := client.send(greeting); err != nil {
		return
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			s.logger.Debug("Received from WebSocket", zap.String("remote", r.RemoteAddr), zap.ByteString("data", data))
			if string(data) == "ping" {
				if err := client.send("pong"); err != nil {
					readErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case line, ok := <-sub.Lines:
			if !ok {
				client.close(websocket.CloseGoingAway, "Server shutting down")
				return
			}
			if err := client.send(line); err != nil {
				s.logger.Warn("Error sending WebSocket message, removing connection",
					zap.String("remote", r.RemoteAddr),
					zap.Error(err))
				return
			}
		case err := <-readErr:
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read ended", zap.String("remote", r.RemoteAddr), zap.Error(err))
			}
			return
		}
	}
}

// streamClient serializes writes; gorilla connections allow one writer at a time
type streamClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *streamClient) send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *streamClient) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}
