package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mikey/workauth-assistant/internal/adapters/status"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeController struct {
	mu       sync.Mutex
	state    core.PipelineState
	startErr error
	stopped  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{stopped: make(chan struct{}, 1)}
}

func (c *fakeController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	if c.state == core.StateRunning {
		return core.ErrPipelineRunning
	}
	c.state = core.StateRunning
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	c.mu.Lock()
	c.state = core.StateStopped
	c.mu.Unlock()
	c.stopped <- struct{}{}
	return nil
}

func (c *fakeController) Status() core.PipelineStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := "Email monitoring is stopped."
	if c.state == core.StateRunning {
		msg = "Email monitoring is active."
	}
	return core.PipelineStatus{State: c.state, RunID: "run-1", Message: msg, Processed: 3}
}

type fakeEvents struct {
	mu      sync.Mutex
	types   []string
	entries []core.EventLogEntry
	limit   int
	offset  int
	err     error
}

func (e *fakeEvents) Log(_ context.Context, eventType, _, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
}

func (e *fakeEvents) List(_ context.Context, limit, offset int) ([]core.EventLogEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limit, e.offset = limit, offset
	return e.entries, e.err
}

func (e *fakeEvents) logged() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.types...)
}

type harness struct {
	srv         *httptest.Server
	controller  *fakeController
	events      *fakeEvents
	broadcaster *status.Broadcaster
}

func newHarness(t *testing.T, imapConfigured bool) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		controller:  newFakeController(),
		events:      &fakeEvents{},
		broadcaster: status.NewBroadcaster(8, logger),
	}
	s := NewServer(config.ServerConfig{ListenAddress: "127.0.0.1:0"}, Options{
		Controller:     h.controller,
		Events:         h.events,
		Logs:           h.events,
		Status:         h.broadcaster,
		IMAPConfigured: imapConfigured,
		StopTimeout:    time.Second,
	}, logger)
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		h.broadcaster.Close()
		h.srv.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, nil)
	require.NoError(t, err)
	res, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(res.Body).Decode(&body)
	return res.StatusCode, body
}

func TestHealth(t *testing.T) {
	h := newHarness(t, true)
	code, body := h.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, AppName, body["app_name"])
}

func TestStartAndStop(t *testing.T) {
	h := newHarness(t, true)

	code, body := h.do(t, http.MethodPost, "/control/start")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", body["status"])

	code, body = h.do(t, http.MethodPost, "/control/start")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "already_running", body["status"])

	_, body = h.do(t, http.MethodGet, "/control/status")
	assert.Equal(t, true, body["monitoring_active"])
	assert.Equal(t, "Email monitoring is active.", body["status_message"])
	assert.Equal(t, true, body["imap_configured"])
	assert.Equal(t, "running", body["state"])

	code, body = h.do(t, http.MethodPost, "/control/stop")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopping", body["status"])

	select {
	case <-h.controller.stopped:
	case <-time.After(time.Second):
		t.Fatal("controller was not stopped")
	}

	_, body = h.do(t, http.MethodPost, "/control/stop")
	assert.Equal(t, "already_stopped", body["status"])

	assert.Equal(t, []string{core.EventControlAction, core.EventControlAction}, h.events.logged())
}

func TestStartWhileStopping(t *testing.T) {
	h := newHarness(t, true)
	h.controller.startErr = core.ErrPipelineStopping

	code, body := h.do(t, http.MethodPost, "/control/start")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "stopping", body["status"])
}

func TestStartWithoutIMAP(t *testing.T) {
	h := newHarness(t, false)

	code, body := h.do(t, http.MethodPost, "/control/start")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["detail"], "IMAP host not configured")

	_, body = h.do(t, http.MethodGet, "/control/status")
	assert.Equal(t, false, body["monitoring_active"])
	assert.Equal(t, false, body["imap_configured"])
	assert.Contains(t, body["status_message"], "disabled")
}

func TestControlRoutesRequirePost(t *testing.T) {
	h := newHarness(t, true)
	code, _ := h.do(t, http.MethodGet, "/control/start")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestLogs(t *testing.T) {
	h := newHarness(t, true)
	details := "run_id: run-1"
	h.events.entries = []core.EventLogEntry{
		{ID: 2, Timestamp: time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC), EventType: core.EventMonitorStarted, Message: "Email monitoring started", Details: &details},
		{ID: 1, Timestamp: time.Date(2024, 7, 15, 11, 0, 0, 0, time.UTC), EventType: core.EventStartup, Message: "Started"},
	}

	res, err := h.srv.Client().Get(h.srv.URL + "/logs?limit=5&offset=1")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var entries []core.EventLogEntry
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, core.EventMonitorStarted, entries[0].EventType)
	assert.Equal(t, "run_id: run-1", *entries[0].Details)
	assert.Nil(t, entries[1].Details)
	assert.Equal(t, 5, h.events.limit)
	assert.Equal(t, 1, h.events.offset)
}

func TestLogsDefaultsAndValidation(t *testing.T) {
	h := newHarness(t, true)

	code, _ := h.do(t, http.MethodGet, "/logs")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 100, h.events.limit)
	assert.Equal(t, 0, h.events.offset)

	for _, query := range []string{"limit=0", "limit=1001", "limit=abc", "offset=-1", "offset=x"} {
		code, body := h.do(t, http.MethodGet, "/logs?"+query)
		assert.Equal(t, http.StatusBadRequest, code, query)
		assert.NotEmpty(t, body["detail"], query)
	}
}

func TestLogsStoreError(t *testing.T) {
	h := newHarness(t, true)
	h.events.err = errors.New("database is locked")

	code, body := h.do(t, http.MethodGet, "/logs")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Error fetching logs from database.", body["detail"])
}

func dialStatus(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestStatusStream(t *testing.T) {
	h := newHarness(t, true)
	conn := dialStatus(t, h)

	assert.Equal(t, greeting, readLine(t, conn))
	require.Eventually(t, func() bool { return h.broadcaster.Count() == 1 }, time.Second, 5*time.Millisecond)

	h.broadcaster.Broadcast("INFO: Email monitoring started.")
	assert.Equal(t, "INFO: Email monitoring started.", readLine(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "pong", readLine(t, conn))
}

func TestStatusStreamUnsubscribesOnDisconnect(t *testing.T) {
	h := newHarness(t, true)
	conn := dialStatus(t, h)
	assert.Equal(t, greeting, readLine(t, conn))
	require.Eventually(t, func() bool { return h.broadcaster.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.broadcaster.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStatusStreamClosesOnShutdown(t *testing.T) {
	h := newHarness(t, true)
	conn := dialStatus(t, h)
	assert.Equal(t, greeting, readLine(t, conn))
	require.Eventually(t, func() bool { return h.broadcaster.Count() == 1 }, time.Second, 5*time.Millisecond)

	h.broadcaster.Close()

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
