package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/plcman"
	"maintlink/status"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	hub   *status.Hub
	cat   *catalog.Catalog
	cfg   config.PLCConfig
}

var _ Controller = (*fakeController)(nil)

func newFakeController() *fakeController {
	return &fakeController{
		hub: status.NewHub(status.DefaultCapacities()),
		cat: catalog.Default(),
		cfg: config.DefaultConfig().PLC,
	}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Connect() { f.record("connect") }
func (f *fakeController) ConnectTo(host string) { f.record("connect " + host) }
func (f *fakeController) Reconnect() { f.record("reconnect") }
func (f *fakeController) Disconnect() { f.record("disconnect") }
func (f *fakeController) UpdateAddress(h string) { f.record("address " + h) }
func (f *fakeController) ToggleOutput(n string) { f.record("toggle " + n) }
func (f *fakeController) State() plcman.State { return plcman.StateConnected }
func (f *fakeController) Config() config.PLCConfig { return f.cfg }
func (f *fakeController) ConnectionMode() string { return "fake" }
func (f *fakeController) Hub() *status.Hub { return f.hub }
func (f *fakeController) Catalog() *catalog.Catalog {
	return f.cat
}

func (f *fakeController) OpenSecondaryWindow(sub status.Subscriber) status.SubscriberID {
	return f.hub.SubscribeAndReplay(sub)
}

func (f *fakeController) CloseWindow(id status.SubscriberID) { f.hub.Unsubscribe(id) }

func newTestServer(t *testing.T) (*Server, *fakeController) {
	t.Helper()
	ctl := newFakeController()
	s := NewServer(config.WebConfig{Host: "127.0.0.1", Port: 0}, ctl)
	t.Cleanup(s.Close)
	return s, ctl
}

func testSnapshot(ctl *fakeController) status.Snapshot {
	return status.Snapshot{
		Seq: 7,
		At:  time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		Decoded: ctl.cat.Format(map[string]interface{}{
			"DB6,X0.0":   true,
			"DB1,X58.0":  true,
			"DB1,REAL32": 1.5,
		}),
	}
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCommandEndpoints(t *testing.T) {
	s, ctl := newTestServer(t)

	tests := []struct {
		method, path, body string
		code               int
		call               string
	}{
		{"POST", "/api/connect", "", http.StatusAccepted, "connect"},
		{"POST", "/api/connect", `{"host":"10.0.0.5"}`, http.StatusAccepted, "connect 10.0.0.5"},
		{"POST", "/api/connect", `{"host":`, http.StatusBadRequest, ""},
		{"POST", "/api/connect", `{"host":"10.0.0.5/24"}`, http.StatusBadRequest, ""},
		{"POST", "/api/reconnect", "", http.StatusAccepted, "reconnect"},
		{"POST", "/api/disconnect", "", http.StatusAccepted, "disconnect"},
		{"PUT", "/api/address", `{"host":"plc-2.local"}`, http.StatusAccepted, "address plc-2.local"},
		{"PUT", "/api/address", `{}`, http.StatusBadRequest, ""},
		{"POST", "/api/outputs/indicator/toggle", "", http.StatusAccepted, "toggle indicator"},
		{"POST", "/api/outputs/faultReset/toggle", "", http.StatusAccepted, "toggle faultReset"},
		{"POST", "/api/outputs/nope/toggle", "", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.body, func(t *testing.T) {
			before := len(ctl.Calls())
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())

			calls := ctl.Calls()
			if tt.call == "" {
				assert.Len(t, calls, before)
				return
			}
			require.Len(t, calls, before+1)
			assert.Equal(t, tt.call, calls[before])
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, ctl := newTestServer(t)

	rec := do(t, s, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Connected", resp.State)
	assert.Equal(t, "192.168.0.1", resp.Host)
	assert.Equal(t, "192.168.0.1:102", resp.Address)
	assert.Equal(t, "fake", resp.ConnectionMode)
	assert.Nil(t, resp.Snapshot)

	ctl.hub.PublishStatus(plcman.LabelConnected)
	ctl.hub.PublishSnapshot(testSnapshot(ctl))

	rec = do(t, s, "GET", "/api/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, plcman.LabelConnected, resp.Label)
	require.NotNil(t, resp.Snapshot)
	assert.Equal(t, uint64(7), resp.Snapshot.Seq)
	assert.Equal(t, catalog.Panel{EmergencyStop: true, Indicator: true, Analogue: 1.5}, resp.Snapshot.Panel)
}

func TestHistoryAndOutputs(t *testing.T) {
	s, ctl := newTestServer(t)
	ctl.hub.PublishSnapshot(testSnapshot(ctl))

	rec := do(t, s, "GET", "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist status.HistoricalData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Values, 1)
	assert.Equal(t, uint64(7), hist.Values[0].Seq)

	rec = do(t, s, "GET", "/api/outputs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var outs []OutputResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outs))
	require.Len(t, outs, 3)
	for _, o := range outs {
		if o.Name == catalog.SignalIndicator {
			assert.Equal(t, "DB1,X58.0", o.Address)
			require.NotNil(t, o.Value)
			assert.True(t, *o.Value)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "OPTIONS", "/api/connect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

// readEvent reads one SSE event, skipping keepalive comments.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var typ, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && typ != "":
			return typ, data
		}
	}
}

func TestSSEStream(t *testing.T) {
	s, ctl := newTestServer(t)
	ctl.hub.PublishStatus(plcman.LabelConnected)
	ctl.hub.PublishSnapshot(testSnapshot(ctl))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	typ, data := readEvent(t, r)
	assert.Equal(t, eventStatus, typ)
	assert.JSONEq(t, `{"label":"Connected to controller"}`, data)

	typ, data = readEvent(t, r)
	assert.Equal(t, eventSnapshot, typ)
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, uint64(7), snap.Seq)

	typ, _ = readEvent(t, r)
	assert.Equal(t, eventStats, typ)

	require.Eventually(t, func() bool { return s.events.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	ctl.hub.PublishStatus(plcman.LabelLost)
	typ, data = readEvent(t, r)
	assert.Equal(t, eventStatus, typ)
	assert.JSONEq(t, `{"label":"PLC Lost Connection"}`, data)
}

func TestSSETypeFilter(t *testing.T) {
	s, ctl := newTestServer(t)
	ctl.hub.PublishStatus(plcman.LabelConnected)
	ctl.hub.PublishSnapshot(testSnapshot(ctl))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events?types=snapshot", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	typ, _ := readEvent(t, bufio.NewReader(resp.Body))
	assert.Equal(t, eventSnapshot, typ)
}

func TestDetailWindow(t *testing.T) {
	s, ctl := newTestServer(t)
	ctl.hub.PublishStatus(plcman.LabelConnected)
	ctl.hub.PublishSnapshot(testSnapshot(ctl))
	require.Equal(t, 1, ctl.hub.SubscriberCount())

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detail"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var types []string
	for i := 0; i < 3; i++ {
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&m))
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{eventStatus, eventSnapshot, eventStats}, types)
	assert.Equal(t, 2, ctl.hub.SubscriberCount())

	require.NoError(t, conn.WriteJSON(plcman.Command{Action: "toggle", Output: catalog.SignalIndicator}))
	require.NoError(t, conn.WriteJSON(plcman.Command{Action: "toggle", Output: "nope"}))
	require.NoError(t, conn.WriteJSON(plcman.Command{Action: "disconnect"}))
	require.Eventually(t, func() bool { return len(ctl.Calls()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"toggle indicator", "disconnect"}, ctl.Calls())

	conn.Close()
	require.Eventually(t, func() bool { return ctl.hub.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseEndsDetailWindows(t *testing.T) {
	s, ctl := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detail"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ctl.hub.SubscriberCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	s.Close()
	require.Eventually(t, func() bool { return ctl.hub.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	rec := do(t, s, "GET", "/ws/detail", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartStop(t *testing.T) {
	ctl := newFakeController()
	s := NewServer(config.WebConfig{Host: "127.0.0.1", Port: 0}, ctl)
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Zero(t, ctl.hub.SubscriberCount())
}
