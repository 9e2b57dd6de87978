// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/varbooth/varbooth/internal/dispatch"
)

func testHubConfig() Config {
	return Config{
		PingInterval: time.Minute,
		PongTimeout:  time.Minute,
		CommandRate:  100,
		CommandBurst: 10,
		UISettings:   UISettings{SwapRedBlue: true},
	}
}

// newTestServer wires a hub with a few stand-in emitters behind a real
// HTTP server.
func newTestServer(t *testing.T, cfg Config, rcfg RouterConfig) (*Hub, *dispatch.Queue, *httptest.Server) {
	t.Helper()
	queue := dispatch.New()
	t.Cleanup(func() { queue.Close() })

	hub := NewHub(cfg, queue)
	hub.AddEventType("controller_status", func() any {
		return map[string]string{"state": "live"}
	})
	hub.AddEventType("arena_connection", func() any {
		return map[string]bool{"connected": true}
	})
	hub.AddEventType("hyperdeck_connection", func() any {
		return map[string]bool{"connected": false}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Serve(ctx)

	router, err := NewRouter(hub, rcfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return hub, queue, srv
}

func dialWebsocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	payload, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame %s: %v", raw, err)
	}
	return frame
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count stuck at %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	_, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSubscribeReturnsInitialData(t *testing.T) {
	_, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})
	conn := dialWebsocket(t, srv)

	sendFrame(t, conn, map[string]any{
		"type":        "subscribe",
		"event_types": []string{"controller_status", "ui_settings", "bogus_type"},
		"request_id":  7,
	})

	frame := readFrame(t, conn)
	if frame["type"] != "subscribe" {
		t.Fatalf("type = %v, want subscribe", frame["type"])
	}
	if frame["request_id"] != float64(7) {
		t.Errorf("request_id = %v, want 7", frame["request_id"])
	}
	initial, ok := frame["initial_data"].(map[string]any)
	if !ok {
		t.Fatalf("initial_data missing: %v", frame)
	}
	if _, ok := initial["controller_status"]; !ok {
		t.Error("initial_data missing controller_status")
	}
	settings, ok := initial["ui_settings"].(map[string]any)
	if !ok || settings["swap_red_blue"] != true {
		t.Errorf("ui_settings = %v, want swap_red_blue true", initial["ui_settings"])
	}
	// Unknown types are skipped, not errored.
	if _, ok := initial["bogus_type"]; ok {
		t.Error("initial_data must not contain unknown types")
	}
}

func TestUnsubscribeListsRemaining(t *testing.T) {
	_, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})
	conn := dialWebsocket(t, srv)

	sendFrame(t, conn, map[string]any{
		"type":        "subscribe",
		"event_types": []string{"controller_status", "arena_connection", "ui_settings"},
	})
	readFrame(t, conn)

	sendFrame(t, conn, map[string]any{
		"type":        "unsubscribe",
		"event_types": []string{"arena_connection"},
		"request_id":  3,
	})
	frame := readFrame(t, conn)
	if frame["type"] != "unsubscribe" {
		t.Fatalf("type = %v, want unsubscribe", frame["type"])
	}
	remaining, ok := frame["unsubscribed_event_types"].([]any)
	if !ok {
		t.Fatalf("unsubscribed_event_types missing: %v", frame)
	}
	want := []any{"controller_status", "ui_settings"}
	if len(remaining) != len(want) || remaining[0] != want[0] || remaining[1] != want[1] {
		t.Errorf("remaining = %v, want %v", remaining, want)
	}
}

func TestNotifyPushesOnlyToSubscribers(t *testing.T) {
	hub, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})
	conn := dialWebsocket(t, srv)
	waitForClients(t, hub, 1)

	sendFrame(t, conn, map[string]any{
		"type":        "subscribe",
		"event_types": []string{"arena_connection"},
	})
	readFrame(t, conn)

	// The hub loop serializes notifications, so the unsubscribed type
	// notified first must not reach the client ahead of the second.
	hub.Notify("controller_status")
	hub.Notify("arena_connection")

	frame := readFrame(t, conn)
	if frame["type"] != "event" {
		t.Fatalf("type = %v, want event", frame["type"])
	}
	if frame["event_type"] != "arena_connection" {
		t.Errorf("event_type = %v, want arena_connection", frame["event_type"])
	}
	data, ok := frame["data"].(map[string]any)
	if !ok || data["connected"] != true {
		t.Errorf("data = %v, want connected true", frame["data"])
	}
}

func TestCommandForwardedToQueue(t *testing.T) {
	_, queue, srv := newTestServer(t, testHubConfig(), RouterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	envelopes, err := queue.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn := dialWebsocket(t, srv)
	sendFrame(t, conn, map[string]any{
		"type":    "command",
		"command": "load_match",
		"data":    map[string]string{"var_id": "Q3"},
	})

	select {
	case env := <-envelopes:
		if env.Kind != dispatch.KindClientCommand {
			t.Fatalf("kind = %s, want client command", env.Kind)
		}
		var cmd dispatch.ClientCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if cmd.Command != "load_match" {
			t.Errorf("command = %q, want load_match", cmd.Command)
		}
		var data struct {
			VarID string `json:"var_id"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.VarID != "Q3" {
			t.Errorf("data = %s, want var_id Q3", cmd.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forwarded command")
	}
}

func TestCommandRateLimited(t *testing.T) {
	cfg := testHubConfig()
	cfg.CommandRate = 0 // the burst is all a client ever gets
	cfg.CommandBurst = 1
	_, queue, srv := newTestServer(t, cfg, RouterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	envelopes, err := queue.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn := dialWebsocket(t, srv)
	sendFrame(t, conn, map[string]any{"type": "command", "command": "exit_review"})
	sendFrame(t, conn, map[string]any{"type": "command", "command": "exit_review"})

	select {
	case <-envelopes:
	case <-time.After(5 * time.Second):
		t.Fatal("first command never arrived")
	}
	select {
	case env := <-envelopes:
		t.Fatalf("second command should have been rate limited, got %s", env.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientPingGetsPong(t *testing.T) {
	_, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})
	conn := dialWebsocket(t, srv)

	sendFrame(t, conn, map[string]any{"type": "ping"})
	frame := readFrame(t, conn)
	if frame["type"] != "pong" {
		t.Errorf("type = %v, want pong", frame["type"])
	}
}

func TestServerKeepalivePing(t *testing.T) {
	cfg := testHubConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = time.Minute
	_, _, srv := newTestServer(t, cfg, RouterConfig{})
	conn := dialWebsocket(t, srv)

	frame := readFrame(t, conn)
	if frame["type"] != "ping" {
		t.Fatalf("type = %v, want ping", frame["type"])
	}
	ts, ok := frame["timestamp"].(float64)
	if !ok || ts <= 0 {
		t.Errorf("timestamp = %v, want a positive unix milli value", frame["timestamp"])
	}
}

func TestMissedPongDisconnects(t *testing.T) {
	cfg := testHubConfig()
	cfg.PingInterval = 30 * time.Millisecond
	cfg.PongTimeout = 10 * time.Millisecond
	hub, _, srv := newTestServer(t, cfg, RouterConfig{})
	conn := dialWebsocket(t, srv)
	waitForClients(t, hub, 1)

	// Never answer the keepalive pings; the server must hang up.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	waitForClients(t, hub, 0)
}

func TestReloadBroadcast(t *testing.T) {
	hub, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})
	conn := dialWebsocket(t, srv)
	waitForClients(t, hub, 1)

	hub.ReloadClients()

	frame := readFrame(t, conn)
	if frame["type"] != "reload" {
		t.Errorf("type = %v, want reload", frame["type"])
	}
}

func TestReloadClientsEndpoint(t *testing.T) {
	hub, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})
	conn := dialWebsocket(t, srv)
	waitForClients(t, hub, 1)

	resp, err := http.Post(srv.URL+"/api/reload_clients", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/reload_clients: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "reload" {
		t.Errorf("type = %v, want reload", frame["type"])
	}
}

func TestStatusEndpointRequiresAuth(t *testing.T) {
	rcfg := RouterConfig{AdminUsername: "fta", AdminPassword: "correct horse"}
	_, _, srv := newTestServer(t, testHubConfig(), rcfg)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without credentials = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Basic") {
		t.Errorf("WWW-Authenticate = %q, want a Basic challenge", got)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.SetBasicAuth("fta", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with bad password: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with bad password = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.SetBasicAuth("fta", "correct horse")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with good credentials: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with good credentials = %d, want 200", resp.StatusCode)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if _, ok := status["websocket_clients"]; !ok {
		t.Errorf("status payload %v missing websocket_clients", status)
	}
	if _, ok := status["controller_status"]; !ok {
		t.Errorf("status payload %v missing controller_status", status)
	}
}

func TestStatusEndpointOpenWithoutAdmin(t *testing.T) {
	_, _, srv := newTestServer(t, testHubConfig(), RouterConfig{})

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 when no admin user is configured", resp.StatusCode)
	}
}

func TestSnapshotSkipsUnknownTypes(t *testing.T) {
	queue := dispatch.New()
	t.Cleanup(func() { queue.Close() })
	hub := NewHub(testHubConfig(), queue)

	data := hub.snapshot([]string{"ui_settings", "never_registered"})
	if len(data) != 1 {
		t.Fatalf("snapshot has %d entries, want 1", len(data))
	}
	if _, ok := data["ui_settings"]; !ok {
		t.Error("snapshot missing ui_settings")
	}
}

func TestAddEventTypeRejectsDuplicates(t *testing.T) {
	queue := dispatch.New()
	t.Cleanup(func() { queue.Close() })
	hub := NewHub(testHubConfig(), queue)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate event type")
		}
	}()
	hub.AddEventType("ui_settings", func() any { return nil })
}
