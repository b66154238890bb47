package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/registry"
	"github.com/tagon-dev/tagon/internal/reload"
)

func testServer(t *testing.T, components map[string]string) (*Server, *reload.Broadcaster) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Components.Dir = dir

	for name, raw := range components {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	reg := registry.New(cfg)
	if err := reg.LoadDir(dir, ".tg"); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	bc := reload.NewBroadcaster(cfg)
	t.Cleanup(bc.CloseAll)
	return New(cfg, reg, bc), bc
}

func TestRootServesAppComponent(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"App.tg": "Html:\n<h1>home</h1>\nCss:\nh1 { color: red; }",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>home</h1>") {
		t.Errorf("body missing markup: %s", body)
	}
	if !strings.Contains(body, `<style id="tagon-style">`) || !strings.Contains(body, "h1 { color: red; }") {
		t.Error("body missing style block")
	}
	if !strings.Contains(body, `new WebSocket`) {
		t.Error("body missing reload client")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}

func TestNamedComponentPage(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"App.tg":   "Html:\n<p>app</p>",
		"About.tg": "Html:\n<p>about</p>",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/About", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<p>about</p>") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUnknownComponentIs404(t *testing.T) {
	srv, _ := testServer(t, nil)

	for _, path := range []string{"/Nope", "/a/b", "/..%2fetc"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestBrokenComponentIs500WithReloadClient(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"App.tg": "Imports: x = 1\n",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Component error") {
		t.Errorf("body missing error heading: %s", body)
	}
	// A broken page keeps the reload client so a fix recovers the browser.
	if !strings.Contains(body, "new WebSocket") {
		t.Error("error page missing reload client")
	}
}

func TestRequestContextAvailableInMarkup(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"Echo.tg": "Html:\n{{ request.method }} {{ request.path }} {{ request.query.q }}",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Echo?q=hello", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "GET /Echo hello") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"App.tg": "Html:\n<p>ok</p>",
		"Bad.tg": "Css:\nbody {}",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload struct {
		Status     string `json:"status"`
		Components []struct {
			Name  string `json:"name"`
			State string `json:"state"`
			Error string `json:"error"`
		} `json:"components"`
		Connections int `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if payload.Status != "ok" {
		t.Errorf("status = %q", payload.Status)
	}
	if len(payload.Components) != 2 {
		t.Fatalf("components = %+v", payload.Components)
	}
	states := map[string]string{}
	for _, c := range payload.Components {
		states[c.Name] = c.State
	}
	if states["App"] != "ready" || states["Bad"] != "broken" {
		t.Errorf("states = %v", states)
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	srv, bc := testServer(t, map[string]string{
		"App.tg": "Html:\n<p>x</p>",
	})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// The channel registers asynchronously after the upgrade.
	deadline := time.Now().Add(2 * time.Second)
	for bc.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bc.Count() != 1 {
		t.Fatalf("broadcaster count = %d, want 1", bc.Count())
	}

	bc.Broadcast(reload.FullReload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(msg) != "reload" {
		t.Errorf("payload = %q, want reload", msg)
	}
}

func TestWebSocketDisconnectRemovesChannel(t *testing.T) {
	srv, bc := testServer(t, nil)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bc.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for bc.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bc.Count() != 0 {
		t.Errorf("broadcaster count = %d, want 0 after disconnect", bc.Count())
	}
}
