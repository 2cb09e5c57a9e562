package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/danmuck/simp/internal/testutil/testlog"
)

func fixedSessions() SessionsFunc {
	return func() []session.Snapshot {
		return []session.Snapshot{{
			ID:           "a",
			Peer:         "127.0.0.1:40000",
			PeerUser:     "alice",
			Phase:        "idle",
			ExpectedSend: protocol.Seq1,
		}}
	}
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	testlog.Start(t)
	s := New(Options{Node: "server", Version: "1.2.3"}, nil)
	rec := get(t, s.Handler(), "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "server" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestSessionsListsSnapshots(t *testing.T) {
	testlog.Start(t)
	s := New(Options{Node: "server"}, fixedSessions())
	rec := get(t, s.Handler(), "/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Count    int                `json:"count"`
		Sessions []session.Snapshot `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Sessions) != 1 {
		t.Fatalf("unexpected sessions body: %s", rec.Body.String())
	}
	got := body.Sessions[0]
	if got.PeerUser != "alice" || got.ExpectedSend != protocol.Seq1 || got.Phase != "idle" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	empty := New(Options{Node: "client"}, nil)
	rec = get(t, empty.Handler(), "/sessions", nil)
	if !strings.Contains(rec.Body.String(), `"sessions":[]`) {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New(Options{Node: "server"}, nil)
	get(t, s.Handler(), "/health", nil)
	rec := get(t, s.Handler(), "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "simp_") {
		t.Fatalf("metrics output missing simp series")
	}
}

func TestCORSOnlyWhenConfigured(t *testing.T) {
	testlog.Start(t)
	origin := map[string]string{"Origin": "http://localhost:3000"}

	open := New(Options{Node: "server", CORSOrigins: []string{"http://localhost:3000"}}, nil)
	rec := get(t, open.Handler(), "/health", origin)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin=%q", got)
	}

	closed := New(Options{Node: "server"}, nil)
	rec = get(t, closed.Handler(), "/health", origin)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestTokenGuardsEverythingButHealth(t *testing.T) {
	testlog.Start(t)
	s := New(Options{Node: "server", Token: "s3cret"}, fixedSessions())
	h := s.Handler()

	if rec := get(t, h, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
	for _, path := range []string{"/sessions", "/metrics"} {
		if rec := get(t, h, path, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token status=%d", path, rec.Code)
		}
		bad := map[string]string{"Authorization": "Bearer nope"}
		if rec := get(t, h, path, bad); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s with bad token status=%d", path, rec.Code)
		}
		good := map[string]string{"Authorization": "Bearer s3cret"}
		if rec := get(t, h, path, good); rec.Code != http.StatusOK {
			t.Fatalf("%s with token status=%d", path, rec.Code)
		}
	}
}

func TestServeStopsWithContext(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Options{Node: "server", Addr: ln.Addr().String()}, fixedSessions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/sessions", ln.Addr()))
	if err != nil {
		cancel()
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "alice") {
		cancel()
		t.Fatalf("unexpected body %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
