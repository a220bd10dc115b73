package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collaboration-client/internal/notify"
	"collaboration-client/internal/rest"
)

// testServer fakes the collaboration backend: it upgrades per-document
// WebSocket sessions, captures every frame the client sends, and serves
// canned REST responses while recording the calls.
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	wsConns    map[string]*websocket.Conn
	upgrades   int
	frames     []map[string]interface{}
	restPaths  []string
	restBodies []map[string]interface{}

	docVersion  int
	docContent  string
	failResolve bool
	failOps     bool
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{
		t:          t,
		wsConns:    make(map[string]*websocket.Conn),
		docVersion: 7,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.route))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) route(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/collaboration/documents/") && strings.HasSuffix(r.URL.Path, "/ws") {
		ts.handleWS(w, r)
		return
	}
	ts.handleREST(w, r)
}

func (ts *testServer) handleWS(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/collaboration/documents/"), "/ws")

	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.wsConns[documentID] = conn
	ts.upgrades++
	ts.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		ts.mu.Lock()
		ts.frames = append(ts.frames, frame)
		ts.mu.Unlock()
	}
}

func (ts *testServer) handleREST(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	ts.mu.Lock()
	ts.restPaths = append(ts.restPaths, r.Method+" "+r.URL.Path)
	ts.restBodies = append(ts.restBodies, body)
	failResolve := ts.failResolve
	failOps := ts.failOps
	version := ts.docVersion
	content := ts.docContent
	ts.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/operations"):
		if failOps {
			http.Error(w, "version conflict", http.StatusConflict)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"applied": true, "version": version + 1},
		})
	case strings.HasSuffix(path, "/presence"):
		json.NewEncoder(w).Encode(map[string]interface{}{
			"presence":      body,
			"collaborators": []map[string]string{{"user_id": "u1"}},
		})
	case strings.HasSuffix(path, "/collaborators"):
		json.NewEncoder(w).Encode(map[string]interface{}{
			"collaborators": []map[string]string{{"user_id": "u1"}},
		})
	case strings.HasSuffix(path, "/snapshots"):
		json.NewEncoder(w).Encode(map[string]interface{}{
			"snapshot": map[string]string{"id": "snap-1"},
		})
	case strings.HasSuffix(path, "/conflicts/resolve"):
		if failResolve {
			http.Error(w, "cannot resolve", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resolution": map[string]string{"status": "merged"},
		})
	case path == "/collaboration/sessions/active":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"active_sessions": []map[string]string{{"document_id": "doc-1"}},
		})
	case path == "/collaboration/history":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"history": []map[string]string{{"event": "edit"}},
		})
	case strings.HasPrefix(path, "/collaboration/documents/"):
		id := strings.TrimPrefix(path, "/collaboration/documents/")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"id": id, "content": content, "version": version},
		})
	default:
		http.NotFound(w, r)
	}
}

// wsBase returns the ws:// origin for the fake server.
func (ts *testServer) wsBase() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

// push delivers a server-initiated frame on the document's socket.
func (ts *testServer) push(documentID, frame string) {
	ts.t.Helper()
	ts.mu.Lock()
	conn := ts.wsConns[documentID]
	ts.mu.Unlock()
	if conn == nil {
		ts.t.Fatalf("no server-side socket for document %s", documentID)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		ts.t.Fatalf("push failed: %v", err)
	}
}

// dropWS closes the server side of a document's socket, simulating a
// network failure.
func (ts *testServer) dropWS(documentID string) {
	ts.mu.Lock()
	conn := ts.wsConns[documentID]
	delete(ts.wsConns, documentID)
	ts.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (ts *testServer) upgradeCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.upgrades
}

func (ts *testServer) sentFrames() []map[string]interface{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]map[string]interface{}, len(ts.frames))
	copy(out, ts.frames)
	return out
}

func (ts *testServer) restCalls() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.restPaths))
	copy(out, ts.restPaths)
	return out
}

// restBodyFor returns the body of the most recent call whose path ends in
// suffix, or nil when no such call happened.
func (ts *testServer) restBodyFor(suffix string) map[string]interface{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i := len(ts.restPaths) - 1; i >= 0; i-- {
		if strings.HasSuffix(ts.restPaths[i], suffix) {
			return ts.restBodies[i]
		}
	}
	return nil
}

// newTestRegistry builds a registry against the fake server with a
// recording notifier. mutate tweaks the config before construction.
func newTestRegistry(t *testing.T, ts *testServer, mutate func(*Config)) (*Registry, *notify.Recorder) {
	t.Helper()

	cfg := DefaultConfig(ts.wsBase())
	cfg.CursorTTL = 0 // sweeps are driven explicitly in tests
	if mutate != nil {
		mutate(&cfg)
	}

	recorder := &notify.Recorder{}
	api := rest.NewClient(ts.srv.URL, "test-token", ts.srv.Client(), zap.NewNop())
	r := NewRegistry(cfg, api, nil, recorder, zap.NewNop())
	r.Start()
	t.Cleanup(r.Shutdown)
	return r, recorder
}
