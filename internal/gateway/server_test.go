package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/config"
	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/gateway/ws"
	"github.com/dohr-michael/taskgate/internal/metrics"
	"github.com/dohr-michael/taskgate/internal/storage"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		catalog.Definition{ID: "a", Title: "A", DurationSeconds: 1, Kind: catalog.KindFocus},
		catalog.Definition{ID: "b", Title: "B", DurationSeconds: 1, Kind: catalog.KindFocus},
		catalog.Definition{ID: "c", Title: "C", DurationSeconds: 1, Kind: catalog.KindFocus},
	)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func newTestServer(t *testing.T, mutate ...func(*Options)) *Server {
	t.Helper()
	bus := events.NewBus(256)
	t.Cleanup(func() { bus.Close() })

	cfg := config.Default()
	cfg.Gateway.Port = 0
	cfg.Session.TickInterval = config.Duration(10 * time.Millisecond)

	opts := Options{
		Bus:     bus,
		Config:  func() *config.Config { return cfg },
		Catalog: testCatalog(t),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	srv := NewServer(opts)
	t.Cleanup(srv.hub.Close)
	return srv
}

func serve(srv *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestHandleIndex(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, http.MethodGet, "/?download_url=aGk=", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "/api/visit") {
		t.Error("page should connect to the visit socket")
	}
}

func TestHandleIndex_OpensLinkInsideClick(t *testing.T) {
	srv := newTestServer(t)
	page := serve(srv, http.MethodGet, "/", nil).Body.String()

	// The link must open within the click handler itself; a window.open
	// that waits for the socket round trip is dropped by popup blockers.
	start := strings.Index(page, `addEventListener("click", () => {`)
	if start < 0 {
		t.Fatal("task button click handler not found")
	}
	handler := page[start:]
	handler = handler[:strings.Index(handler, "});")]

	open := strings.Index(handler, "window.open(t.external_link")
	send := strings.Index(handler, `send("start_task"`)
	if open < 0 || send < 0 || open > send {
		t.Fatalf("click handler must open the link before starting the task:\n%s", handler)
	}
}

func TestHandleEvents_Empty(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty array, got %d items", len(body))
	}
}

func TestHandleEvents_LimitParam(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 10; i++ {
		srv.bus.Publish(events.NewTypedEventWithSession(events.SourceEngine, events.TaskTickPayload{TaskID: "a", RemainingSeconds: i}, "visit_1"))
	}
	waitForEvents(srv.bus, 10)

	w := serve(srv, http.MethodGet, "/api/events?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}
	if body[0]["session_id"] != "visit_1" {
		t.Errorf("expected session_id visit_1, got %v", body[0]["session_id"])
	}
}

func TestHandleEvents_InvalidLimit(t *testing.T) {
	srv := newTestServer(t)
	if w := serve(srv, http.MethodGet, "/api/events?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleCatalog_ETag(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag")
	}
	var body struct {
		Digest string               `json:"digest"`
		Tasks  []catalog.Definition `json:"tasks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Tasks) != 3 || `"`+body.Digest+`"` != etag {
		t.Fatalf("unexpected body %+v (etag %s)", body, etag)
	}

	w = serve(srv, http.MethodGet, "/api/catalog", http.Header{"If-None-Match": {etag}})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	srv.SetCatalog(catalog.Default())
	w = serve(srv, http.MethodGet, "/api/catalog", http.Header{"If-None-Match": {etag}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after catalog swap, got %d", w.Code)
	}
}

func TestHandleVisitEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t)
		if w := serve(srv, http.MethodGet, "/api/visits/visit_1/events", nil); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
	})

	t.Run("logged", func(t *testing.T) {
		dir := t.TempDir()
		var el *storage.EventLogger
		srv := newTestServer(t, func(o *Options) {
			el = storage.NewEventLogger(dir, o.Bus)
			o.EventLog = el
		})
		defer el.Close()

		srv.bus.Publish(events.NewTypedEventWithSession(events.SourceMonitor, events.ViolationPayload{Kind: "shortcut", Count: 1}, "visit_1"))

		var w *httptest.ResponseRecorder
		deadline := time.Now().Add(2 * time.Second)
		for {
			w = serve(srv, http.MethodGet, "/api/visits/visit_1/events", nil)
			if w.Code == http.StatusOK || time.Now().After(deadline) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var body []map[string]any
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body) != 1 || body[0]["type"] != string(events.EventTamperViolation) {
			t.Fatalf("unexpected events %v", body)
		}

		if w := serve(srv, http.MethodGet, "/api/visits/visit_none/events", nil); w.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown visit, got %d", w.Code)
		}
		if w := serve(srv, http.MethodGet, "/api/visits/a..b/events", nil); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for traversal id, got %d", w.Code)
		}
	})
}

func TestMetricsRoute(t *testing.T) {
	reg, m := metrics.NewRegistry()
	srv := newTestServer(t, func(o *Options) { o.Registry = reg })
	m.VisitsStarted.Inc()

	w := serve(srv, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "taskgate_visits_started_total") {
		t.Error("metrics output missing taskgate counters")
	}

	plain := newTestServer(t)
	if w := serve(plain, http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a registry, got %d", w.Code)
	}
}

// visitConn drives one page over the visit socket.
type visitConn struct {
	t      *testing.T
	ctx    context.Context
	conn   *websocket.Conn
	seq    int
	events []ws.Frame
}

func dialVisit(t *testing.T, srv *Server, query string) *visitConn {
	t.Helper()
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/visit?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &visitConn{t: t, ctx: ctx, conn: conn}
}

func (v *visitConn) next() ws.Frame {
	v.t.Helper()
	var f ws.Frame
	if err := wsjson.Read(v.ctx, v.conn, &f); err != nil {
		v.t.Fatalf("read frame: %v", err)
	}
	return f
}

func (v *visitConn) call(method ws.Method, params any) ws.Frame {
	v.t.Helper()
	v.seq++
	req, err := ws.NewRequestFrame(fmt.Sprintf("r%d", v.seq), method, params)
	if err != nil {
		v.t.Fatal(err)
	}
	if err := wsjson.Write(v.ctx, v.conn, req); err != nil {
		v.t.Fatalf("write frame: %v", err)
	}
	for {
		f := v.next()
		if f.Type == ws.FrameTypeResponse && f.ID == req.ID {
			return f
		}
		if f.Type == ws.FrameTypeEvent {
			v.events = append(v.events, f)
		}
	}
}

func (v *visitConn) waitEvent(match func(ws.Frame) bool) ws.Frame {
	v.t.Helper()
	for i, f := range v.events {
		if match(f) {
			v.events = append(v.events[:i:i], v.events[i+1:]...)
			return f
		}
	}
	for {
		f := v.next()
		if f.Type != ws.FrameTypeEvent {
			continue
		}
		if match(f) {
			return f
		}
		v.events = append(v.events, f)
	}
}

func eventNamed(name events.EventType) func(ws.Frame) bool {
	return func(f ws.Frame) bool { return f.Event == string(name) }
}

func TestVisit_CompleteAndReveal(t *testing.T) {
	srv := newTestServer(t)
	v := dialVisit(t, srv, "download_url="+unlock.EncodeResource("https://example.com/file.zip")+"&w=800&h=600")

	started := v.waitEvent(eventNamed(events.EventVisitStarted))
	var sp events.VisitStartedPayload
	if err := json.Unmarshal(started.Payload, &sp); err != nil {
		t.Fatal(err)
	}
	if len(sp.Tasks) != 3 || !sp.ResourceAvailable {
		t.Fatalf("unexpected visit.started payload %+v", sp)
	}

	res := v.call(ws.MethodReveal, nil)
	if *res.OK {
		t.Fatal("reveal must fail before the tasks are done")
	}

	for _, task := range sp.Tasks {
		res := v.call(ws.MethodStartTask, ws.StartTaskParams{ID: task.ID})
		var p map[string]bool
		json.Unmarshal(res.Payload, &p)
		if !*res.OK || !p["started"] {
			t.Fatalf("start %s refused: %s", task.ID, res.Payload)
		}
		id := task.ID
		v.waitEvent(func(f ws.Frame) bool {
			if f.Event != string(events.EventTaskState) {
				return false
			}
			var sp events.TaskStatePayload
			json.Unmarshal(f.Payload, &sp)
			return sp.TaskID == id && sp.State == "completed"
		})
	}
	v.waitEvent(eventNamed(events.EventGateUnlocked))

	res = v.call(ws.MethodReveal, nil)
	if !*res.OK {
		t.Fatalf("reveal failed: %s", res.Error)
	}
	var rp map[string]string
	json.Unmarshal(res.Payload, &rp)
	if rp["url"] != "https://example.com/file.zip" {
		t.Fatalf("unexpected url %q", rp["url"])
	}

	if st := srv.Stats(); st.ActiveVisits != 1 || st.TotalVisits != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

// completeTasks starts each task of the visit in order and waits for it to finish.
func completeTasks(v *visitConn, sp events.VisitStartedPayload) {
	v.t.Helper()
	for _, task := range sp.Tasks {
		if res := v.call(ws.MethodStartTask, ws.StartTaskParams{ID: task.ID}); !*res.OK {
			v.t.Fatalf("start %s refused: %s", task.ID, res.Error)
		}
		id := task.ID
		v.waitEvent(func(f ws.Frame) bool {
			var p events.TaskStatePayload
			json.Unmarshal(f.Payload, &p)
			return f.Event == string(events.EventTaskState) && p.TaskID == id && p.State == "completed"
		})
	}
	v.waitEvent(eventNamed(events.EventGateUnlocked))
}

func TestVisit_RevealedReferenceStaysOffPublicRoutes(t *testing.T) {
	const ref = "https://example.com/secret.zip"
	encoded := unlock.EncodeResource(ref)

	dir := t.TempDir()
	var el *storage.EventLogger
	srv := newTestServer(t, func(o *Options) {
		el = storage.NewEventLogger(dir, o.Bus)
		o.EventLog = el
	})
	defer el.Close()

	v := dialVisit(t, srv, "download_url="+encoded)
	started := v.waitEvent(eventNamed(events.EventVisitStarted))
	var sp events.VisitStartedPayload
	if err := json.Unmarshal(started.Payload, &sp); err != nil {
		t.Fatal(err)
	}
	completeTasks(v, sp)

	res := v.call(ws.MethodReveal, nil)
	var rp map[string]string
	json.Unmarshal(res.Payload, &rp)
	if !*res.OK || rp["url"] != ref {
		t.Fatalf("reveal failed: ok=%v payload=%s", *res.OK, res.Payload)
	}
	v.waitEvent(eventNamed(events.EventGateRevealed))

	// The event log is written asynchronously; wait until it has the reveal.
	visitLog := "/api/visits/" + started.SessionID + "/events"
	var logged *httptest.ResponseRecorder
	deadline := time.Now().Add(2 * time.Second)
	for {
		logged = serve(srv, http.MethodGet, visitLog, nil)
		if strings.Contains(logged.Body.String(), string(events.EventGateRevealed)) || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(logged.Body.String(), string(events.EventGateRevealed)) {
		t.Fatalf("visit log never recorded the reveal: %d %s", logged.Code, logged.Body.String())
	}

	history := serve(srv, http.MethodGet, "/api/events?limit=1000", nil)
	if !strings.Contains(history.Body.String(), string(events.EventGateRevealed)) {
		t.Fatalf("history is missing the reveal: %s", history.Body.String())
	}

	for name, body := range map[string]string{"history": history.Body.String(), "visit log": logged.Body.String()} {
		if strings.Contains(body, ref) || strings.Contains(body, encoded) {
			t.Errorf("%s exposes the resource reference: %s", name, body)
		}
	}
}

func TestVisit_ContextMenuLocksOut(t *testing.T) {
	srv := newTestServer(t)
	v := dialVisit(t, srv, "w=800&h=600")

	v.waitEvent(eventNamed(events.EventVisitStarted))
	if res := v.call(ws.MethodContextMenu, nil); !*res.OK {
		t.Fatalf("contextmenu failed: %s", res.Error)
	}
	lo := v.waitEvent(eventNamed(events.EventTamperLockout))
	var lp events.LockoutPayload
	json.Unmarshal(lo.Payload, &lp)
	if lp.Kind != "context_menu" || lp.Title == "" {
		t.Fatalf("unexpected lockout payload %+v", lp)
	}

	res := v.call(ws.MethodReveal, nil)
	var p map[string]string
	json.Unmarshal(res.Payload, &p)
	if *res.OK || p["code"] != ws.CodeLockedOut {
		t.Fatalf("expected locked_out, got ok=%v payload=%s", *res.OK, res.Payload)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Stats().Lockouts != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("lockout not counted: %+v", srv.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestVisit_KeyDownAndBadParams(t *testing.T) {
	srv := newTestServer(t)
	v := dialVisit(t, srv, "")
	v.waitEvent(eventNamed(events.EventVisitStarted))

	res := v.call(ws.MethodKeyDown, ws.KeyDownParams{Key: "a"})
	var p map[string]bool
	json.Unmarshal(res.Payload, &p)
	if !*res.OK || p["intercepted"] {
		t.Fatalf("plain key should pass through: %s", res.Payload)
	}

	if res := v.call(ws.MethodStartTask, nil); *res.OK {
		t.Fatal("start_task without params should fail")
	}
	if res := v.call("nope", nil); *res.OK || !strings.Contains(res.Error, "unknown method") {
		t.Fatalf("unexpected response %+v", res)
	}

	res = v.call(ws.MethodKeyDown, ws.KeyDownParams{Key: "F12"})
	json.Unmarshal(res.Payload, &p)
	if !p["intercepted"] {
		t.Fatal("F12 must be intercepted")
	}
	v.waitEvent(eventNamed(events.EventTamperLockout))
}

func TestVisit_SnapshotAndNoReference(t *testing.T) {
	srv := newTestServer(t)
	v := dialVisit(t, srv, "download_url=!!!")
	v.waitEvent(eventNamed(events.EventResourceDecodeFailed))

	res := v.call(ws.MethodSnapshot, nil)
	var snap struct {
		Engine unlock.Snapshot `json:"engine"`
	}
	if err := json.Unmarshal(res.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Engine.ResourceAvailable || snap.Engine.Total != 3 {
		t.Fatalf("unexpected snapshot %+v", snap.Engine)
	}
}
