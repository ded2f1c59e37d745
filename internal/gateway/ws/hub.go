package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/tamper"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// VisitFactory builds the visit for an incoming connection.
type VisitFactory func(r *http.Request) (*unlock.Runtime, error)

// Stats counts visits served by a hub.
type Stats struct {
	Active   int
	Total    int
	Lockouts int
}

// Client is one connected page. Each client owns exactly one visit.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	events <-chan events.Event
	visit  *unlock.Runtime
	hub    *Hub
}

// Hub accepts WebSocket connections and runs a visit for each of them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	bus      *events.Bus
	newVisit VisitFactory

	total       int
	lockouts    int
	unsubscribe func()
}

// NewHub creates a hub that opens visits with newVisit.
func NewHub(bus *events.Bus, newVisit VisitFactory) *Hub {
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		bus:      bus,
		newVisit: newVisit,
	}
	h.unsubscribe = bus.Subscribe(func(events.Event) {
		h.mu.Lock()
		h.lockouts++
		h.mu.Unlock()
	}, events.EventTamperLockout)
	return h
}

// Stats returns visit counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Active: len(h.clients), Total: h.total, Lockouts: h.lockouts}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.total++
	slog.Info("ws client connected", "visit_id", c.visit.ID(), "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		slog.Info("ws client disconnected", "visit_id", c.visit.ID(), "clients", len(h.clients))
	}
}

// ServeWS upgrades the connection, opens a visit and serves it until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	visit, err := h.newVisit(r)
	if err != nil {
		slog.Error("open visit", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before Run so visit.started reaches the page.
	evs, unsub := h.bus.SubscribeSessionChan(visit.ID(), 256)
	defer unsub()

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		events: evs,
		visit:  visit,
		hub:    h,
	}
	h.register(client)
	defer h.unregister(client)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		visit.Run(ctx)
	}()
	go client.writePump(ctx, cancel)

	client.readPump(ctx)
	cancel()
	<-runDone
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(ctx, frame)
	}
}

// handleRequest translates a request frame into a visit input.
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	// Requests are handled one at a time, so the snapshot already reflects
	// every earlier input from this page.
	if Method(frame.Method) == MethodSnapshot {
		snap, err := c.visit.Snapshot(ctx)
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error(), nil)
			return
		}
		c.sendOK(ctx, frame.ID, map[string]any{
			"engine": snap,
			"tamper": c.visit.TamperState(),
		})
		return
	}

	in, err := decodeInput(Method(frame.Method), frame.Params)
	if err != nil {
		c.sendError(ctx, frame.ID, err.Error(), nil)
		return
	}

	res, err := c.visit.Send(ctx, in)
	if err != nil {
		c.sendError(ctx, frame.ID, err.Error(), nil)
		return
	}

	switch Method(frame.Method) {
	case MethodStartTask:
		c.sendOK(ctx, frame.ID, map[string]bool{"started": res.Started})
	case MethodKeyDown:
		c.sendOK(ctx, frame.ID, map[string]bool{"intercepted": res.Intercepted})
	case MethodReveal:
		if res.Err != nil {
			code, msg := revealFailure(res.Err)
			c.sendError(ctx, frame.ID, msg, map[string]string{"code": code})
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"url": res.Ref})
	default:
		c.sendOK(ctx, frame.ID, nil)
	}
}

var errInvalidParams = errors.New("invalid params")

func decodeInput(method Method, raw json.RawMessage) (unlock.Input, error) {
	params := func(v any) error {
		if len(raw) == 0 {
			return errInvalidParams
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return errInvalidParams
		}
		return nil
	}

	switch method {
	case MethodStartTask:
		var p StartTaskParams
		if err := params(&p); err != nil {
			return nil, err
		}
		return unlock.StartTask{ID: p.ID}, nil
	case MethodFocus:
		var p FocusParams
		if err := params(&p); err != nil {
			return nil, err
		}
		return unlock.FocusChanged{Focused: p.Focused}, nil
	case MethodContextMenu:
		return unlock.ContextMenu{}, nil
	case MethodKeyDown:
		var p KeyDownParams
		if err := params(&p); err != nil {
			return nil, err
		}
		return unlock.KeyDown{Key: p.Key}, nil
	case MethodResize:
		var p ResizeParams
		if err := params(&p); err != nil {
			return nil, err
		}
		return unlock.Resize{W: p.W, H: p.H}, nil
	case MethodProbe:
		var p ProbeParams
		if err := params(&p); err != nil {
			return nil, err
		}
		return unlock.DebuggerProbe{Elapsed: time.Duration(p.ElapsedMS) * time.Millisecond}, nil
	case MethodBait:
		return unlock.BaitRead{}, nil
	case MethodReveal:
		return unlock.Reveal{}, nil
	}
	return nil, errors.New("unknown method: " + string(method))
}

func revealFailure(err error) (code, msg string) {
	switch {
	case errors.Is(err, unlock.ErrLockedOut):
		return CodeLockedOut, tamper.LockoutMessage
	case errors.Is(err, unlock.ErrNoReference):
		return CodeNotAvailable, unlock.NotAvailableMessage
	default:
		return CodeLocked, err.Error()
	}
}

// writePump writes responses and visit events to the WS connection. When it
// stops, cancel ends the read side too so no reply waits on a dead writer.
func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case e, ok := <-c.events:
			if !ok {
				return
			}
			frame, err := NewEventFrame(string(e.Type), e.SessionID, e.Payload)
			if err != nil {
				slog.Error("marshal event frame", "error", err)
				continue
			}
			data, err := MarshalFrame(frame)
			if err != nil {
				slog.Error("marshal frame", "error", err)
				continue
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	c.reply(ctx, id, true, payload, "")
}

func (c *Client) sendError(ctx context.Context, id string, errMsg string, payload any) {
	c.reply(ctx, id, false, payload, errMsg)
}

// reply queues a response for the write pump. Every request gets one, so it
// waits for room rather than dropping; it gives up only when the connection
// is going away.
func (c *Client) reply(ctx context.Context, id string, ok bool, payload any, errMsg string) bool {
	f, err := NewResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		slog.Error("marshal response", "id", id, "error", err)
		f, _ = NewResponseFrame(id, false, nil, "internal error")
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
