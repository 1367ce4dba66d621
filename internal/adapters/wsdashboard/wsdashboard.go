// Package wsdashboard serves a read-only live view of the core over a
// websocket, replacing the teacher's internal/discord.Dashboard (a periodic
// Discord embed edit) with a push-based feed: every Event Bus message is
// forwarded, JSON-encoded, to all connected clients as it is published.
package wsdashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nyxveil/corona/internal/eventbus"
)

// wireEvent is the JSON-serialisable projection of an [eventbus.Event].
// Kind is rendered as its name rather than its numeric value so dashboard
// clients don't need to hardcode the enum.
type wireEvent struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Lost      int       `json:"lost,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var kindNames = map[eventbus.Kind]string{
	eventbus.KindSyncState:        "sync_state",
	eventbus.KindResourceDegraded: "resource_degraded",
	eventbus.KindSchedulerEvent:   "scheduler_event",
	eventbus.KindTaskRun:          "task_run",
	eventbus.KindLost:             "lost",
}

func toWireEvent(ev eventbus.Event) wireEvent {
	w := wireEvent{
		Kind:      kindNames[ev.Kind],
		Payload:   ev.Payload,
		Lost:      ev.Lost,
		Timestamp: time.Now(),
	}
	if ev.Degraded != nil {
		w.Degraded = ev.Degraded.Degraded
	}
	return w
}

// Dashboard is an [http.Handler] that upgrades every request to a
// websocket and streams Event Bus traffic to it until the client
// disconnects.
type Dashboard struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New returns a [Dashboard] fed by bus.
func New(bus *eventbus.Bus) *Dashboard {
	return &Dashboard{bus: bus, clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP implements [http.Handler].
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("wsdashboard: accept failed", "error", err)
		return
	}
	d.serve(r.Context(), conn)
}

// serve forwards bus events to conn until ctx is cancelled or the
// connection fails.
func (d *Dashboard) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.CloseNow()

	d.mu.Lock()
	d.clients[conn] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.clients, conn)
		d.mu.Unlock()
	}()

	sub := d.bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "bus closed")
				return
			}
			payload, err := json.Marshal(toWireEvent(ev))
			if err != nil {
				slog.Warn("wsdashboard: marshal event", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// ClientCount reports the number of currently connected dashboard clients.
func (d *Dashboard) ClientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// ListenAndServe starts an HTTP server at addr exposing the dashboard at
// "/". It blocks until ctx is cancelled, then shuts the server down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, dash *Dashboard) error {
	mux := http.NewServeMux()
	mux.Handle("/", dash)

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("wsdashboard: serve: %w", err)
		}
		return nil
	}
}
