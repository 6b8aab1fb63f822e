// Package ws implements the reverse-WebSocket Driver: an HTTP server
// accepting exactly one client on /ws/api, per spec.md §6. Every text frame
// received is handed as raw bytes to the bound adapter, which parses the
// JSON; every
// outbound action is serialized as {action, params, echo} with echo
// assigned when absent. Built on github.com/coder/websocket, the teacher's
// newer of its two WebSocket dependencies.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ProjectCoral/Coral/internal/driver"
)

// Protocol is this driver's PROTOCOL tag.
const Protocol = "onebot"

// DefaultPath is the single accepted WebSocket route.
const DefaultPath = "/ws/api"

// Driver serves one client on DefaultPath and forwards its frames to the
// bound adapter, echo-tagging outbound actions.
type Driver struct {
	driver.BaseDriver
	addr   string
	path   string
	server *http.Server
	log    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	echoSeq uint64
}

// New constructs a reverse-WebSocket driver listening on addr (e.g.
// ":8080"), bound to adapter (matched by Protocol). selfID is the bot
// identity reported to the adapter on connect (config's `self_id`).
func New(addr, selfID string, adapter driver.AdapterBinding, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		BaseDriver: driver.NewBase(Protocol, selfID, adapter, logger),
		addr:       addr,
		path:       DefaultPath,
		log:        logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(d.path, d.handleWS)
	d.server = &http.Server{Addr: addr, Handler: mux}
	return d
}

// Start begins listening; the HTTP server runs in a tracked background
// goroutine, matching the original's task-tracked connection handler.
func (d *Driver) Start(ctx context.Context) error {
	d.Track(func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("reverse-websocket server exited", "err", err)
		}
	})
	return nil
}

// Stop shuts the HTTP server down gracefully and disconnects any client.
func (d *Driver) Stop(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	d.mu.Lock()
	if d.conn != nil {
		_ = d.conn.Close(websocket.StatusNormalClosure, "shutting down")
		d.conn = nil
	}
	d.mu.Unlock()
	d.Wait()
	return err
}

func (d *Driver) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		d.log.Error("websocket accept failed", "err", err)
		return
	}

	d.mu.Lock()
	if d.conn != nil {
		d.log.Warn("rejecting additional client; reverse-websocket driver accepts exactly one")
		d.mu.Unlock()
		_ = conn.Close(websocket.StatusPolicyViolation, "only one client supported")
		return
	}
	d.conn = conn
	d.mu.Unlock()

	d.OnConnect(d.SendAction)
	defer func() {
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		d.OnDisconnect()
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		d.HandleReceive(ctx, data)
	}
}

// SendAction serializes raw as the body of {action, params, echo} — raw is
// expected to already be a JSON object with "action"/"params" set by the
// adapter; SendAction injects echo if the object omits it.
func (d *Driver) SendAction(ctx context.Context, raw []byte) error {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("reverse-websocket: outbound frame is not a JSON object: %w", err)
	}
	if _, ok := frame["echo"]; !ok {
		frame["echo"] = fmt.Sprintf("%s-%d", uuid.NewString(), atomic.AddUint64(&d.echoSeq, 1))
	}
	encoded, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("reverse-websocket: no client connected")
	}
	return conn.Write(ctx, websocket.MessageText, encoded)
}
