// Package genericws implements a generic multi-client WebSocket Driver,
// distinct from internal/drivers/ws's single-client reverse-WebSocket
// binding to OneBot: any number of clients may connect, each is assigned
// its own bot identity, and raw frames are passed to the bound adapter
// untranslated. Grounded on the teacher's Channel Start/Stop goroutine
// lifecycle (e.g. the Telegram channel in the example pack) adapted to a
// server rather than a client connection, using gorilla/websocket — the
// pack's older WebSocket dependency, reserved for this non-OneBot path so
// both example WS libraries are exercised.
package genericws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ProjectCoral/Coral/internal/driver"
)

// Protocol is this driver's PROTOCOL tag.
const Protocol = "generic_ws"

// DefaultPath is the route accepting client connections.
const DefaultPath = "/ws/generic"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	selfID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *client) send(ctx context.Context, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Driver accepts any number of WebSocket clients on DefaultPath, assigning
// each a generated self_id and forwarding its frames to adapter.
type Driver struct {
	addr    string
	path    string
	adapter driver.AdapterBinding
	server  *http.Server
	log     *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// New constructs a generic multi-client WebSocket driver listening on addr.
func New(addr string, adapter driver.AdapterBinding, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		addr:    addr,
		path:    DefaultPath,
		adapter: adapter,
		log:     logger,
		clients: make(map[string]*client),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(d.path, d.handleWS)
	d.server = &http.Server{Addr: addr, Handler: mux}
	return d
}

func (d *Driver) Protocol() string { return Protocol }

// SelfID has no single meaning for a multi-client driver; it reports the
// driver's own PROTOCOL tag, matching the original's use of the driver
// class name as a diagnostic label when no single bot identity applies.
func (d *Driver) SelfID() string { return Protocol }

func (d *Driver) Start(ctx context.Context) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("generic-websocket server exited", "err", err)
		}
	}()
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	d.mu.Lock()
	for id, c := range d.clients {
		_ = c.conn.Close()
		delete(d.clients, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
	return err
}

func (d *Driver) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Error("generic-websocket upgrade failed", "err", err)
		return
	}

	selfID := uuid.NewString()
	c := &client{selfID: selfID, conn: conn}
	d.mu.Lock()
	d.clients[selfID] = c
	d.mu.Unlock()

	d.adapter.CreateBotForDriver(selfID, c.send)
	d.log.Info("generic-websocket client connected", "self_id", selfID)

	defer func() {
		d.mu.Lock()
		delete(d.clients, selfID)
		d.mu.Unlock()
		d.adapter.RemoveBotForDriver(selfID)
		_ = conn.Close()
		d.log.Info("generic-websocket client disconnected", "self_id", selfID)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		d.adapter.HandleIncoming(ctx, selfID, data)
	}
}

// SendAction is unused directly by genericws (each client has its own
// send closure registered via CreateBotForDriver); it satisfies
// driver.Driver for uniform registration with driver.Manager.
func (d *Driver) SendAction(ctx context.Context, raw []byte) error {
	return fmt.Errorf("generic-websocket: SendAction must target a specific client self_id, not the driver")
}
