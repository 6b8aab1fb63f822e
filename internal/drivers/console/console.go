// Package console implements the console Driver: it reads lines from
// stdin and emits each non-empty line as a CommandEvent with
// user_id = "Console", per spec.md §6. Grounded on the teacher's
// goroutine+context-cancellation channel loop idiom (the same shape as
// telegram.Channel.Start/Stop in the example pack) rather than the
// original's prompt-toolkit-based async reader.
package console

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ProjectCoral/Coral/internal/driver"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// Protocol is this driver's PROTOCOL tag; the bound Adapter must declare
// the same tag (internal/adapters/genericjson by default). The driver uses
// it only to create and remove its bot; CommandEvents go straight to the bus.
const Protocol = "console"

// Publisher is the subset of *bus.EventBus the console driver needs to
// publish synthesized CommandEvents directly (bypassing the adapter
// translation layer entirely, since stdin input has no wire encoding to
// translate).
type Publisher interface {
	Publish(ctx context.Context, event protocol.Event)
}

// Driver reads stdin line by line until ctx is cancelled or stdin closes.
type Driver struct {
	driver.BaseDriver
	bus    Publisher
	in     *bufio.Scanner
	cancel context.CancelFunc
	log    *slog.Logger
}

// New constructs a console Driver bound to adapter (matched by Protocol)
// and publishing directly to bus.
func New(adapter driver.AdapterBinding, bus Publisher, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		BaseDriver: driver.NewBase(Protocol, "Console", adapter, logger),
		bus:        bus,
		in:         bufio.NewScanner(os.Stdin),
		log:        logger,
	}
}

// Start begins the stdin-reading loop in a tracked background goroutine.
func (d *Driver) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.Track(func() { d.readLoop(ctx) })
	d.OnConnect(d.SendAction)
	return nil
}

// Stop cancels the read loop and waits for it to exit.
func (d *Driver) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	d.OnDisconnect()
	d.Wait()
	return nil
}

func (d *Driver) readLoop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for d.in.Scan() {
			select {
			case lines <- d.in.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			d.handleLine(ctx, line)
		}
	}
}

func (d *Driver) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	parts := strings.Fields(line)
	command := parts[0]
	args := parts[1:]

	d.bus.Publish(ctx, &protocol.CommandEvent{
		EventBase:  protocol.EventBase{Platform: Protocol, SelfID: "Console"},
		Command:    command,
		Args:       args,
		RawMessage: protocol.TextChain(line),
		User:       protocol.UserInfo{Platform: Protocol, UserID: protocol.ConsoleUserID, Nickname: "Console"},
	})
}

// SendAction prints an outbound action to stdout — the console driver's
// transport is a terminal, so "sending" means printing.
func (d *Driver) SendAction(ctx context.Context, raw []byte) error {
	_, err := os.Stdout.Write(append(raw, '\n'))
	return err
}
