package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ProjectCoral/Coral/internal/driver"
)

type stubAdapterBinding struct {
	incoming chan []byte
}

func (s *stubAdapterBinding) Protocol() string { return Protocol }
func (s *stubAdapterBinding) HandleIncoming(ctx context.Context, driverSelfID string, raw []byte) {
	if s.incoming != nil {
		s.incoming <- raw
	}
}
func (s *stubAdapterBinding) CreateBotForDriver(driverSelfID string, send func(ctx context.Context, raw []byte) error) {
}
func (s *stubAdapterBinding) RemoveBotForDriver(driverSelfID string) {}

func TestSendActionWithNoClientFails(t *testing.T) {
	d := New(":0", "bot-1", &stubAdapterBinding{}, nil)
	if err := d.SendAction(context.Background(), []byte(`{"action":"send_msg","params":{}}`)); err == nil {
		t.Fatal("expected error with no connected client")
	}
}

func TestSendActionRejectsNonObjectFrame(t *testing.T) {
	d := New(":0", "bot-1", &stubAdapterBinding{}, nil)
	if err := d.SendAction(context.Background(), []byte(`"not an object"`)); err == nil {
		t.Fatal("expected error for non-object outbound frame")
	}
}

func TestReverseWebSocketRoundTrip(t *testing.T) {
	adapterBinding := &stubAdapterBinding{incoming: make(chan []byte, 1)}
	d := New(":0", "bot-1", adapterBinding, nil)

	server := httptest.NewServer(d.server.Handler)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + DefaultPath
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"post_type":"message"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case raw := <-adapterBinding.incoming:
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unexpected frame: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for inbound frame to reach adapter")
	}
}

var _ driver.Driver = (*Driver)(nil)
