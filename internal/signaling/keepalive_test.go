package signaling

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hallway/hallway/internal/presence"
)

func TestWebSocket_IdleTimeoutClosesWithoutPong(t *testing.T) {
	cfg := testConfig()
	cfg.SignalingWSIdleTimeout = 500 * time.Millisecond
	cfg.SignalingWSPingInterval = 50 * time.Millisecond
	ts, _, _ := startServer(t, cfg)

	c := dial(t, ts, "")
	c.expect(presence.EventTypeWelcome)

	pingSeen := make(chan struct{}, 1)
	c.conn.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Intentionally do not respond with pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := c.conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected server to close the websocket")
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}
}

func TestWebSocket_PongKeepsConnectionOpenBeyondIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SignalingWSIdleTimeout = 500 * time.Millisecond
	cfg.SignalingWSPingInterval = 50 * time.Millisecond
	ts, _, _ := startServer(t, cfg)

	c := dial(t, ts, "")
	c.expect(presence.EventTypeWelcome)

	c.conn.SetPingHandler(func(appData string) error {
		// Respond with pong so the server extends the read deadline.
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(1*time.Second))
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, _, err := c.conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	// Wait longer than the idle timeout; ping frames are processed by the read
	// goroutine, which answers with pongs.
	time.Sleep(cfg.SignalingWSIdleTimeout + 4*cfg.SignalingWSPingInterval)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected close before idle timeout elapsed: %v", err)
	default:
	}
}
