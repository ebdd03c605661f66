package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	c := &wsConn{}

	frame := func(event string, payload string) wsFrame {
		return wsFrame{Type: "event", Event: event, Data: json.RawMessage(payload)}
	}

	t.Run("qrCodeAvailable", func(t *testing.T) {
		evt := c.decodeEvent(frame("qrCodeAvailable", `{"qr":"payload-123"}`))
		require.IsType(t, QRCodeAvailable{}, evt)
		assert.Equal(t, "payload-123", evt.(QRCodeAvailable).Payload)
	})

	t.Run("connection open captures self jid", func(t *testing.T) {
		evt := c.decodeEvent(frame("connectionStateChanged",
			`{"state":"open","selfJid":"5511987654321@s.whatsapp.net"}`))
		require.IsType(t, Connected{}, evt)
		assert.Equal(t, "5511987654321@s.whatsapp.net", c.SelfJID())
	})

	t.Run("connection close carries the parsed cause", func(t *testing.T) {
		evt := c.decodeEvent(frame("connectionStateChanged",
			`{"state":"close","closeCause":"logged_out"}`))
		require.IsType(t, Disconnected{}, evt)
		assert.Equal(t, CauseLoggedOut, evt.(Disconnected).Cause)
	})

	t.Run("connecting state with embedded qr", func(t *testing.T) {
		evt := c.decodeEvent(frame("connectionStateChanged",
			`{"state":"connecting","qr":"embedded-qr"}`))
		require.IsType(t, QRCodeAvailable{}, evt)
		assert.Equal(t, "embedded-qr", evt.(QRCodeAvailable).Payload)
	})

	t.Run("credentialsChanged", func(t *testing.T) {
		evt := c.decodeEvent(frame("credentialsChanged",
			`{"registered":true,"credentials":"eyJrIjoidiJ9"}`))
		require.IsType(t, CredentialsChanged{}, evt)
		assert.True(t, evt.(CredentialsChanged).Credentials.Registered)
	})

	t.Run("messageUpsert", func(t *testing.T) {
		evt := c.decodeEvent(frame("messageUpsert",
			`{"id":"m1","chatJid":"a@s","body":"hi"}`))
		require.IsType(t, MessageUpsert{}, evt)
		assert.Equal(t, "m1", evt.(MessageUpsert).Message.ID)
	})

	t.Run("malformed payload dropped", func(t *testing.T) {
		assert.Nil(t, c.decodeEvent(frame("qrCodeAvailable", `{bad json`)))
	})

	t.Run("unknown event dropped", func(t *testing.T) {
		assert.Nil(t, c.decodeEvent(frame("somethingNew", `{}`)))
	})
}

// wsTestServer runs a scripted network endpoint for one connection.
func wsTestServer(t *testing.T, script func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		script(ws)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSConn(t *testing.T) {
	t.Run("dial sends init and streams events", func(t *testing.T) {
		url := wsTestServer(t, func(ws *websocket.Conn) {
			var init wsFrame
			require.NoError(t, ws.ReadJSON(&init))
			assert.Equal(t, "init", init.Type)

			require.NoError(t, ws.WriteJSON(wsFrame{
				Type:  "event",
				Event: "qrCodeAvailable",
				Data:  json.RawMessage(`{"qr":"payload"}`),
			}))

			// Hold the connection open until the client hangs up.
			ws.ReadJSON(&wsFrame{})
		})

		dialer := NewWSDialer(url)
		conn, err := dialer.Dial(context.Background(), Credentials{Registered: true})
		require.NoError(t, err)
		defer conn.Close()

		select {
		case evt := <-conn.Events():
			require.IsType(t, QRCodeAvailable{}, evt)
			assert.Equal(t, "payload", evt.(QRCodeAvailable).Payload)
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
		}
	})

	t.Run("request round trip", func(t *testing.T) {
		url := wsTestServer(t, func(ws *websocket.Conn) {
			var init wsFrame
			require.NoError(t, ws.ReadJSON(&init))

			var req wsFrame
			require.NoError(t, ws.ReadJSON(&req))
			assert.Equal(t, "request", req.Type)
			assert.Equal(t, "checkIdentityExists", req.Method)

			require.NoError(t, ws.WriteJSON(wsFrame{
				Type: "response",
				ID:   req.ID,
				Data: json.RawMessage(`{"exists":true,"jid":"123@s.whatsapp.net"}`),
			}))

			ws.ReadJSON(&wsFrame{})
		})

		dialer := NewWSDialer(url)
		conn, err := dialer.Dial(context.Background(), Credentials{})
		require.NoError(t, err)
		defer conn.Close()

		res, err := conn.CheckIdentity(context.Background(), "123")
		require.NoError(t, err)
		assert.True(t, res.Exists)
		assert.Equal(t, "123@s.whatsapp.net", res.JID)
	})

	t.Run("error response surfaces as error", func(t *testing.T) {
		url := wsTestServer(t, func(ws *websocket.Conn) {
			var init wsFrame
			require.NoError(t, ws.ReadJSON(&init))

			var req wsFrame
			require.NoError(t, ws.ReadJSON(&req))
			require.NoError(t, ws.WriteJSON(wsFrame{
				Type:  "response",
				ID:    req.ID,
				Error: "not logged in",
			}))

			ws.ReadJSON(&wsFrame{})
		})

		dialer := NewWSDialer(url)
		conn, err := dialer.Dial(context.Background(), Credentials{})
		require.NoError(t, err)
		defer conn.Close()

		err = conn.SendText(context.Background(), "a@s", "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not logged in")
	})

	t.Run("server drop emits connection_lost and closes the stream", func(t *testing.T) {
		url := wsTestServer(t, func(ws *websocket.Conn) {
			var init wsFrame
			require.NoError(t, ws.ReadJSON(&init))
			// Drop the connection abruptly.
		})

		dialer := NewWSDialer(url)
		conn, err := dialer.Dial(context.Background(), Credentials{})
		require.NoError(t, err)

		var got []Event
		deadline := time.After(2 * time.Second)
	drain:
		for {
			select {
			case evt, ok := <-conn.Events():
				if !ok {
					break drain
				}
				got = append(got, evt)
			case <-deadline:
				t.Fatal("event stream never closed")
			}
		}

		require.Len(t, got, 1)
		require.IsType(t, Disconnected{}, got[0])
		assert.Equal(t, CauseConnectionLost, got[0].(Disconnected).Cause)
	})

	t.Run("local close does not fabricate a disconnect", func(t *testing.T) {
		url := wsTestServer(t, func(ws *websocket.Conn) {
			var init wsFrame
			require.NoError(t, ws.ReadJSON(&init))
			ws.ReadJSON(&wsFrame{})
		})

		dialer := NewWSDialer(url)
		conn, err := dialer.Dial(context.Background(), Credentials{})
		require.NoError(t, err)

		require.NoError(t, conn.Close())

		deadline := time.After(2 * time.Second)
		for {
			select {
			case evt, ok := <-conn.Events():
				if !ok {
					return
				}
				t.Fatalf("unexpected event after local close: %#v", evt)
			case <-deadline:
				t.Fatal("event stream never closed")
			}
		}
	})
}
