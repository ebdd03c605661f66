package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/model"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsEventBuffer      = 256
)

// WSDialer reaches the chat network over a duplex WebSocket speaking JSON
// frames: server-pushed event frames and correlation-id request/response
// frames for operations.
type WSDialer struct {
	url    string
	dialer *websocket.Dialer
}

func NewWSDialer(url string) *WSDialer {
	return &WSDialer{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
		},
	}
}

type wsFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Event  string          `json:"event,omitempty"`
	Method string          `json:"method,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (d *WSDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial chat network: %w", err)
	}

	c := &wsConn{
		ws:      ws,
		events:  make(chan Event, wsEventBuffer),
		pending: make(map[string]chan wsFrame),
	}

	if err := c.writeFrame(wsFrame{Type: "init", Data: mustJSON(creds)}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send init frame: %w", err)
	}

	go c.readLoop()

	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	events  chan Event
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wsFrame
	selfJID string
	closed  bool
}

func (c *wsConn) Events() <-chan Event {
	return c.events
}

func (c *wsConn) SelfJID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfJID
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Unblocks the read loop, which closes the event channel and fails
	// any in-flight requests.
	return c.ws.Close()
}

func (c *wsConn) readLoop() {
	defer func() {
		c.mu.Lock()
		wasClosed := c.closed
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if !wasClosed {
			// The network dropped us without a close event.
			c.events <- Disconnected{Cause: CauseConnectionLost}
		}
		close(c.events)
	}()

	for {
		var frame wsFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "event":
			c.dispatchEvent(frame)
		case "response":
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				delete(c.pending, frame.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		default:
			log.Debug().Str("type", frame.Type).Msg("chat ws: ignoring unknown frame type")
		}
	}
}

func (c *wsConn) dispatchEvent(frame wsFrame) {
	evt := c.decodeEvent(frame)
	if evt == nil {
		return
	}

	// A permanent close must not be lost even if the consumer is slow, so
	// events are delivered blocking; the buffer only smooths bursts.
	c.events <- evt
}

func (c *wsConn) decodeEvent(frame wsFrame) Event {
	switch frame.Event {
	case "credentialsChanged":
		var creds Credentials
		if err := json.Unmarshal(frame.Data, &creds); err != nil {
			log.Error().Err(err).Msg("chat ws: bad credentialsChanged payload")
			return nil
		}
		return CredentialsChanged{Credentials: creds}

	case "qrCodeAvailable":
		var data struct {
			QR string `json:"qr"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad qrCodeAvailable payload")
			return nil
		}
		return QRCodeAvailable{Payload: data.QR}

	case "connectionStateChanged":
		var data struct {
			State      string `json:"state"`
			QR         string `json:"qr,omitempty"`
			SelfJID    string `json:"selfJid,omitempty"`
			CloseCause string `json:"closeCause,omitempty"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad connectionStateChanged payload")
			return nil
		}
		switch data.State {
		case "open":
			c.mu.Lock()
			c.selfJID = data.SelfJID
			c.mu.Unlock()
			return Connected{}
		case "close":
			return Disconnected{Cause: ParseCause(data.CloseCause)}
		default:
			if data.QR != "" {
				return QRCodeAvailable{Payload: data.QR}
			}
			return nil
		}

	case "historySync":
		var data HistorySync
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad historySync payload")
			return nil
		}
		return data

	case "messageUpsert":
		return decodeMessageEvent(frame.Data, func(m model.Message) Event { return MessageUpsert{Message: m} })

	case "messageUpdate":
		return decodeMessageEvent(frame.Data, func(m model.Message) Event { return MessageUpdate{Message: m} })

	case "messageDelete":
		var data MessageDelete
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad messageDelete payload")
			return nil
		}
		return data

	case "presenceUpdate":
		var data PresenceUpdate
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad presenceUpdate payload")
			return nil
		}
		return data

	case "contactsUpsert":
		var data ContactsUpsert
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad contactsUpsert payload")
			return nil
		}
		return data

	case "groupsUpsert":
		var data GroupsUpsert
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad groupsUpsert payload")
			return nil
		}
		return data

	case "groupsUpdate":
		var data GroupsUpdate
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad groupsUpdate payload")
			return nil
		}
		return data

	case "blocklistChanged":
		var data BlocklistChanged
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad blocklistChanged payload")
			return nil
		}
		return data

	case "incomingCall":
		var data IncomingCall
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			log.Error().Err(err).Msg("chat ws: bad incomingCall payload")
			return nil
		}
		return data

	default:
		log.Debug().Str("event", frame.Event).Msg("chat ws: ignoring unknown event")
		return nil
	}
}

func decodeMessageEvent(data json.RawMessage, wrap func(model.Message) Event) Event {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Msg("chat ws: bad message payload")
		return nil
	}
	return wrap(msg)
}

func (c *wsConn) writeFrame(frame wsFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(frame)
}

// request performs one correlation-id round-trip and unmarshals the response
// payload into out (which may be nil).
func (c *wsConn) request(ctx context.Context, method string, params any, out any) error {
	id := uuid.NewString()
	ch := make(chan wsFrame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	err := c.writeFrame(wsFrame{Type: "request", ID: id, Method: method, Data: mustJSON(params)})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()

	case frame, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: connection closed", method)
		}
		if frame.Error != "" {
			return fmt.Errorf("%s: %s", method, frame.Error)
		}
		if out == nil || len(frame.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(frame.Data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", method, err)
		}
		return nil
	}
}

func (c *wsConn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	err := c.request(ctx, "requestPairingCode", map[string]string{"phoneNumber": phoneNumber}, &resp)
	return resp.Code, err
}

func (c *wsConn) CheckIdentity(ctx context.Context, number string) (IdentityResult, error) {
	var resp IdentityResult
	err := c.request(ctx, "checkIdentityExists", map[string]string{"number": number}, &resp)
	return resp, err
}

func (c *wsConn) FetchStatusText(ctx context.Context, jid string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.request(ctx, "fetchStatusText", map[string]string{"jid": jid}, &resp)
	return resp.Status, err
}

func (c *wsConn) FetchProfilePicture(ctx context.Context, jid string, preview bool) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	err := c.request(ctx, "fetchProfilePictureUrl", map[string]any{"jid": jid, "preview": preview}, &resp)
	return resp.URL, err
}

func (c *wsConn) FetchBusinessProfile(ctx context.Context, jid string) (*model.BusinessProfile, error) {
	var resp model.BusinessProfile
	if err := c.request(ctx, "fetchBusinessProfile", map[string]string{"jid": jid}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *wsConn) FetchAllGroups(ctx context.Context) ([]model.Group, error) {
	var resp struct {
		Groups []model.Group `json:"groups"`
	}
	if err := c.request(ctx, "fetchAllGroups", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

func (c *wsConn) SendText(ctx context.Context, jid string, text string) error {
	return c.request(ctx, "sendMessage", map[string]string{"jid": jid, "text": text}, nil)
}

func (c *wsConn) SendMedia(ctx context.Context, jid string, media Media) error {
	return c.request(ctx, "sendMedia", map[string]any{"jid": jid, "media": media}, nil)
}

func (c *wsConn) SendPresence(ctx context.Context, jid string, state PresenceState) error {
	return c.request(ctx, "sendPresence", map[string]string{"jid": jid, "state": string(state)}, nil)
}

func (c *wsConn) Logout(ctx context.Context) error {
	return c.request(ctx, "logout", nil, nil)
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("chat ws: marshal frame payload")
		return nil
	}
	return data
}
