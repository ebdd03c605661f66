// Package chattest provides scripted in-memory implementations of the chat
// boundary for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/model"
)

// Conn is a scripted chat.Conn. Tests feed events with Emit and inspect the
// recorded outbound calls. Zero-value behavior: every operation succeeds
// with empty results.
type Conn struct {
	mu         sync.Mutex
	events     chan chat.Event
	closed     bool
	closeCalls int
	logouts    int

	Self string

	PairingCodeFn     func(phone string) (string, error)
	IdentityFn        func(number string) (chat.IdentityResult, error)
	StatusTextFn      func(jid string) (string, error)
	ProfilePictureFn  func(jid string, preview bool) (string, error)
	BusinessProfileFn func(jid string) (*model.BusinessProfile, error)
	GroupsFn          func() ([]model.Group, error)
	SendTextErr       error
	SendMediaErr      error

	SentTexts []SentText
	SentMedia []SentMedia
	Presences []PresenceCall
}

type SentText struct {
	JID  string
	Text string
}

type SentMedia struct {
	JID   string
	Media chat.Media
}

type PresenceCall struct {
	JID   string
	State chat.PresenceState
}

func NewConn() *Conn {
	return &Conn{events: make(chan chat.Event, 64)}
}

// Emit delivers an event to the connection's consumer.
func (c *Conn) Emit(evt chat.Event) {
	c.events <- evt
}

func (c *Conn) Events() <-chan chat.Event {
	return c.events
}

func (c *Conn) SelfJID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Self
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *Conn) Logouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

func (c *Conn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	if c.PairingCodeFn != nil {
		return c.PairingCodeFn(phoneNumber)
	}
	return "ABCD-1234", nil
}

func (c *Conn) CheckIdentity(ctx context.Context, number string) (chat.IdentityResult, error) {
	if c.IdentityFn != nil {
		return c.IdentityFn(number)
	}
	return chat.IdentityResult{}, nil
}

func (c *Conn) FetchStatusText(ctx context.Context, jid string) (string, error) {
	if c.StatusTextFn != nil {
		return c.StatusTextFn(jid)
	}
	return "", nil
}

func (c *Conn) FetchProfilePicture(ctx context.Context, jid string, preview bool) (string, error) {
	if c.ProfilePictureFn != nil {
		return c.ProfilePictureFn(jid, preview)
	}
	return "", nil
}

func (c *Conn) FetchBusinessProfile(ctx context.Context, jid string) (*model.BusinessProfile, error) {
	if c.BusinessProfileFn != nil {
		return c.BusinessProfileFn(jid)
	}
	return nil, nil
}

func (c *Conn) FetchAllGroups(ctx context.Context) ([]model.Group, error) {
	if c.GroupsFn != nil {
		return c.GroupsFn()
	}
	return nil, nil
}

func (c *Conn) SendText(ctx context.Context, jid string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendTextErr != nil {
		return c.SendTextErr
	}
	c.SentTexts = append(c.SentTexts, SentText{JID: jid, Text: text})
	return nil
}

func (c *Conn) SendMedia(ctx context.Context, jid string, media chat.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendMediaErr != nil {
		return c.SendMediaErr
	}
	c.SentMedia = append(c.SentMedia, SentMedia{JID: jid, Media: media})
	return nil
}

func (c *Conn) SendPresence(ctx context.Context, jid string, state chat.PresenceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Presences = append(c.Presences, PresenceCall{JID: jid, State: state})
	return nil
}

// Dialer hands out scripted connections. Each Dial returns the next queued
// conn, or a fresh zero-value Conn when the queue is empty.
type Dialer struct {
	mu      sync.Mutex
	queue   []*Conn
	DialErr error

	Dialed []*Conn
	Creds  []chat.Credentials
}

func NewDialer(conns ...*Conn) *Dialer {
	return &Dialer{queue: conns}
}

// Queue appends connections to be returned by subsequent Dial calls.
func (d *Dialer) Queue(conns ...*Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, conns...)
}

func (d *Dialer) Dial(ctx context.Context, creds chat.Credentials) (chat.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DialErr != nil {
		return nil, d.DialErr
	}

	var conn *Conn
	if len(d.queue) > 0 {
		conn = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		conn = NewConn()
	}

	d.Dialed = append(d.Dialed, conn)
	d.Creds = append(d.Creds, creds)
	return conn, nil
}

// DialCount reports how many connections were opened.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dialed)
}
