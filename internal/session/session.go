package session

import (
	"sync"
	"time"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/creds"
	"github.com/zapgate/gateway-server-go/internal/model"
)

// Session is the supervisor-owned state of one chat-network connection.
// All fields are guarded by mu; mutation happens only through the
// supervisor, reconciler and reconnection policy.
type Session struct {
	mu sync.Mutex

	id          string
	ownerID     string
	method      model.PairingMethod
	phoneNumber string

	// conn is replaced wholesale on every reconnect, never mutated in
	// place. Event handlers compare their source handle against it to
	// discard events from superseded connections.
	conn        chat.Conn
	credsHandle *creds.Handle

	status            model.SessionStatus
	qrPayload         string
	pairingCode       string
	remoteNumber      string
	profilePictureURL string

	reconnectAttempts int
	retryTimer        *time.Timer
	desiredConnected  bool
	codeRequested     bool

	createdAt      time.Time
	lastActivityAt time.Time

	contacts map[string]model.Contact
	chats    map[string]model.Chat
	messages []model.Message
}

func newSession(id, ownerID string, method model.PairingMethod, phoneNumber string) *Session {
	now := time.Now()
	return &Session{
		id:               id,
		ownerID:          ownerID,
		method:           method,
		phoneNumber:      phoneNumber,
		status:           model.StatusConnecting,
		desiredConnected: true,
		createdAt:        now,
		lastActivityAt:   now,
		contacts:         make(map[string]model.Contact),
		chats:            make(map[string]model.Chat),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) OwnerID() string {
	return s.ownerID
}

// Summary returns a consistent snapshot for read APIs.
func (s *Session) Summary() model.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Session) summaryLocked() model.SessionSummary {
	return model.SessionSummary{
		ID:                s.id,
		OwnerID:           s.ownerID,
		Status:            s.status,
		PairingMethod:     s.method,
		PhoneNumber:       s.phoneNumber,
		QRPayload:         s.qrPayload,
		PairingCode:       s.pairingCode,
		RemoteNumber:      s.remoteNumber,
		ProfilePictureURL: s.profilePictureURL,
		ReconnectAttempts: s.reconnectAttempts,
		CreatedAt:         s.createdAt,
		LastActivityAt:    s.lastActivityAt,
	}
}

func (s *Session) touchLocked() {
	s.lastActivityAt = time.Now()
}

// cancelRetryLocked enforces the at-most-one-pending-timer invariant.
func (s *Session) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// HasPendingRetry reports whether a reconnect timer is currently scheduled.
func (s *Session) HasPendingRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryTimer != nil
}

// upsertContactsLocked merges contacts into the bounded buffer. Once the cap
// is reached only already-known contacts are refreshed.
func (s *Session) upsertContactsLocked(contacts []model.Contact, limit int) {
	for _, c := range contacts {
		if c.JID == "" {
			continue
		}
		if _, known := s.contacts[c.JID]; !known && len(s.contacts) >= limit {
			continue
		}
		s.contacts[c.JID] = c
	}
}

func (s *Session) upsertChatsLocked(chats []model.Chat, limit int) {
	for _, c := range chats {
		if c.JID == "" {
			continue
		}
		if _, known := s.chats[c.JID]; !known && len(s.chats) >= limit {
			continue
		}
		s.chats[c.JID] = c
	}
}

// appendMessagesLocked appends to the recent-message ring, evicting the
// oldest entries beyond the cap.
func (s *Session) appendMessagesLocked(msgs []model.Message, limit int) {
	s.messages = append(s.messages, msgs...)
	if len(s.messages) > limit {
		s.messages = s.messages[len(s.messages)-limit:]
	}
}
