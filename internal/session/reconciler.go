package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/model"
	"github.com/zapgate/gateway-server-go/internal/util"
)

// Reconciler folds the chat network's event stream into session state. Each
// event is handled in isolation: handler errors are logged where they occur
// and never abort the pump or the session.
type Reconciler struct {
	cfg      Config
	policy   *ReconnectionPolicy
	sink     EventSink
	notifier Notifier
}

func newReconciler(cfg Config, policy *ReconnectionPolicy, sink EventSink, notifier Notifier) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		policy:   policy,
		sink:     sink,
		notifier: notifier,
	}
}

// Apply dispatches one event from conn. Events whose source handle has been
// superseded by a reconnect are discarded: only the current handle may
// mutate session state.
func (r *Reconciler) Apply(sess *Session, conn chat.Conn, evt chat.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("sessionId", sess.id).
				Interface("panic", rec).
				Msg("event handler panicked; event dropped")
		}
	}()

	switch e := evt.(type) {
	case chat.CredentialsChanged:
		r.handleCredentials(sess, conn, e)
	case chat.QRCodeAvailable:
		r.handleQR(sess, conn, e.Payload)
	case chat.Connected:
		r.handleConnected(sess, conn)
	case chat.Disconnected:
		r.handleDisconnected(sess, conn, e.Cause)
	case chat.HistorySync:
		r.handleHistorySync(sess, conn, e)
	case chat.MessageUpsert:
		r.handleMessageUpsert(sess, conn, e.Message)
	case chat.MessageUpdate:
		r.touch(sess, conn)
	case chat.MessageDelete:
		r.touch(sess, conn)
	case chat.PresenceUpdate:
		r.touch(sess, conn)
	case chat.ContactsUpsert:
		r.handleContactsUpsert(sess, conn, e.Contacts)
	case chat.GroupsUpsert:
		r.handleGroups(sess, conn, e.Groups)
	case chat.GroupsUpdate:
		r.handleGroups(sess, conn, e.Groups)
	case chat.BlocklistChanged:
		r.touch(sess, conn)
	case chat.IncomingCall:
		r.touch(sess, conn)
	}
}

func (r *Reconciler) handleCredentials(sess *Session, conn chat.Conn, e chat.CredentialsChanged) {
	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	handle := sess.credsHandle
	sess.touchLocked()
	sess.mu.Unlock()

	if handle == nil {
		return
	}
	// Not fatal: the next credential change will retry the write.
	if err := handle.Save(e.Credentials); err != nil {
		log.Error().Err(err).Str("sessionId", sess.id).Msg("failed to persist credentials")
	}
}

func (r *Reconciler) handleQR(sess *Session, conn chat.Conn, payload string) {
	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}

	if sess.method == model.PairingCode && sess.codeRequested {
		// A code is already out; QR rotations no longer apply. The code
		// failure path flips the method back to qr before this point.
		sess.mu.Unlock()
		return
	}

	if sess.method == model.PairingCode && sess.phoneNumber != "" && !sess.codeRequested {
		sess.codeRequested = true
		phone := sess.phoneNumber
		sess.mu.Unlock()
		r.requestPairingCode(sess, conn, phone, payload)
		return
	}

	r.setQRLocked(sess, payload)
	owner := sess.ownerID
	sess.mu.Unlock()

	r.notify(owner, "qr", map[string]string{"sessionId": sess.id})
}

// requestPairingCode asks the network for a phone-entered code. If code
// generation fails the session falls back to QR pairing; this is documented
// policy, not an error path.
func (r *Reconciler) requestPairingCode(sess *Session, conn chat.Conn, phone, qrPayload string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.OperationTimeout)
	defer cancel()

	code, err := conn.RequestPairingCode(ctx, phone)

	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("sessionId", sess.id).Msg("pairing code request failed, falling back to qr")
		sess.method = model.PairingQR
		r.setQRLocked(sess, qrPayload)
		owner := sess.ownerID
		sess.mu.Unlock()
		r.notify(owner, "qr", map[string]string{"sessionId": sess.id})
		return
	}

	sess.pairingCode = code
	sess.qrPayload = ""
	sess.status = model.StatusCodePending
	sess.touchLocked()
	owner := sess.ownerID
	sess.mu.Unlock()

	log.Info().
		Str("sessionId", sess.id).
		Str("pairingCode", util.MaskCode(code)).
		Msg("pairing code issued")
	r.notify(owner, "pairing_code", map[string]string{"sessionId": sess.id, "code": code})
}

func (r *Reconciler) setQRLocked(sess *Session, payload string) {
	encoded, err := util.QRDataURL(payload)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sess.id).Msg("failed to encode qr image, storing raw payload")
		encoded = payload
	}
	sess.qrPayload = encoded
	sess.pairingCode = ""
	sess.status = model.StatusQRPending
	sess.touchLocked()
}

func (r *Reconciler) handleConnected(sess *Session, conn chat.Conn) {
	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	sess.qrPayload = ""
	sess.pairingCode = ""
	sess.reconnectAttempts = 0
	sess.cancelRetryLocked()
	sess.status = model.StatusConnected
	sess.remoteNumber = conn.SelfJID()
	sess.touchLocked()
	owner := sess.ownerID
	remote := sess.remoteNumber
	sess.mu.Unlock()

	// Profile picture is cosmetic; a fetch failure leaves it blank.
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.OperationTimeout)
	defer cancel()
	if url, err := conn.FetchProfilePicture(ctx, remote, false); err != nil {
		log.Debug().Err(err).Str("sessionId", sess.id).Msg("profile picture fetch failed")
	} else {
		sess.mu.Lock()
		if sess.conn == conn {
			sess.profilePictureURL = url
		}
		sess.mu.Unlock()
	}

	log.Info().Str("sessionId", sess.id).Str("remoteNumber", remote).Msg("session connected")
	r.notify(owner, "connected", map[string]string{"sessionId": sess.id, "remoteNumber": remote})
}

func (r *Reconciler) handleDisconnected(sess *Session, conn chat.Conn, cause chat.DisconnectCause) {
	sess.mu.Lock()
	if sess.conn != conn {
		// A superseded handle reporting its own death is not news.
		sess.mu.Unlock()
		return
	}
	sess.status = model.StatusDisconnected
	sess.touchLocked()
	owner := sess.ownerID
	sess.mu.Unlock()

	conn.Close()

	log.Info().
		Str("sessionId", sess.id).
		Str("cause", string(cause)).
		Msg("session disconnected")
	r.notify(owner, "disconnected", map[string]string{"sessionId": sess.id, "cause": string(cause)})

	r.policy.HandleDisconnect(sess, cause)
}

func (r *Reconciler) handleHistorySync(sess *Session, conn chat.Conn, e chat.HistorySync) {
	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	sess.upsertContactsLocked(e.Contacts, r.cfg.ContactBufferCap)
	sess.upsertChatsLocked(e.Chats, r.cfg.ChatBufferCap)
	sess.appendMessagesLocked(e.Messages, r.cfg.MessageBufferCap)
	sess.touchLocked()
	sess.mu.Unlock()

	r.archiveMessages(sess.id, e.Messages)
	r.archiveContacts(sess.id, e.Contacts)

	log.Debug().
		Str("sessionId", sess.id).
		Int("contacts", len(e.Contacts)).
		Int("chats", len(e.Chats)).
		Int("messages", len(e.Messages)).
		Msg("history sync merged")
}

func (r *Reconciler) handleMessageUpsert(sess *Session, conn chat.Conn, msg model.Message) {
	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	sess.appendMessagesLocked([]model.Message{msg}, r.cfg.MessageBufferCap)
	sess.touchLocked()
	owner := sess.ownerID
	sess.mu.Unlock()

	r.archiveMessages(sess.id, []model.Message{msg})
	r.notify(owner, "message", map[string]any{"sessionId": sess.id, "message": msg})
}

func (r *Reconciler) handleContactsUpsert(sess *Session, conn chat.Conn, contacts []model.Contact) {
	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	sess.upsertContactsLocked(contacts, r.cfg.ContactBufferCap)
	sess.touchLocked()
	sess.mu.Unlock()

	r.archiveContacts(sess.id, contacts)
}

func (r *Reconciler) handleGroups(sess *Session, conn chat.Conn, groups []model.Group) {
	chats := make([]model.Chat, 0, len(groups))
	for _, g := range groups {
		chats = append(chats, model.Chat{JID: g.JID, Name: g.Subject, IsGroup: true})
	}

	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	sess.upsertChatsLocked(chats, r.cfg.ChatBufferCap)
	sess.touchLocked()
	sess.mu.Unlock()
}

func (r *Reconciler) touch(sess *Session, conn chat.Conn) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.conn != conn {
		return
	}
	sess.touchLocked()
}

func (r *Reconciler) archiveMessages(sessionID string, msgs []model.Message) {
	if r.sink == nil || len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.OperationTimeout)
	defer cancel()
	if err := r.sink.ArchiveMessages(ctx, sessionID, msgs); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to archive messages")
	}
}

func (r *Reconciler) archiveContacts(sessionID string, contacts []model.Contact) {
	if r.sink == nil || len(contacts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.OperationTimeout)
	defer cancel()
	if err := r.sink.ArchiveContacts(ctx, sessionID, contacts); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to archive contacts")
	}
}

func (r *Reconciler) notify(ownerID, kind string, data any) {
	if r.notifier == nil {
		return
	}
	r.notifier.Publish(ownerID, kind, data)
}
