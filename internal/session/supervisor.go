package session

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/creds"
	apperrors "github.com/zapgate/gateway-server-go/internal/errors"
	"github.com/zapgate/gateway-server-go/internal/model"
	"github.com/zapgate/gateway-server-go/internal/util"
)

// BootstrapResult is what a creating caller gets back synchronously. QR and
// PairingCode may be empty when the network did not produce them within the
// bootstrap window; the caller polls status in that case.
type BootstrapResult struct {
	SessionID   string              `json:"sessionId"`
	Status      model.SessionStatus `json:"status"`
	QRPayload   string              `json:"qr,omitempty"`
	PairingCode string              `json:"pairingCode,omitempty"`
}

// Supervisor owns the registry and orchestrates creation, restart, removal,
// reconnection and garbage collection of sessions.
type Supervisor struct {
	cfg      Config
	registry *Registry
	dialer   chat.Dialer
	creds    *creds.Store
	ledger   Ledger
	notifier Notifier

	reconciler *Reconciler
	policy     *ReconnectionPolicy
}

// NewSupervisor wires the session core. ledger, sink and notifier may be nil
// (tests); the corresponding hooks become no-ops.
func NewSupervisor(
	cfg Config,
	registry *Registry,
	dialer chat.Dialer,
	credStore *creds.Store,
	ledger Ledger,
	sink EventSink,
	notifier Notifier,
) *Supervisor {
	sup := &Supervisor{
		cfg:      cfg,
		registry: registry,
		dialer:   dialer,
		creds:    credStore,
		ledger:   ledger,
		notifier: notifier,
	}
	sup.policy = newReconnectionPolicy(cfg, sup)
	sup.reconciler = newReconciler(cfg, sup.policy, sink, notifier)
	return sup
}

// Create provisions a new session for an owner: debits the session cost,
// allocates a credential directory, opens the connection, attaches the event
// pump and waits (bounded) for a QR payload or pairing code.
func (sup *Supervisor) Create(ctx context.Context, ownerID string, method model.PairingMethod, phoneNumber string) (*BootstrapResult, error) {
	switch method {
	case model.PairingQR:
		phoneNumber = ""
	case model.PairingCode:
		if !util.IsValidPhoneNumber(phoneNumber) {
			return nil, apperrors.InvalidArgument("phoneNumber", "must be 10 to 15 digits")
		}
	default:
		return nil, apperrors.InvalidArgument("pairingMethod", "must be qr or code")
	}

	if err := sup.debit(ctx, ownerID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := creds.Key{OwnerID: ownerID, SessionID: id}

	handle, err := sup.creds.Load(key)
	if err != nil {
		sup.refund(ctx, ownerID)
		return nil, apperrors.Internal("failed to allocate credential storage").WithCause(err)
	}

	conn, err := sup.dialer.Dial(ctx, handle.Credentials)
	if err != nil {
		if derr := sup.creds.Delete(key); derr != nil {
			log.Error().Err(derr).Str("sessionId", id).Msg("failed to delete credential dir after dial failure")
		}
		sup.refund(ctx, ownerID)
		return nil, apperrors.UpstreamFailure("open connection", err)
	}

	sess := newSession(id, ownerID, method, phoneNumber)
	sess.conn = conn
	sess.credsHandle = handle
	sup.registry.Put(sess)

	go sup.pump(sess, conn)

	log.Info().
		Str("sessionId", id).
		Str("ownerId", ownerID).
		Str("pairingMethod", string(method)).
		Msg("session created")

	return sup.waitForPairing(ctx, sess), nil
}

// Restart closes the current handle and re-opens it from the same credential
// directory, keeping the pairing method and phone number.
func (sup *Supervisor) Restart(ctx context.Context, ownerID, sessionID string) (*BootstrapResult, error) {
	sess, err := sup.lookup(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	sess.cancelRetryLocked()
	old := sess.conn
	sess.conn = nil
	sess.mu.Unlock()

	if old != nil {
		old.Close()
	}

	key := creds.Key{OwnerID: ownerID, SessionID: sessionID}
	handle, err := sup.creds.Load(key)
	if err != nil {
		return nil, apperrors.Internal("failed to reload credentials").WithCause(err)
	}

	conn, err := sup.dialer.Dial(ctx, handle.Credentials)
	if err != nil {
		sess.mu.Lock()
		sess.status = model.StatusDisconnected
		sess.mu.Unlock()
		return nil, apperrors.UpstreamFailure("open connection", err)
	}

	sess.mu.Lock()
	sess.conn = conn
	sess.credsHandle = handle
	sess.status = model.StatusConnecting
	sess.qrPayload = ""
	sess.pairingCode = ""
	sess.reconnectAttempts = 0
	sess.codeRequested = false
	sess.desiredConnected = true
	sess.mu.Unlock()

	go sup.pump(sess, conn)

	log.Info().Str("sessionId", sessionID).Msg("session restarted")

	return sup.waitForPairing(ctx, sess), nil
}

// Remove tears a session down: graceful logout, handle close, credential
// directory deletion, registry removal. The teardown steps individually
// tolerate an already-dead connection, and removal is idempotent: a session
// the caller cannot see counts as already removed.
func (sup *Supervisor) Remove(ctx context.Context, ownerID, sessionID string) error {
	sess, err := sup.lookup(ownerID, sessionID)
	if err != nil {
		return nil
	}

	sup.teardown(ctx, sess, true)
	log.Info().Str("sessionId", sessionID).Str("ownerId", ownerID).Msg("session removed")
	return nil
}

// Get returns the snapshot of one owned session.
func (sup *Supervisor) Get(ownerID, sessionID string) (model.SessionSummary, error) {
	sess, err := sup.lookup(ownerID, sessionID)
	if err != nil {
		return model.SessionSummary{}, err
	}
	return sess.Summary(), nil
}

// List returns snapshots of all sessions, filtered by owner when non-empty.
func (sup *Supervisor) List(ownerID string) []model.SessionSummary {
	var sessions []*Session
	if ownerID == "" {
		sessions = sup.registry.All()
	} else {
		sessions = sup.registry.Owned(ownerID)
	}

	out := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep removes every session that is disconnected with no intent to
// reconnect. Returns the number of sessions removed.
func (sup *Supervisor) Sweep(ctx context.Context) int {
	removed := 0
	for _, sess := range sup.registry.All() {
		sess.mu.Lock()
		dead := sess.status == model.StatusDisconnected && !sess.desiredConnected
		sess.mu.Unlock()

		if dead {
			sup.teardown(ctx, sess, false)
			removed++
			log.Info().Str("sessionId", sess.id).Msg("swept dead session")
		}
	}
	return removed
}

// RestoreAll resurrects sessions from persisted credential directories at
// process startup. Directories without registered credential material are
// deleted. Restored sessions always use QR pairing internally: the existing
// credentials re-authenticate without any human pairing step.
func (sup *Supervisor) RestoreAll(ctx context.Context) error {
	keys, err := sup.creds.List()
	if err != nil {
		return err
	}

	for _, key := range keys {
		handle, err := sup.creds.Load(key)
		if err != nil {
			log.Error().Err(err).Str("session", key.String()).Msg("restore: failed to load credentials")
			continue
		}

		if !handle.Credentials.Registered || len(handle.Credentials.Blob) == 0 {
			if err := sup.creds.Delete(key); err != nil {
				log.Error().Err(err).Str("session", key.String()).Msg("restore: failed to delete stale credential dir")
			} else {
				log.Info().Str("session", key.String()).Msg("restore: deleted unregistered credential dir")
			}
			continue
		}

		conn, err := sup.dialer.Dial(ctx, handle.Credentials)
		if err != nil {
			log.Error().Err(err).Str("session", key.String()).Msg("restore: failed to open connection")
			continue
		}

		sess := newSession(key.SessionID, key.OwnerID, model.PairingQR, "")
		sess.conn = conn
		sess.credsHandle = handle
		sup.registry.Put(sess)

		go sup.pump(sess, conn)

		log.Info().Str("sessionId", key.SessionID).Str("ownerId", key.OwnerID).Msg("session restored")
	}

	return nil
}

// Contacts returns the buffered contact snapshot of an owned session.
func (sup *Supervisor) Contacts(ownerID, sessionID string) ([]model.Contact, error) {
	sess, err := sup.lookup(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]model.Contact, 0, len(sess.contacts))
	for _, c := range sess.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out, nil
}

// Chats returns the buffered chat snapshot of an owned session.
func (sup *Supervisor) Chats(ownerID, sessionID string) ([]model.Chat, error) {
	sess, err := sup.lookup(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]model.Chat, 0, len(sess.chats))
	for _, c := range sess.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt > out[j].LastMessageAt })
	return out, nil
}

// Messages returns up to limit of the most recent buffered messages.
func (sup *Supervisor) Messages(ownerID, sessionID string, limit int) ([]model.Message, error) {
	sess, err := sup.lookup(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	msgs := sess.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Registry exposes the owned registry to collaborators (gateway, tests).
func (sup *Supervisor) Registry() *Registry {
	return sup.registry
}

func (sup *Supervisor) lookup(ownerID, sessionID string) (*Session, error) {
	sess, ok := sup.registry.Get(sessionID)
	if !ok || sess.ownerID != ownerID {
		return nil, apperrors.NotFound("Session")
	}
	return sess, nil
}

// pump drains one connection's event stream into the reconciler. It exits
// when the connection closes its channel. Establishing or running handlers
// must never take the process down, so the whole loop sits behind a recover
// boundary.
func (sup *Supervisor) pump(sess *Session, conn chat.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("sessionId", sess.id).
				Interface("panic", r).
				Msg("event pump panicked; session left in current state")
		}
	}()

	for evt := range conn.Events() {
		sup.reconciler.Apply(sess, conn, evt)
	}
}

// reconnect recreates the connection handle from persisted credentials and
// swaps it in, closing the previous handle. Called by the reconnection
// policy when a retry timer fires.
func (sup *Supervisor) reconnect(ctx context.Context, sess *Session) error {
	key := creds.Key{OwnerID: sess.ownerID, SessionID: sess.id}
	handle, err := sup.creds.Load(key)
	if err != nil {
		return err
	}

	conn, err := sup.dialer.Dial(ctx, handle.Credentials)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if !sess.desiredConnected {
		// Removed while we were dialing.
		sess.mu.Unlock()
		conn.Close()
		return nil
	}
	old := sess.conn
	sess.conn = conn
	sess.credsHandle = handle
	sess.status = model.StatusConnecting
	sess.codeRequested = false
	sess.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go sup.pump(sess, conn)
	return nil
}

// teardown is the shared destruction path for Remove and Sweep.
func (sup *Supervisor) teardown(ctx context.Context, sess *Session, tryLogout bool) {
	sess.mu.Lock()
	sess.desiredConnected = false
	sess.cancelRetryLocked()
	conn := sess.conn
	sess.conn = nil
	sess.status = model.StatusDisconnected
	sess.mu.Unlock()

	if conn != nil {
		if tryLogout {
			// Best-effort: the connection may already be gone.
			if err := conn.Logout(ctx); err != nil {
				log.Debug().Err(err).Str("sessionId", sess.id).Msg("logout failed during teardown")
			}
		}
		conn.Close()
	}

	key := creds.Key{OwnerID: sess.ownerID, SessionID: sess.id}
	if err := sup.creds.Delete(key); err != nil {
		log.Error().Err(err).Str("sessionId", sess.id).Msg("failed to delete credential dir")
	}

	sup.registry.Remove(sess.id)
	sup.notify(sess.ownerID, "session_removed", map[string]string{"sessionId": sess.id})
}

// waitForPairing polls (bounded) until the session has a QR payload, a
// pairing code, or reached connected. Timing out is not an error: the caller
// gets the session id and polls status.
func (sup *Supervisor) waitForPairing(ctx context.Context, sess *Session) *BootstrapResult {
poll:
	for i := 0; i < sup.cfg.BootstrapPollAttempts; i++ {
		sess.mu.Lock()
		ready := sess.qrPayload != "" || sess.pairingCode != "" ||
			sess.status == model.StatusConnected || sess.status == model.StatusDisconnected
		sess.mu.Unlock()

		if ready {
			break
		}

		select {
		case <-ctx.Done():
			break poll
		case <-time.After(sup.cfg.BootstrapPollInterval):
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return &BootstrapResult{
		SessionID:   sess.id,
		Status:      sess.status,
		QRPayload:   sess.qrPayload,
		PairingCode: sess.pairingCode,
	}
}

func (sup *Supervisor) debit(ctx context.Context, ownerID string) error {
	if sup.ledger == nil || sup.cfg.SessionCost <= 0 {
		return nil
	}
	return sup.ledger.Debit(ctx, ownerID, sup.cfg.SessionCost)
}

func (sup *Supervisor) refund(ctx context.Context, ownerID string) {
	if sup.ledger == nil || sup.cfg.SessionCost <= 0 {
		return
	}
	if err := sup.ledger.Credit(ctx, ownerID, sup.cfg.SessionCost); err != nil {
		log.Error().Err(err).Str("ownerId", ownerID).Msg("failed to refund session cost")
	}
}

func (sup *Supervisor) notify(ownerID, kind string, data any) {
	if sup.notifier == nil {
		return
	}
	sup.notifier.Publish(ownerID, kind, data)
}
