package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/chat"
	apperrors "github.com/zapgate/gateway-server-go/internal/errors"
	"github.com/zapgate/gateway-server-go/internal/model"
	"github.com/zapgate/gateway-server-go/internal/util"
)

// Gateway performs outbound operations against a session's live connection,
// gated on session status and ownership.
type Gateway struct {
	cfg      Config
	registry *Registry

	// Replaced in tests to avoid real typing pauses.
	sleep func(time.Duration)
}

func NewGateway(cfg Config, registry *Registry) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		sleep:    time.Sleep,
	}
}

// SendMessage resolves the recipient, simulates human typing presence and
// sends the text. Returns the resolved canonical identity.
func (g *Gateway) SendMessage(ctx context.Context, ownerID, sessionID, to, text string) (string, error) {
	if to == "" {
		return "", apperrors.MissingRequired("to")
	}
	if text == "" {
		return "", apperrors.MissingRequired("text")
	}

	sess, conn, err := g.connected(ownerID, sessionID)
	if err != nil {
		return "", err
	}

	identity, err := g.resolveIdentity(ctx, conn, to)
	if err != nil {
		return "", err
	}

	// Presence humanization: subscribe, type for a while proportional to
	// the message length, then pause. Presence failures are ignored; they
	// must not block the send.
	g.presence(ctx, conn, identity.JID, chat.PresenceSubscribe)
	g.presence(ctx, conn, identity.JID, chat.PresenceComposing)
	g.sleep(g.typingDelay(text))
	g.presence(ctx, conn, identity.JID, chat.PresencePaused)

	// The connection may have dropped during the pause.
	if err := g.stillConnected(sess, conn); err != nil {
		return "", err
	}

	if err := conn.SendText(ctx, identity.JID, text); err != nil {
		return "", apperrors.UpstreamFailure("send message", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("to", identity.JID).
		Int("length", len(text)).
		Msg("message sent")
	return identity.JID, nil
}

// SendFile sends an attachment, selecting the envelope from the mime type.
// Audio is sent as a regular audio attachment, never a voice note.
func (g *Gateway) SendFile(ctx context.Context, ownerID, sessionID, to string, data []byte, filename, mimeType, caption string) (string, error) {
	if to == "" {
		return "", apperrors.MissingRequired("to")
	}
	if len(data) == 0 {
		return "", apperrors.MissingRequired("file")
	}

	sess, conn, err := g.connected(ownerID, sessionID)
	if err != nil {
		return "", err
	}

	identity, err := g.resolveIdentity(ctx, conn, to)
	if err != nil {
		return "", err
	}

	if err := g.stillConnected(sess, conn); err != nil {
		return "", err
	}

	media := chat.Media{
		Kind:     mediaKind(mimeType),
		Data:     data,
		Filename: filename,
		MimeType: mimeType,
		Caption:  caption,
	}
	if err := conn.SendMedia(ctx, identity.JID, media); err != nil {
		return "", apperrors.UpstreamFailure("send file", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("to", identity.JID).
		Str("kind", string(media.Kind)).
		Int("bytes", len(data)).
		Msg("file sent")
	return identity.JID, nil
}

// ValidateNumber probes whether a number exists on the network and enriches
// the result with profile data. Every enrichment is independently
// best-effort.
func (g *Gateway) ValidateNumber(ctx context.Context, ownerID, sessionID, number string) (*model.NumberInfo, error) {
	if number == "" {
		return nil, apperrors.MissingRequired("number")
	}

	_, conn, err := g.connected(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	identity, err := g.resolveIdentity(ctx, conn, number)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeRecipientNotFound {
			return &model.NumberInfo{Exists: false}, nil
		}
		return nil, err
	}

	info := &model.NumberInfo{
		Exists:       true,
		JID:          identity.JID,
		VerifiedName: identity.VerifiedName,
	}

	if status, err := conn.FetchStatusText(ctx, identity.JID); err != nil {
		log.Debug().Err(err).Str("jid", identity.JID).Msg("status text fetch failed")
	} else {
		info.StatusText = status
	}

	// High resolution first, preview as fallback.
	if url, err := conn.FetchProfilePicture(ctx, identity.JID, false); err == nil && url != "" {
		info.ProfilePictureURL = url
	} else if url, err := conn.FetchProfilePicture(ctx, identity.JID, true); err == nil {
		info.ProfilePictureURL = url
	}

	if business, err := conn.FetchBusinessProfile(ctx, identity.JID); err != nil {
		log.Debug().Err(err).Str("jid", identity.JID).Msg("business profile fetch failed")
	} else {
		info.Business = business
	}

	return info, nil
}

// Groups fetches group metadata from the live connection.
func (g *Gateway) Groups(ctx context.Context, ownerID, sessionID string) ([]model.Group, error) {
	_, conn, err := g.connected(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	groups, err := conn.FetchAllGroups(ctx)
	if err != nil {
		return nil, apperrors.UpstreamFailure("fetch groups", err)
	}
	return groups, nil
}

// connected returns the session and its current handle, failing unless the
// session exists, belongs to the caller and is connected.
func (g *Gateway) connected(ownerID, sessionID string) (*Session, chat.Conn, error) {
	sess, ok := g.registry.Get(sessionID)
	if !ok || sess.ownerID != ownerID {
		return nil, nil, apperrors.NotFound("Session")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status != model.StatusConnected || sess.conn == nil {
		return nil, nil, apperrors.NotConnected()
	}
	return sess, sess.conn, nil
}

// stillConnected re-validates status and handle identity right before a
// network call: a disconnect may have interleaved with the operation.
func (g *Gateway) stillConnected(sess *Session, conn chat.Conn) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status != model.StatusConnected || sess.conn != conn {
		return apperrors.NotConnected()
	}
	return nil
}

// resolveIdentity probes the candidate forms of a raw number in order and
// returns the first confirmed canonical identity.
func (g *Gateway) resolveIdentity(ctx context.Context, conn chat.Conn, number string) (chat.IdentityResult, error) {
	var lastErr error
	for _, variant := range util.NumberVariants(number) {
		res, err := conn.CheckIdentity(ctx, variant)
		if err != nil {
			lastErr = err
			continue
		}
		if res.Exists {
			return res, nil
		}
	}

	if lastErr != nil {
		return chat.IdentityResult{}, apperrors.UpstreamFailure("check identity", lastErr)
	}
	return chat.IdentityResult{}, apperrors.RecipientNotFound(number)
}

func (g *Gateway) presence(ctx context.Context, conn chat.Conn, jid string, state chat.PresenceState) {
	if err := conn.SendPresence(ctx, jid, state); err != nil {
		log.Debug().Err(err).Str("jid", jid).Str("state", string(state)).Msg("presence update failed")
	}
}

func (g *Gateway) typingDelay(text string) time.Duration {
	d := time.Duration(len(text)) * g.cfg.TypingDelayPerChar
	if d > g.cfg.TypingDelayMax {
		d = g.cfg.TypingDelayMax
	}
	return d
}

func mediaKind(mimeType string) chat.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return chat.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return chat.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return chat.MediaAudio
	default:
		return chat.MediaDocument
	}
}
