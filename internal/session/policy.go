package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/model"
)

// reconnector is the narrow supervisor capability the policy needs: recreate
// the connection handle from persisted credentials and swap it in.
type reconnector interface {
	reconnect(ctx context.Context, sess *Session) error
}

// ReconnectionPolicy classifies disconnect causes and schedules retries.
// Each session has at most one outstanding retry timer; scheduling a new one
// supersedes any pending timer.
type ReconnectionPolicy struct {
	cfg Config
	rec reconnector
}

func newReconnectionPolicy(cfg Config, rec reconnector) *ReconnectionPolicy {
	return &ReconnectionPolicy{cfg: cfg, rec: rec}
}

// HandleDisconnect applies the decision table, in priority order:
// restart-required forces an immediate resurrection; permanent causes end
// the session; otherwise retry with exponential backoff until attempts run
// out.
func (p *ReconnectionPolicy) HandleDisconnect(sess *Session, cause chat.DisconnectCause) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch {
	case cause == chat.CauseRestartRequired:
		sess.desiredConnected = true
		p.scheduleLocked(sess, p.cfg.RestartDelay)
		log.Info().Str("sessionId", sess.id).Msg("network requested restart, scheduling immediate resurrection")

	case cause.Permanent():
		sess.desiredConnected = false
		sess.cancelRetryLocked()
		log.Info().
			Str("sessionId", sess.id).
			Str("cause", string(cause)).
			Msg("permanent disconnect, session will not be retried")

	case sess.desiredConnected && sess.reconnectAttempts < p.cfg.MaxReconnectAttempts:
		delay := p.Delay(sess.reconnectAttempts)
		p.scheduleLocked(sess, delay)
		log.Info().
			Str("sessionId", sess.id).
			Int("attempts", sess.reconnectAttempts).
			Dur("delay", delay).
			Msg("scheduling reconnect")

	default:
		sess.desiredConnected = false
		log.Warn().
			Str("sessionId", sess.id).
			Int("attempts", sess.reconnectAttempts).
			Msg("reconnect attempts exhausted")
	}
}

// Delay computes the backoff for the given attempt count:
// base × 2^min(attempts, expCap), capped at BackoffMax.
func (p *ReconnectionPolicy) Delay(attempts int) time.Duration {
	exp := attempts
	if exp > p.cfg.BackoffExpCap {
		exp = p.cfg.BackoffExpCap
	}
	d := p.cfg.BackoffBase << uint(exp)
	if d > p.cfg.BackoffMax {
		d = p.cfg.BackoffMax
	}
	return d
}

func (p *ReconnectionPolicy) scheduleLocked(sess *Session, delay time.Duration) {
	sess.cancelRetryLocked()
	sess.retryTimer = time.AfterFunc(delay, func() { p.fire(sess) })
}

// fire runs when a retry timer elapses. The session may have been removed or
// reconnected through another path in the meantime, so intent and status are
// re-checked before acting; the attempt counter increments only here, when
// the retry actually runs.
func (p *ReconnectionPolicy) fire(sess *Session) {
	sess.mu.Lock()
	sess.retryTimer = nil
	if !sess.desiredConnected || sess.status != model.StatusDisconnected {
		sess.mu.Unlock()
		return
	}
	sess.reconnectAttempts++
	attempt := sess.reconnectAttempts
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OperationTimeout)
	defer cancel()

	if err := p.rec.reconnect(ctx, sess); err != nil {
		log.Error().
			Err(err).
			Str("sessionId", sess.id).
			Int("attempt", attempt).
			Msg("reconnect attempt failed")
		// Treated as another disconnect cycle, not propagated.
		p.HandleDisconnect(sess, chat.CauseConnectionLost)
	}
}
