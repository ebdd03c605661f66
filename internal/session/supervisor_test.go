package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/chat/chattest"
	"github.com/zapgate/gateway-server-go/internal/creds"
	apperrors "github.com/zapgate/gateway-server-go/internal/errors"
	"github.com/zapgate/gateway-server-go/internal/model"
)

type recordingLedger struct {
	mu       sync.Mutex
	debits   []int64
	credits  []int64
	debitErr error
}

func (l *recordingLedger) Debit(ctx context.Context, ownerID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debitErr != nil {
		return l.debitErr
	}
	l.debits = append(l.debits, amount)
	return nil
}

func (l *recordingLedger) Credit(ctx context.Context, ownerID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits = append(l.credits, amount)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) Publish(ownerID, kind string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *recordingNotifier) has(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BootstrapPollInterval = 2 * time.Millisecond
	cfg.BootstrapPollAttempts = 200
	cfg.BackoffBase = 2 * time.Millisecond
	cfg.BackoffMax = 8 * time.Millisecond
	cfg.RestartDelay = time.Millisecond
	cfg.OperationTimeout = 100 * time.Millisecond
	return cfg
}

type testEnv struct {
	sup      *Supervisor
	dialer   *chattest.Dialer
	ledger   *recordingLedger
	notifier *recordingNotifier
	store    *creds.Store
	root     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	dialer := chattest.NewDialer()
	ledger := &recordingLedger{}
	notifier := &recordingNotifier{}
	store := creds.NewStore(root)

	sup := NewSupervisor(fastConfig(), NewRegistry(), dialer, store, ledger, nil, notifier)
	return &testEnv{sup: sup, dialer: dialer, ledger: ledger, notifier: notifier, store: store, root: root}
}

func TestSupervisorCreate(t *testing.T) {
	t.Run("qr flow", func(t *testing.T) {
		env := newTestEnv(t)
		conn := chattest.NewConn()
		conn.Emit(chat.QRCodeAvailable{Payload: "qr-payload"})
		env.dialer.Queue(conn)

		result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		require.NoError(t, err)

		assert.NotEmpty(t, result.SessionID)
		assert.Equal(t, model.StatusQRPending, result.Status)
		assert.True(t, strings.HasPrefix(result.QRPayload, "data:image/png;base64,"))
		assert.Empty(t, result.PairingCode)

		assert.Equal(t, []int64{10}, env.ledger.debits)
		assert.True(t, env.notifier.has("qr"))

		// Credential dir allocated.
		_, err = os.Stat(filepath.Join(env.root, "owner-1", result.SessionID))
		assert.NoError(t, err)
	})

	t.Run("pairing code flow", func(t *testing.T) {
		env := newTestEnv(t)
		conn := chattest.NewConn()
		conn.Emit(chat.QRCodeAvailable{Payload: "qr-payload"})
		env.dialer.Queue(conn)

		result, err := env.sup.Create(context.Background(), "owner-1", model.PairingCode, "5511987654321")
		require.NoError(t, err)

		assert.Equal(t, model.StatusCodePending, result.Status)
		assert.Equal(t, "ABCD-1234", result.PairingCode)
		assert.Empty(t, result.QRPayload)
		assert.True(t, env.notifier.has("pairing_code"))
	})

	t.Run("code method requires valid phone", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.sup.Create(context.Background(), "owner-1", model.PairingCode, "abc")
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
		assert.Equal(t, 0, env.dialer.DialCount())
		assert.Empty(t, env.ledger.debits)
	})

	t.Run("unknown pairing method rejected", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.sup.Create(context.Background(), "owner-1", model.PairingMethod("sms"), "")
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
	})

	t.Run("insufficient balance blocks provisioning", func(t *testing.T) {
		env := newTestEnv(t)
		env.ledger.debitErr = apperrors.InsufficientBalance()

		_, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		assert.Equal(t, apperrors.ErrCodeInsufficientBalance, apperrors.GetCode(err))
		assert.Equal(t, 0, env.dialer.DialCount())
	})

	t.Run("dial failure refunds and cleans up", func(t *testing.T) {
		env := newTestEnv(t)
		env.dialer.DialErr = assert.AnError

		_, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		assert.Equal(t, apperrors.ErrCodeUpstreamFailure, apperrors.GetCode(err))
		assert.Equal(t, []int64{10}, env.ledger.debits)
		assert.Equal(t, []int64{10}, env.ledger.credits)
		assert.Equal(t, 0, env.sup.Registry().Len())

		// No orphaned credential dirs.
		entries, _ := os.ReadDir(filepath.Join(env.root, "owner-1"))
		assert.Empty(t, entries)
	})

	t.Run("bootstrap timeout returns session without pairing data", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := fastConfig()
		cfg.BootstrapPollAttempts = 3
		env.sup.cfg = cfg

		// The connection never produces a QR payload.
		env.dialer.Queue(chattest.NewConn())

		result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		require.NoError(t, err)
		assert.NotEmpty(t, result.SessionID)
		assert.Equal(t, model.StatusConnecting, result.Status)
		assert.Empty(t, result.QRPayload)
		assert.Empty(t, result.PairingCode)
	})
}

func TestSupervisorGetAndList(t *testing.T) {
	env := newTestEnv(t)
	conn := chattest.NewConn()
	conn.Emit(chat.QRCodeAvailable{Payload: "qr"})
	env.dialer.Queue(conn)

	result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
	require.NoError(t, err)

	t.Run("get owned", func(t *testing.T) {
		summary, err := env.sup.Get("owner-1", result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, result.SessionID, summary.ID)
		assert.Equal(t, "owner-1", summary.OwnerID)
	})

	t.Run("get by the wrong owner reads as missing", func(t *testing.T) {
		_, err := env.sup.Get("owner-2", result.SessionID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := env.sup.Get("owner-1", "nope")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("list filters by owner", func(t *testing.T) {
		assert.Len(t, env.sup.List("owner-1"), 1)
		assert.Empty(t, env.sup.List("owner-2"))
	})
}

func TestSupervisorRemove(t *testing.T) {
	t.Run("tears the session down completely", func(t *testing.T) {
		env := newTestEnv(t)
		conn := chattest.NewConn()
		conn.Emit(chat.QRCodeAvailable{Payload: "qr"})
		env.dialer.Queue(conn)

		result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		require.NoError(t, err)

		require.NoError(t, env.sup.Remove(context.Background(), "owner-1", result.SessionID))

		assert.Equal(t, 0, env.sup.Registry().Len())
		assert.Equal(t, 1, conn.Logouts())
		assert.True(t, conn.Closed())
		assert.True(t, env.notifier.has("session_removed"))

		_, err = os.Stat(filepath.Join(env.root, "owner-1", result.SessionID))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("wrong owner cannot remove", func(t *testing.T) {
		env := newTestEnv(t)
		conn := chattest.NewConn()
		conn.Emit(chat.QRCodeAvailable{Payload: "qr"})
		env.dialer.Queue(conn)

		result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		require.NoError(t, err)

		// Reads as already-removed for the other owner; the session is
		// untouched.
		require.NoError(t, env.sup.Remove(context.Background(), "owner-2", result.SessionID))
		assert.Equal(t, 1, env.sup.Registry().Len())
		assert.False(t, conn.Closed())
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		env := newTestEnv(t)
		conn := chattest.NewConn()
		conn.Emit(chat.QRCodeAvailable{Payload: "qr"})
		env.dialer.Queue(conn)

		result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
		require.NoError(t, err)

		require.NoError(t, env.sup.Remove(context.Background(), "owner-1", result.SessionID))
		require.NoError(t, env.sup.Remove(context.Background(), "owner-1", result.SessionID))
		assert.Equal(t, 0, env.sup.Registry().Len())
	})
}

func TestSupervisorRestart(t *testing.T) {
	env := newTestEnv(t)
	first := chattest.NewConn()
	first.Emit(chat.QRCodeAvailable{Payload: "qr-1"})
	env.dialer.Queue(first)

	result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
	require.NoError(t, err)

	second := chattest.NewConn()
	second.Emit(chat.QRCodeAvailable{Payload: "qr-2"})
	env.dialer.Queue(second)

	restarted, err := env.sup.Restart(context.Background(), "owner-1", result.SessionID)
	require.NoError(t, err)

	assert.Equal(t, result.SessionID, restarted.SessionID)
	assert.Equal(t, 2, env.dialer.DialCount())
	assert.True(t, first.Closed())

	// The new handle is live.
	sess, ok := env.sup.Registry().Get(result.SessionID)
	require.True(t, ok)
	sess.mu.Lock()
	assert.Same(t, second, sess.conn.(*chattest.Conn))
	assert.Equal(t, 0, sess.reconnectAttempts)
	assert.True(t, sess.desiredConnected)
	sess.mu.Unlock()
}

func TestSupervisorSweep(t *testing.T) {
	env := newTestEnv(t)
	conn := chattest.NewConn()
	conn.Emit(chat.QRCodeAvailable{Payload: "qr"})
	env.dialer.Queue(conn)

	result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
	require.NoError(t, err)

	t.Run("live session survives", func(t *testing.T) {
		assert.Equal(t, 0, env.sup.Sweep(context.Background()))
		assert.Equal(t, 1, env.sup.Registry().Len())
	})

	t.Run("dead session is collected", func(t *testing.T) {
		sess, ok := env.sup.Registry().Get(result.SessionID)
		require.True(t, ok)
		sess.mu.Lock()
		sess.status = model.StatusDisconnected
		sess.desiredConnected = false
		sess.mu.Unlock()

		assert.Equal(t, 1, env.sup.Sweep(context.Background()))
		assert.Equal(t, 0, env.sup.Registry().Len())
	})
}

func TestSupervisorRestoreAll(t *testing.T) {
	env := newTestEnv(t)

	registered := creds.Key{OwnerID: "owner-1", SessionID: "sess-registered"}
	handle, err := env.store.Load(registered)
	require.NoError(t, err)
	require.NoError(t, handle.Save(chat.Credentials{Registered: true, Blob: []byte(`{"k":"v"}`)}))

	stale := creds.Key{OwnerID: "owner-1", SessionID: "sess-stale"}
	_, err = env.store.Load(stale)
	require.NoError(t, err)

	require.NoError(t, env.sup.RestoreAll(context.Background()))

	t.Run("registered session resurrected", func(t *testing.T) {
		sess, ok := env.sup.Registry().Get("sess-registered")
		require.True(t, ok)
		assert.Equal(t, "owner-1", sess.OwnerID())
		assert.Equal(t, 1, env.dialer.DialCount())
		require.Len(t, env.dialer.Creds, 1)
		assert.True(t, env.dialer.Creds[0].Registered)
	})

	t.Run("unregistered dir deleted", func(t *testing.T) {
		_, ok := env.sup.Registry().Get("sess-stale")
		assert.False(t, ok)
		_, err := os.Stat(filepath.Join(env.root, "owner-1", "sess-stale"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestSupervisorReconnectSwapsHandles(t *testing.T) {
	env := newTestEnv(t)
	first := chattest.NewConn()
	first.Emit(chat.QRCodeAvailable{Payload: "qr"})
	env.dialer.Queue(first)

	result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
	require.NoError(t, err)

	sess, ok := env.sup.Registry().Get(result.SessionID)
	require.True(t, ok)

	second := chattest.NewConn()
	env.dialer.Queue(second)

	require.NoError(t, env.sup.reconnect(context.Background(), sess))

	sess.mu.Lock()
	assert.Same(t, second, sess.conn.(*chattest.Conn))
	assert.Equal(t, model.StatusConnecting, sess.status)
	sess.mu.Unlock()
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
}

func TestSupervisorReconnectAbortsWhenRemoved(t *testing.T) {
	env := newTestEnv(t)
	first := chattest.NewConn()
	first.Emit(chat.QRCodeAvailable{Payload: "qr"})
	env.dialer.Queue(first)

	result, err := env.sup.Create(context.Background(), "owner-1", model.PairingQR, "")
	require.NoError(t, err)

	sess, ok := env.sup.Registry().Get(result.SessionID)
	require.True(t, ok)
	sess.mu.Lock()
	sess.desiredConnected = false
	sess.mu.Unlock()

	second := chattest.NewConn()
	env.dialer.Queue(second)

	require.NoError(t, env.sup.reconnect(context.Background(), sess))

	// The freshly dialed handle must not leak.
	assert.True(t, second.Closed())
	sess.mu.Lock()
	assert.Same(t, first, sess.conn.(*chattest.Conn))
	sess.mu.Unlock()
}
