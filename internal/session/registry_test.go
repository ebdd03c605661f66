package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate/gateway-server-go/internal/model"
)

func TestRegistry(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		reg := NewRegistry()
		sess := newSession("s1", "owner-1", model.PairingQR, "")
		reg.Put(sess)

		got, ok := reg.Get("s1")
		require.True(t, ok)
		assert.Same(t, sess, got)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("get missing", func(t *testing.T) {
		reg := NewRegistry()
		_, ok := reg.Get("nope")
		assert.False(t, ok)
	})

	t.Run("remove", func(t *testing.T) {
		reg := NewRegistry()
		reg.Put(newSession("s1", "owner-1", model.PairingQR, ""))
		reg.Remove("s1")

		_, ok := reg.Get("s1")
		assert.False(t, ok)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("owned filters by owner", func(t *testing.T) {
		reg := NewRegistry()
		reg.Put(newSession("s1", "owner-1", model.PairingQR, ""))
		reg.Put(newSession("s2", "owner-1", model.PairingQR, ""))
		reg.Put(newSession("s3", "owner-2", model.PairingQR, ""))

		assert.Len(t, reg.Owned("owner-1"), 2)
		assert.Len(t, reg.Owned("owner-2"), 1)
		assert.Empty(t, reg.Owned("owner-3"))
		assert.Len(t, reg.All(), 3)
	})
}
