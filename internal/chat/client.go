// Package chat defines the boundary to the external chat network: a Dialer
// that opens authenticated duplex connections and a Conn that exposes
// request/response operations plus a typed asynchronous event stream.
package chat

import (
	"context"

	"github.com/zapgate/gateway-server-go/internal/model"
)

// Credentials is the opaque authentication material the network needs to
// re-open a session without a fresh pairing. Registered reports whether the
// material has completed pairing at least once.
type Credentials struct {
	Registered bool   `json:"registered"`
	Blob       []byte `json:"credentials,omitempty"`
}

// Dialer opens connections to the chat network.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// PresenceState is the presence indication sent to a remote chat.
type PresenceState string

const (
	PresenceSubscribe PresenceState = "subscribe"
	PresenceComposing PresenceState = "composing"
	PresencePaused    PresenceState = "paused"
)

// MediaKind selects the attachment envelope for outbound media.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Media is an outbound attachment. Audio is always a regular audio
// attachment, never a voice note.
type Media struct {
	Kind     MediaKind `json:"kind"`
	Data     []byte    `json:"data"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mimeType"`
	Caption  string    `json:"caption,omitempty"`
}

// IdentityResult is the answer to an existence probe for a raw number.
type IdentityResult struct {
	Exists       bool   `json:"exists"`
	JID          string `json:"jid,omitempty"`
	VerifiedName string `json:"verifiedName,omitempty"`
}

// Conn is one live connection handle. Events() yields the per-connection
// event stream in network order; the channel is closed when the connection
// is torn down. All other methods are network round-trips.
type Conn interface {
	Events() <-chan Event

	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)
	CheckIdentity(ctx context.Context, number string) (IdentityResult, error)
	FetchStatusText(ctx context.Context, jid string) (string, error)
	FetchProfilePicture(ctx context.Context, jid string, preview bool) (string, error)
	FetchBusinessProfile(ctx context.Context, jid string) (*model.BusinessProfile, error)
	FetchAllGroups(ctx context.Context) ([]model.Group, error)
	SendText(ctx context.Context, jid string, text string) error
	SendMedia(ctx context.Context, jid string, media Media) error
	SendPresence(ctx context.Context, jid string, state PresenceState) error

	// SelfJID returns the authenticated identity, empty until connected.
	SelfJID() string

	Logout(ctx context.Context) error
	Close() error
}
