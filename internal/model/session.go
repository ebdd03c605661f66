package model

import "time"

type SessionStatus string

const (
	StatusConnecting   SessionStatus = "connecting"
	StatusQRPending    SessionStatus = "qr_pending"
	StatusCodePending  SessionStatus = "code_pending"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
)

type PairingMethod string

const (
	PairingQR   PairingMethod = "qr"
	PairingCode PairingMethod = "code"
)

// SessionSummary is the externally visible snapshot of a live session.
// QRPayload and PairingCode are transient: present only while the session is
// waiting to be paired.
type SessionSummary struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"ownerId"`
	Status            SessionStatus `json:"status"`
	PairingMethod     PairingMethod `json:"pairingMethod"`
	PhoneNumber       string        `json:"phoneNumber,omitempty"`
	QRPayload         string        `json:"qr,omitempty"`
	PairingCode       string        `json:"pairingCode,omitempty"`
	RemoteNumber      string        `json:"remoteNumber,omitempty"`
	ProfilePictureURL string        `json:"profilePictureUrl,omitempty"`
	ReconnectAttempts int           `json:"reconnectAttempts"`
	CreatedAt         time.Time     `json:"createdAt"`
	LastActivityAt    time.Time     `json:"lastActivityAt"`
}
