package chat

// DisconnectCause is the coded reason the network supplied when a
// connection closed. It drives the retry-vs-permanent classification.
type DisconnectCause string

const (
	CauseLoggedOut           DisconnectCause = "logged_out"
	CauseBadSession          DisconnectCause = "bad_session"
	CauseMultideviceMismatch DisconnectCause = "multidevice_mismatch"
	CauseUnauthorized        DisconnectCause = "unauthorized"
	CauseForbidden           DisconnectCause = "forbidden"
	CausePreconditionFailed  DisconnectCause = "precondition_failed"
	CauseRestartRequired     DisconnectCause = "restart_required"
	CauseConnectionLost      DisconnectCause = "connection_lost"
	CauseTimedOut            DisconnectCause = "timed_out"
	CauseUnknown             DisconnectCause = "unknown"
)

// Permanent reports whether reconnecting with the same credentials can ever
// succeed. Permanent causes end the session; everything else is retryable.
func (c DisconnectCause) Permanent() bool {
	switch c {
	case CauseLoggedOut, CauseBadSession, CauseMultideviceMismatch,
		CauseUnauthorized, CauseForbidden, CausePreconditionFailed:
		return true
	}
	return false
}

// ParseCause normalizes a cause string from the wire; unrecognized values
// map to CauseUnknown, which is treated as retryable.
func ParseCause(s string) DisconnectCause {
	switch DisconnectCause(s) {
	case CauseLoggedOut, CauseBadSession, CauseMultideviceMismatch,
		CauseUnauthorized, CauseForbidden, CausePreconditionFailed,
		CauseRestartRequired, CauseConnectionLost, CauseTimedOut:
		return DisconnectCause(s)
	}
	return CauseUnknown
}
