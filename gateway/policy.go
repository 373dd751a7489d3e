package gateway

// CloseClass tells the reconnect loop what to do after a close code.
type CloseClass int

const (
	// CloseResumable reconnects and keeps the session.
	CloseResumable CloseClass = iota
	// CloseInvalidated reconnects with a fresh identify.
	CloseInvalidated
	// CloseFatal stops reconnecting.
	CloseFatal
)

func (c CloseClass) String() string {
	switch c {
	case CloseInvalidated:
		return "invalidated"
	case CloseFatal:
		return "fatal"
	default:
		return "resumable"
	}
}

// ClassifyClose maps a close code to its reconnect class.
func ClassifyClose(code int) CloseClass {
	switch code {
	case CloseNotAuthenticated,
		CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return CloseFatal
	}
	if code >= 4000 && code <= 4999 {
		return CloseInvalidated
	}
	return CloseResumable
}
