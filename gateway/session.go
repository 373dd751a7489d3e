package gateway

import "time"

// SessionState is what the client needs to resume a gateway session.
type SessionState struct {
	Sequence  uint64
	SessionID string
	ResumeURL string
	Resumable bool
}

// CanResume reports whether a RESUME can be sent for this state.
func (s SessionState) CanResume() bool {
	return s.Resumable && s.SessionID != ""
}

// Reset forgets the session so the next handshake is a fresh identify.
func (s *SessionState) Reset() {
	*s = SessionState{}
}

// SessionData is the persisted form of a SessionState.
type SessionData struct {
	SessionID string    `json:"session_id"`
	ResumeURL string    `json:"resume_url"`
	Sequence  uint64    `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionData snapshots a session for storage.
func NewSessionData(state SessionState) *SessionData {
	return &SessionData{
		SessionID: state.SessionID,
		ResumeURL: state.ResumeURL,
		Sequence:  state.Sequence,
		UpdatedAt: time.Now(),
	}
}

// State restores a session from storage. A stored session is resumable only if it
// carries a session id.
func (d *SessionData) State() SessionState {
	return SessionState{
		Sequence:  d.Sequence,
		SessionID: d.SessionID,
		ResumeURL: d.ResumeURL,
		Resumable: d.SessionID != "",
	}
}
