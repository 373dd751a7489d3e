package gateway

import (
	"golang.org/x/text/language"
)

// ClientProperties describe the client in IDENTIFY.
type ClientProperties struct {
	OS                string  `json:"os"`
	OSVersion         string  `json:"os_version"`
	OSArch            string  `json:"os_arch"`
	Device            string  `json:"device"`
	SystemLocale      string  `json:"system_locale"`
	Browser           string  `json:"browser"`
	BrowserUserAgent  string  `json:"browser_user_agent"`
	BrowserVersion    string  `json:"browser_version"`
	ReleaseChannel    string  `json:"release_channel"`
	ClientBuildNumber int     `json:"client_build_number"`
	ClientEventSource *string `json:"client_event_source"`
}

const (
	// "Discord Client" shows as desktop, "Discord Android"/"Discord iOS" as mobile,
	// anything else as web.
	DEFAULT_BROWSER         = "Discord Client"
	DEFAULT_USER_AGENT      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	DEFAULT_BROWSER_VER     = "121.0.0.0"
	DEFAULT_BUILD_NUMBER    = 266159
	DEFAULT_RELEASE_CHANNEL = "stable"
)

// DefaultProperties returns desktop client properties for the given locale.
func DefaultProperties(locale language.Tag) ClientProperties {
	base, _ := locale.Base()
	return ClientProperties{
		OS:                "Windows",
		OSVersion:         "10.0.19045",
		OSArch:            "x64",
		Device:            "",
		SystemLocale:      base.String(),
		Browser:           DEFAULT_BROWSER,
		BrowserUserAgent:  DEFAULT_USER_AGENT,
		BrowserVersion:    DEFAULT_BROWSER_VER,
		ReleaseChannel:    DEFAULT_RELEASE_CHANNEL,
		ClientBuildNumber: DEFAULT_BUILD_NUMBER,
	}
}

// Identity is the per-process login material. It never changes between sessions.
type Identity struct {
	Token        string
	Capabilities Capability
	Properties   ClientProperties
}

// NewIdentity builds an identity with the default capabilities and English properties.
func NewIdentity(token string) Identity {
	return Identity{
		Token:        token,
		Capabilities: DefaultCapabilities,
		Properties:   DefaultProperties(language.English),
	}
}

type Presence struct {
	Status     string `json:"status"`
	Since      int64  `json:"since"`
	Activities []any  `json:"activities"`
	AFK        bool   `json:"afk"`
	Broadcast  any    `json:"broadcast"`
}

type ClientState struct {
	GuildVersions            map[string]any `json:"guild_versions"`
	HighestLastMessageID     int64          `json:"highest_last_message_id"`
	ReadStateVersion         int            `json:"read_state_version"`
	UserGuildSettingsVersion int            `json:"user_guild_settings_version"`
	UserSettingsVersion      *int           `json:"user_settings_version"`
	PrivateChannelsVersion   int            `json:"private_channels_version"`
	APICodeVersion           int            `json:"api_code_version"`
	InitialGuildID           *string        `json:"initial_guild_id"`
}

// IdentifyPayload is the d field of an IDENTIFY frame.
type IdentifyPayload struct {
	Token        string           `json:"token"`
	Capabilities Capability       `json:"capabilities"`
	Properties   ClientProperties `json:"properties"`
	Presence     Presence         `json:"presence"`
	Compress     bool             `json:"compress"`
	ClientState  ClientState      `json:"client_state"`
}

// ResumePayload is the d field of a RESUME frame.
type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  uint64 `json:"seq"`
}

// BuildIdentify returns a fresh IDENTIFY payload. The session state is not consulted;
// identify always starts a new session.
func BuildIdentify(id Identity, _ SessionState) IdentifyPayload {
	return IdentifyPayload{
		Token:        id.Token,
		Capabilities: id.Capabilities,
		Properties:   id.Properties,
		Presence: Presence{
			Status:     "unknown",
			Since:      0,
			Activities: []any{},
			AFK:        false,
		},
		Compress: false,
		ClientState: ClientState{
			GuildVersions:            map[string]any{},
			UserGuildSettingsVersion: -1,
		},
	}
}

// BuildResume returns a RESUME payload for state, or ErrNotResumable.
func BuildResume(id Identity, state SessionState) (ResumePayload, error) {
	if !state.CanResume() {
		return ResumePayload{}, ErrNotResumable
	}
	return ResumePayload{
		Token:     id.Token,
		SessionID: state.SessionID,
		Sequence:  state.Sequence,
	}, nil
}
