package gateway

import (
	"encoding/json"
	"strconv"
)

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpDispatch                           Opcode = 0
	OpHeartbeat                          Opcode = 1
	OpIdentify                           Opcode = 2
	OpPresenceUpdate                     Opcode = 3
	OpVoiceStateUpdate                   Opcode = 4
	OpVoiceServerPing                    Opcode = 5
	OpResume                             Opcode = 6
	OpReconnect                          Opcode = 7
	OpRequestGuildMembers                Opcode = 8
	OpInvalidSession                     Opcode = 9
	OpHello                              Opcode = 10
	OpHeartbeatAck                       Opcode = 11
	OpGuildSync                          Opcode = 12 // deprecated
	OpCallConnect                        Opcode = 13
	OpGuildSubscriptions                 Opcode = 14
	OpLobbyConnect                       Opcode = 15
	OpLobbyDisconnect                    Opcode = 16
	OpLobbyVoiceStatesUpdate             Opcode = 17
	OpStreamCreate                       Opcode = 18
	OpStreamDelete                       Opcode = 19
	OpStreamWatch                        Opcode = 20
	OpStreamPing                         Opcode = 21
	OpStreamSetPaused                    Opcode = 22
	OpLFGSubscriptions                   Opcode = 23 // deprecated
	OpRequestGuildApplicationCommands    Opcode = 24 // deprecated
	OpEmbeddedActivityLaunch             Opcode = 25
	OpEmbeddedActivityClose              Opcode = 26
	OpEmbeddedActivityUpdate             Opcode = 27
	OpRequestForumUnreads                Opcode = 28
	OpRemoteCommand                      Opcode = 29
	OpGetDeletedEntityIDsNotMatchingHash Opcode = 30
	OpRequestSoundboardSounds            Opcode = 31
	OpSpeedTestCreate                    Opcode = 32
	OpSpeedTestDelete                    Opcode = 33
	OpRequestLastMessages                Opcode = 34
	OpSearchRecentMembers                Opcode = 35
	OpRequestChannelStatuses             Opcode = 36
	OpGuildSubscriptionsBulk             Opcode = 37
)

var opcodeNames = map[Opcode]string{
	OpDispatch:            "DISPATCH",
	OpHeartbeat:           "HEARTBEAT",
	OpIdentify:            "IDENTIFY",
	OpPresenceUpdate:      "PRESENCE_UPDATE",
	OpVoiceStateUpdate:    "VOICE_STATE_UPDATE",
	OpResume:              "RESUME",
	OpReconnect:           "RECONNECT",
	OpRequestGuildMembers: "REQUEST_GUILD_MEMBERS",
	OpInvalidSession:      "INVALID_SESSION",
	OpHello:               "HELLO",
	OpHeartbeatAck:        "HEARTBEAT_ACK",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "OP_" + strconv.Itoa(int(op))
}

// Close codes sent by the gateway.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSequence      = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// Close codes sent by the client.
const (
	// CloseGoingOffline ends the session; the gateway will not accept a resume.
	CloseGoingOffline = 1000
	// CloseServiceRestart is used when the gateway asks us to reconnect.
	CloseServiceRestart = 1012
	// CloseZombieConnection is used when a heartbeat was never acknowledged.
	CloseZombieConnection = 3000
)

// Capability is a bit in the identify capabilities mask.
type Capability uint32

const (
	CapLazyUserNotes                      Capability = 1 << 0
	CapNoAffineUserIDs                    Capability = 1 << 1
	CapVersionedReadStates                Capability = 1 << 2
	CapVersionedUserGuildSettings         Capability = 1 << 3
	CapDedupeUserObjects                  Capability = 1 << 4
	CapPrioritizedReadyPayload            Capability = 1 << 5
	CapMultipleGuildExperimentPopulations Capability = 1 << 6
	CapNonChannelReadStates               Capability = 1 << 7
	CapAuthTokenRefresh                   Capability = 1 << 8
	CapUserSettingsProto                  Capability = 1 << 9
	CapClientStateV2                      Capability = 1 << 10
	CapPassiveGuildUpdate                 Capability = 1 << 11
	CapUnknown12                          Capability = 1 << 12
	CapUnknown13                          Capability = 1 << 13
)

// DefaultCapabilities is what the desktop client currently sends (16381).
const DefaultCapabilities = CapLazyUserNotes |
	CapVersionedReadStates |
	CapVersionedUserGuildSettings |
	CapDedupeUserObjects |
	CapPrioritizedReadyPayload |
	CapMultipleGuildExperimentPopulations |
	CapNonChannelReadStates |
	CapAuthTokenRefresh |
	CapUserSettingsProto |
	CapClientStateV2 |
	CapPassiveGuildUpdate |
	CapUnknown12 |
	CapUnknown13

// ConnectionStatus is a coarse view of the client for reporting.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReady
	StatusReconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReady:
		return "ready"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Envelope is a frame received from the gateway.
type Envelope struct {
	Op       Opcode          `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *uint64         `json:"s"`
	Type     *string         `json:"t"`
}

// outgoing is a frame sent to the gateway.
type outgoing struct {
	Op   Opcode `json:"op"`
	Data any    `json:"d"`
}

// Event is a dispatch delivered to an EventHandler.
type Event struct {
	Name     string
	Sequence uint64
	Data     json.RawMessage
}

type helloPayload struct {
	HeartbeatInterval uint32 `json:"heartbeat_interval"`
}

type readyPayload struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}
