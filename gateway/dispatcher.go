package gateway

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// State is the part of the client that inbound frames read and write.
type State struct {
	Session SessionState
	Ready   bool
}

// effect is a side effect requested by an opcode handler. The client performs
// them in order after the state has been committed.
type effect interface{ isEffect() }

type startHeartbeat struct{ interval time.Duration }

type sendIdentify struct{}

type sendResume struct{}

type emitEvent struct{ event Event }

type closeConn struct {
	code   int
	reason string
}

type ackHeartbeat struct{}

type beatNow struct{}

type persistSession struct{}

// ignoredPayload reports a payload that could not be decoded and was replaced
// by its zero value.
type ignoredPayload struct {
	op  Opcode
	err error
}

func (startHeartbeat) isEffect() {}
func (sendIdentify) isEffect()   {}
func (sendResume) isEffect()     {}
func (emitEvent) isEffect()      {}
func (closeConn) isEffect()      {}
func (ackHeartbeat) isEffect()   {}
func (beatNow) isEffect()        {}
func (persistSession) isEffect() {}
func (ignoredPayload) isEffect() {}

type opHandler func(State, Envelope) (State, []effect, error)

var opHandlers = map[Opcode]opHandler{
	OpHello:          handleHello,
	OpDispatch:       handleDispatch,
	OpInvalidSession: handleInvalidSession,
	OpReconnect:      handleReconnect,
	OpHeartbeatAck:   handleHeartbeatAck,
	OpHeartbeat:      handleHeartbeatRequest,
}

// decodeEnvelope parses a raw gateway frame.
func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode gateway envelope")
	}
	return env, nil
}

// route applies one inbound frame to state. Unknown opcodes leave the state
// untouched apart from the sequence number. On error the returned state still
// carries the updated sequence and no effects are requested.
func route(state State, env Envelope) (State, []effect, error) {
	if env.Sequence != nil {
		state.Session.Sequence = *env.Sequence
	}

	handler, ok := opHandlers[env.Op]
	if !ok {
		return state, nil, nil
	}

	next, effects, err := handler(state, env)
	if err != nil {
		return state, nil, errors.Wrapf(err, "handle %s", env.Op)
	}
	return next, effects, nil
}

func handleHello(state State, env Envelope) (State, []effect, error) {
	var hello helloPayload
	if err := json.Unmarshal(env.Data, &hello); err != nil {
		return state, nil, err
	}
	if hello.HeartbeatInterval == 0 {
		return state, nil, errors.New("missing heartbeat_interval")
	}

	effects := []effect{startHeartbeat{interval: time.Duration(hello.HeartbeatInterval) * time.Millisecond}}
	if state.Session.CanResume() {
		return state, append(effects, sendResume{}), nil
	}

	state.Session.Reset()
	return state, append(effects, sendIdentify{}), nil
}

func handleDispatch(state State, env Envelope) (State, []effect, error) {
	name := ""
	if env.Type != nil {
		name = *env.Type
	}

	var effects []effect
	switch name {
	case "READY":
		var ready readyPayload
		if err := json.Unmarshal(env.Data, &ready); err != nil {
			return state, nil, err
		}
		if ready.SessionID == "" {
			return state, nil, errors.New("READY without session_id")
		}
		state.Session.SessionID = ready.SessionID
		state.Session.ResumeURL = ready.ResumeGatewayURL
		state.Session.Resumable = true
		state.Ready = true
		effects = append(effects, persistSession{})
	case "RESUMED":
		state.Ready = true
		effects = append(effects, persistSession{})
	}

	effects = append(effects, emitEvent{event: Event{
		Name:     name,
		Sequence: state.Session.Sequence,
		Data:     env.Data,
	}})
	return state, effects, nil
}

func handleInvalidSession(state State, env Envelope) (State, []effect, error) {
	// d is a boolean; anything else is treated as not resumable.
	var effects []effect
	var resumable bool
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &resumable); err != nil {
			effects = append(effects, ignoredPayload{op: env.Op, err: errors.Wrap(err, "decode invalid session flag")})
		}
	}

	state.Ready = false
	if resumable && state.Session.CanResume() {
		return state, append(effects, sendResume{}), nil
	}

	state.Session.Reset()
	return state, append(effects, persistSession{}, sendIdentify{}), nil
}

func handleReconnect(state State, _ Envelope) (State, []effect, error) {
	return state, []effect{closeConn{code: CloseServiceRestart, reason: "reconnect requested"}}, nil
}

func handleHeartbeatAck(state State, _ Envelope) (State, []effect, error) {
	return state, []effect{ackHeartbeat{}}, nil
}

func handleHeartbeatRequest(state State, _ Envelope) (State, []effect, error) {
	return state, []effect{beatNow{}}, nil
}
