// Package protocol is the wire format shared by the match server and its
// clients. Every frame is one JSON Envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/duel-engine/internal/engine"
)

var ErrMalformed = errors.New("malformed message")

type Type string

// Client -> Server
const (
	TypeReady         Type = "ready"
	TypePlayCard      Type = "play-card"
	TypeResyncRequest Type = "resync-request"
	TypeForceAdvance  Type = "force-advance"
	TypeConcede       Type = "concede"
	TypeAck           Type = "ack"
)

// Server -> Client
const (
	TypeStatePatch    Type = "state-patch"
	TypeStateSnapshot Type = "state-snapshot"
	TypePhaseChanged  Type = "phase-changed"
	TypeTimerTick     Type = "timer-tick"
	TypeMatchEnded    Type = "match-ended"
	TypeRejected      Type = "rejected"
	TypeResyncNudge   Type = "resync-nudge"
)

var clientTypes = map[Type]bool{
	TypeReady: true, TypePlayCard: true, TypeResyncRequest: true,
	TypeForceAdvance: true, TypeConcede: true, TypeAck: true,
}

func (t Type) FromClient() bool { return clientTypes[t] }

type Envelope struct {
	Type    Type            `json:"type"`
	MatchID string          `json:"matchId,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type PlayCard struct {
	CardID        string          `json:"cardId"`
	TargetingInfo json.RawMessage `json:"targetingInfo,omitempty"`
}

// Ack confirms receipt of a message type, currently only match-ended.
type Ack struct {
	Type Type `json:"type"`
}

type Rejected struct {
	Reason engine.Reason `json:"reason"`
	Intent Type          `json:"intent"`
	CardID string        `json:"cardId,omitempty"`
}

type StateSnapshot struct {
	Status string            `json:"status"`
	Seat   int               `json:"seat"`
	State  engine.MatchState `json:"state"`
}

type StatePatch struct {
	Patch engine.Patch `json:"patch"`
	Play  *engine.Play `json:"play,omitempty"`
}

type PhaseChanged struct {
	engine.Transition
	TurnNumber   int   `json:"turnNumber"`
	ActivePlayer int   `json:"activePlayer"`
	PhaseEndsAt  int64 `json:"phaseEndsAt"`
	Forced       bool  `json:"forced,omitempty"`
}

type TimerTick struct {
	Phase       engine.Phase `json:"phase"`
	PhaseEndsAt int64        `json:"phaseEndsAt"`
	RemainingMs int64        `json:"remainingMs"`
	// QuickBonus is true while a play would still earn the quick bonus.
	QuickBonus bool `json:"quickBonus"`
}

type MatchEnded struct {
	Winner       *int   `json:"winner"`
	WinnerUserID string `json:"winnerUserId,omitempty"`
	Reason       string `json:"reason"`
	EndedAt      int64  `json:"endedAt"`
}

type ResyncNudge struct {
	Detail string `json:"detail,omitempty"`
}

// Encode builds one frame. A nil payload produces an envelope without one.
func Encode(t Type, matchID string, seq uint64, payload any) ([]byte, error) {
	env := Envelope{Type: t, MatchID: matchID, Seq: seq}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Unmarshal decodes the envelope payload into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
