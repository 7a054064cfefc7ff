package match

import (
	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/internal/results"
	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

type Msg interface{ isSessionMsg() }

// Join registers a connection for a seat and sends it a snapshot. A second
// join for the same seat replaces the first connection.
type Join struct {
	Seat   int
	ConnID string
	Outbox *Outbox
}

func (Join) isSessionMsg() {}

// Leave is ignored unless ConnID is the seat's current connection.
type Leave struct {
	Seat   int
	ConnID string
}

func (Leave) isSessionMsg() {}

type GetView struct {
	Reply chan View
}

func (GetView) isSessionMsg() {}

// ForceAdvance is the admin path to the next phase. Reply may be nil.
type ForceAdvance struct {
	Reply chan error
}

func (ForceAdvance) isSessionMsg() {}

// Shutdown ends the match as aborted and stops the session at once.
type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Intent is one decoded client message, queued per seat.
type Intent struct {
	Seat     int
	Envelope protocol.Envelope
	// Privileged is set by the transport for tokens allowed to force-advance.
	Privileged bool
}

type Status string

const (
	StatusWaiting Status = "waiting-for-ready"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

type View struct {
	MatchID   string
	Status    Status
	Seq       uint64
	State     engine.MatchState
	Ready     [2]bool
	Connected [2]bool
	Result    *results.Result
}
