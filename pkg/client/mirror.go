package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

// ErrResyncNeeded means the mirror can no longer trust its copy and wants a
// fresh snapshot. It is reported once per gap; frames that arrive before the
// snapshot are dropped.
var ErrResyncNeeded = errors.New("resync needed")

// Mirror is the client's read-only copy of the match. Server frames always
// win; the only local computation is the countdown.
type Mirror struct {
	mu         sync.RWMutex
	synced     bool
	pending    bool
	seat       int
	status     string
	seq        uint64
	state      engine.MatchState
	quickBonus bool
	ended      *protocol.MatchEnded
}

func NewMirror() *Mirror { return &Mirror{} }

// Apply folds one server frame into the mirror.
func (m *Mirror) Apply(env protocol.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch env.Type {
	case protocol.TypeStateSnapshot:
		var snap protocol.StateSnapshot
		if err := env.Unmarshal(&snap); err != nil {
			return m.lost(fmt.Errorf("%w: %v", ErrResyncNeeded, err))
		}
		m.state = snap.State
		m.seat = snap.Seat
		m.status = snap.Status
		m.seq = env.Seq
		m.synced = true
		m.pending = false
		return nil

	case protocol.TypeStatePatch:
		if !m.synced || env.Seq != m.seq+1 {
			return m.lost(fmt.Errorf("%w: patch %d after %d", ErrResyncNeeded, env.Seq, m.seq))
		}
		var p protocol.StatePatch
		if err := env.Unmarshal(&p); err != nil {
			return m.lost(fmt.Errorf("%w: %v", ErrResyncNeeded, err))
		}
		m.state = m.state.Apply(p.Patch)
		m.seq = env.Seq
		return nil

	case protocol.TypeMatchEnded:
		var e protocol.MatchEnded
		if err := env.Unmarshal(&e); err != nil {
			return fmt.Errorf("%w: %v", ErrResyncNeeded, err)
		}
		m.ended = &e
		m.status = "ended"
		return nil
	}

	// Every other frame carries the sequence of the last patch sent.
	if m.synced && env.Seq > m.seq {
		return m.lost(fmt.Errorf("%w: %s at %d after %d", ErrResyncNeeded, env.Type, env.Seq, m.seq))
	}

	switch env.Type {
	case protocol.TypePhaseChanged:
		if m.status != "ended" {
			m.status = "active"
		}
	case protocol.TypeTimerTick:
		var t protocol.TimerTick
		if env.Unmarshal(&t) == nil {
			m.quickBonus = t.QuickBonus
		}
	}
	return nil
}

// lost marks the copy stale. Only the first report of a gap returns err.
func (m *Mirror) lost(err error) error {
	m.synced = false
	if m.pending {
		return nil
	}
	m.pending = true
	return err
}

// ResyncPending is true between a reported gap and the next snapshot.
func (m *Mirror) ResyncPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// State returns a copy of the mirrored state and its sequence number. ok is
// false until a snapshot has been applied or after a gap.
func (m *Mirror) State() (state engine.MatchState, seq uint64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), m.seq, m.synced
}

func (m *Mirror) Seat() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seat
}

func (m *Mirror) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Mirror) QuickBonus() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quickBonus
}

// Ended is nil until the match-ended frame arrives.
func (m *Mirror) Ended() *protocol.MatchEnded {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ended
}

// Remaining interpolates the phase countdown locally.
func (m *Mirror) Remaining(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Remaining(engine.Millis(now))
}
