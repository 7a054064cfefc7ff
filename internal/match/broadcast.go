package match

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

func (s *Session) encode(t protocol.Type, payload any) []byte {
	frame, err := protocol.Encode(t, s.id, s.seq, payload)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err), zap.String("type", string(t)))
		return nil
	}
	return frame
}

// send queues a frame that must arrive. An overflowing outbox is closed and
// the transport reports the Leave.
func (s *Session) send(seat int, frame []byte) {
	c := s.conns[seat]
	if c == nil || frame == nil {
		return
	}
	if !c.out.Push(frame) {
		s.log.Warn("send queue overflow", zap.Int("seat", seat), zap.String("conn_id", c.id))
	}
}

func (s *Session) broadcast(frame []byte) {
	for seat := range s.conns {
		s.send(seat, frame)
	}
}

func (s *Session) sendSnapshot(seat int) {
	s.send(seat, s.encode(protocol.TypeStateSnapshot, protocol.StateSnapshot{
		Status: string(s.status),
		Seat:   seat,
		State:  s.state,
	}))
}

// broadcastPatch sends the diff since prev under the next sequence number.
func (s *Session) broadcastPatch(prev engine.MatchState, play *engine.Play) {
	patch := engine.Diff(prev, s.state)
	if patch.Empty() && play == nil {
		return
	}
	s.seq++
	s.broadcast(s.encode(protocol.TypeStatePatch, protocol.StatePatch{Patch: patch, Play: play}))
}

func (s *Session) broadcastPhase(tr engine.Transition, forced bool) {
	s.broadcast(s.encode(protocol.TypePhaseChanged, protocol.PhaseChanged{
		Transition:   tr,
		TurnNumber:   s.state.TurnNumber,
		ActivePlayer: s.state.ActivePlayer,
		PhaseEndsAt:  s.state.PhaseEndsAt,
		Forced:       forced,
	}))
}

// tick is best-effort: a full queue skips the tick rather than dropping the
// connection.
func (s *Session) tick() {
	now := s.nowMs()
	frame := s.encode(protocol.TypeTimerTick, protocol.TimerTick{
		Phase:       s.state.Phase,
		PhaseEndsAt: s.state.PhaseEndsAt,
		RemainingMs: s.state.Remaining(now).Milliseconds(),
		QuickBonus:  s.state.InQuickBonus(now),
	})
	if frame == nil {
		return
	}
	for _, c := range s.conns {
		if c != nil {
			c.out.Offer(frame)
		}
	}
}

func (s *Session) sendResult(seat int) {
	if s.result == nil {
		return
	}
	s.send(seat, s.encode(protocol.TypeMatchEnded, protocol.MatchEnded{
		Winner:       s.result.Winner,
		WinnerUserID: s.result.WinnerUserID,
		Reason:       s.result.Reason,
		EndedAt:      engine.Millis(s.result.EndedAt),
	}))
}

func (s *Session) reject(seat int, intent protocol.Type, reason engine.Reason, cardID string) {
	s.metrics.Rejected(string(reason))
	s.log.Debug("intent rejected",
		zap.Int("seat", seat),
		zap.String("intent", string(intent)),
		zap.String("reason", string(reason)),
	)
	s.send(seat, s.encode(protocol.TypeRejected, protocol.Rejected{
		Reason: reason,
		Intent: intent,
		CardID: cardID,
	}))
}

func (s *Session) nudge(seat int, detail string) {
	s.send(seat, s.encode(protocol.TypeResyncNudge, protocol.ResyncNudge{Detail: detail}))
}
