package match

import "time"

// arm replaces any timer of the same kind and seat. The generation lets the
// loop drop a firing that was already queued when the timer was replaced.
func (s *Session) arm(kind timerKind, seat int, d time.Duration) {
	s.disarm(kind, seat)
	s.gen++
	ev := timerFired{key: timerKey{kind: kind, seat: seat}, gen: s.gen}
	a := &armed{gen: ev.gen}
	a.t = time.AfterFunc(max(d, 0), func() {
		select {
		case s.fired <- ev:
		case <-s.done:
		}
	})
	s.timers[ev.key] = a
}

func (s *Session) disarm(kind timerKind, seat int) {
	key := timerKey{kind: kind, seat: seat}
	if a, ok := s.timers[key]; ok {
		a.t.Stop()
		delete(s.timers, key)
	}
}

func (s *Session) disarmAll() {
	for key, a := range s.timers {
		a.t.Stop()
		delete(s.timers, key)
	}
}
