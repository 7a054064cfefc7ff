package engine

import (
	"slices"
	"time"
)

// OpenWindow opens a play window at now. It leaves state untouched and
// returns ErrWindowOpen if a window is already open.
func (s *MatchState) OpenWindow(allowed []Category, now int64, d, quick time.Duration) error {
	if s.PlayWindow != nil {
		return ErrWindowOpen
	}
	if d < 0 {
		d = 0
	}
	quick = min(max(quick, 0), d)

	sorted := slices.Clone(allowed)
	slices.Sort(sorted)
	s.PlayWindow = &PlayWindow{
		Allowed:         slices.Compact(sorted),
		OpensAt:         now,
		ClosesAt:        now + d.Milliseconds(),
		QuickBonusUntil: now + quick.Milliseconds(),
	}
	return nil
}

// CloseWindow reports whether a window was actually closed.
func (s *MatchState) CloseWindow() bool {
	if s.PlayWindow == nil {
		return false
	}
	s.PlayWindow = nil
	return true
}

func (s *MatchState) IsPlayable(c Category) bool {
	return s.PlayWindow.Allows(c)
}

func (s *MatchState) InQuickBonus(now int64) bool {
	w := s.PlayWindow
	return w != nil && now >= w.OpensAt && now < w.QuickBonusUntil
}
