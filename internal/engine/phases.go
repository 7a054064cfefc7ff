package engine

import "time"

var PhaseOrder = []Phase{PhaseStart, PhaseMain, PhaseAttack, PhaseEnd}

var mainCategories = []Category{
	CategoryCreature, CategoryStructure, CategoryActionSlow, CategoryEquipment,
	CategoryEnchantment, CategoryArtifact, CategoryRitual,
}

var attackCategories = []Category{CategoryActionFast, CategoryTrap}

func NextPhase(p Phase) Phase {
	for i, q := range PhaseOrder {
		if q == p {
			return PhaseOrder[(i+1)%len(PhaseOrder)]
		}
	}
	return PhaseStart
}

// AllowedCategories returns the window allow-set a phase opens, or nil when
// the phase has no window.
func AllowedCategories(p Phase) []Category {
	switch p {
	case PhaseMain:
		return append([]Category(nil), mainCategories...)
	case PhaseAttack:
		return append([]Category(nil), attackCategories...)
	default:
		return nil
	}
}

// Begin enters the Start phase of turn one.
func (s *MatchState) Begin(now int64, cfg Settings) error {
	s.TurnNumber = 1
	s.ActivePlayer = 0
	return s.enter(PhaseStart, now, cfg)
}

// Advance moves to the next phase. Any open window is closed before the
// phase changes; the turn only flips on End -> Start.
func (s *MatchState) Advance(now int64, cfg Settings) (Transition, error) {
	tr := Transition{From: s.Phase, To: NextPhase(s.Phase)}
	tr.WindowClosed = s.CloseWindow()

	if s.Phase == PhaseEnd {
		s.ActivePlayer = 1 - s.ActivePlayer
		s.TurnNumber++
		tr.TurnAdvanced = true
	}
	return tr, s.enter(tr.To, now, cfg)
}

func (s *MatchState) enter(p Phase, now int64, cfg Settings) error {
	s.Phase = p
	s.PhaseEndsAt = now + cfg.PhaseDuration(p).Milliseconds()

	switch p {
	case PhaseStart:
		s.accrue(cfg.Rules)
	case PhaseMain, PhaseAttack:
		return s.OpenWindow(AllowedCategories(p), now, cfg.WindowDuration(p), cfg.QuickBonus)
	}
	return nil
}

func (s *MatchState) accrue(r Rules) {
	p := &s.Players[s.ActivePlayer]
	p.Energy = min(s.TurnNumber, r.MaxEnergy)
	for color := range p.Mana {
		p.Mana[color] += r.ManaPerTurn
	}
}

// Remaining is the time left in the current phase at now.
func (s *MatchState) Remaining(now int64) time.Duration {
	left := s.PhaseEndsAt - now
	if left < 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}
