package engine

import (
	"maps"
	"slices"
)

// Patch is a field-granular diff between two states. Nil fields are
// unchanged. Zones are replaced whole.
type Patch struct {
	TurnNumber   *int                 `json:"turnNumber,omitempty"`
	ActivePlayer *int                 `json:"activePlayer,omitempty"`
	Phase        *Phase               `json:"phase,omitempty"`
	PhaseEndsAt  *int64               `json:"phaseEndsAt,omitempty"`
	Window       *WindowPatch         `json:"window,omitempty"`
	Players      map[int]*PlayerPatch `json:"players,omitempty"`
}

// WindowPatch replaces the play window; a nil Window means it closed.
type WindowPatch struct {
	Window *PlayWindow `json:"playWindow"`
}

type PlayerPatch struct {
	Health      *int            `json:"health,omitempty"`
	Energy      *int            `json:"energy,omitempty"`
	Mana        *map[string]int `json:"mana,omitempty"`
	Hand        *[]CardInstance `json:"hand,omitempty"`
	Battlefield *[]CardInstance `json:"battlefield,omitempty"`
	Equipment   *[]CardInstance `json:"equipment,omitempty"`
}

func (p Patch) Empty() bool {
	return p.TurnNumber == nil && p.ActivePlayer == nil && p.Phase == nil &&
		p.PhaseEndsAt == nil && p.Window == nil && len(p.Players) == 0
}

// Diff returns the patch that turns prev into next. The patch owns its data.
func Diff(prev, next MatchState) Patch {
	var p Patch
	if prev.TurnNumber != next.TurnNumber {
		p.TurnNumber = ptr(next.TurnNumber)
	}
	if prev.ActivePlayer != next.ActivePlayer {
		p.ActivePlayer = ptr(next.ActivePlayer)
	}
	if prev.Phase != next.Phase {
		p.Phase = ptr(next.Phase)
	}
	if prev.PhaseEndsAt != next.PhaseEndsAt {
		p.PhaseEndsAt = ptr(next.PhaseEndsAt)
	}
	if !windowEqual(prev.PlayWindow, next.PlayWindow) {
		wp := &WindowPatch{}
		if next.PlayWindow != nil {
			w := *next.PlayWindow
			w.Allowed = slices.Clone(w.Allowed)
			wp.Window = &w
		}
		p.Window = wp
	}

	for seat := range next.Players {
		if pp := diffPlayer(prev.Players[seat], next.Players[seat]); pp != nil {
			if p.Players == nil {
				p.Players = map[int]*PlayerPatch{}
			}
			p.Players[seat] = pp
		}
	}
	return p
}

func diffPlayer(a, b PlayerState) *PlayerPatch {
	var pp PlayerPatch
	changed := false
	if a.Health != b.Health {
		pp.Health, changed = ptr(b.Health), true
	}
	if a.Energy != b.Energy {
		pp.Energy, changed = ptr(b.Energy), true
	}
	if !maps.Equal(a.Mana, b.Mana) {
		pp.Mana, changed = ptr(cloneMana(b.Mana)), true
	}
	if !slices.Equal(a.Hand, b.Hand) {
		pp.Hand, changed = ptr(cloneCards(b.Hand)), true
	}
	if !slices.Equal(a.Battlefield, b.Battlefield) {
		pp.Battlefield, changed = ptr(cloneCards(b.Battlefield)), true
	}
	if !slices.Equal(a.Equipment, b.Equipment) {
		pp.Equipment, changed = ptr(cloneCards(b.Equipment)), true
	}
	if !changed {
		return nil
	}
	return &pp
}

// Apply returns s with p applied. s is not modified.
func (s MatchState) Apply(p Patch) MatchState {
	out := s.Clone()
	if p.TurnNumber != nil {
		out.TurnNumber = *p.TurnNumber
	}
	if p.ActivePlayer != nil {
		out.ActivePlayer = *p.ActivePlayer
	}
	if p.Phase != nil {
		out.Phase = *p.Phase
	}
	if p.PhaseEndsAt != nil {
		out.PhaseEndsAt = *p.PhaseEndsAt
	}
	if p.Window != nil {
		out.PlayWindow = nil
		if p.Window.Window != nil {
			w := *p.Window.Window
			w.Allowed = slices.Clone(w.Allowed)
			out.PlayWindow = &w
		}
	}

	for seat, pp := range p.Players {
		if pp == nil || seat < 0 || seat >= len(out.Players) {
			continue
		}
		pl := &out.Players[seat]
		if pp.Health != nil {
			pl.Health = *pp.Health
		}
		if pp.Energy != nil {
			pl.Energy = *pp.Energy
		}
		if pp.Mana != nil {
			pl.Mana = cloneMana(*pp.Mana)
		}
		if pp.Hand != nil {
			pl.Hand = cloneCards(*pp.Hand)
		}
		if pp.Battlefield != nil {
			pl.Battlefield = cloneCards(*pp.Battlefield)
		}
		if pp.Equipment != nil {
			pl.Equipment = cloneCards(*pp.Equipment)
		}
	}
	return out
}

func windowEqual(a, b *PlayWindow) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.OpensAt == b.OpensAt && a.ClosesAt == b.ClosesAt &&
		a.QuickBonusUntil == b.QuickBonusUntil && slices.Equal(a.Allowed, b.Allowed)
}

func ptr[T any](v T) *T { return &v }
