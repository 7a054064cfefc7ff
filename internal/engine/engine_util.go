package engine

import (
	"fmt"
	"maps"
	"slices"
)

// PlayerSetup is one seat's starting position. Cards without a zone start in
// the hand.
type PlayerSetup struct {
	UserID string
	Cards  []CardInstance
	Mana   map[string]int
}

func NewMatchState(matchID string, seats [2]PlayerSetup, r Rules) (MatchState, error) {
	s := MatchState{
		MatchID:      matchID,
		TurnNumber:   1,
		ActivePlayer: 0,
		Phase:        PhaseStart,
	}

	seen := map[string]bool{}
	for seat, setup := range seats {
		p := PlayerState{
			UserID:      setup.UserID,
			Health:      r.StartingHealth,
			Mana:        map[string]int{},
			Hand:        []CardInstance{},
			Battlefield: []CardInstance{},
			Equipment:   []CardInstance{},
		}
		maps.Copy(p.Mana, setup.Mana)

		for _, c := range setup.Cards {
			if seen[c.CardID] {
				return MatchState{}, fmt.Errorf("%w: %s", ErrDuplicateCard, c.CardID)
			}
			seen[c.CardID] = true
			if _, err := ParseCategory(string(c.Category)); err != nil {
				return MatchState{}, fmt.Errorf("card %s: %w", c.CardID, err)
			}
			c.OwnerID = seat

			switch c.Zone {
			case "", ZoneHand:
				c.Zone = ZoneHand
				p.Hand = append(p.Hand, c)
			case ZoneBattlefield:
				p.Battlefield = append(p.Battlefield, c)
			case ZoneEquipment:
				p.Equipment = append(p.Equipment, c)
			default:
				return MatchState{}, fmt.Errorf("card %s: %w %q", c.CardID, ErrUnknownZone, c.Zone)
			}
		}
		s.Players[seat] = p
	}
	return s, nil
}

// Clone returns a deep copy that shares no slices or maps with s.
func (s MatchState) Clone() MatchState {
	out := s
	for i := range out.Players {
		out.Players[i] = s.Players[i].clone()
	}
	if s.PlayWindow != nil {
		w := *s.PlayWindow
		w.Allowed = slices.Clone(w.Allowed)
		out.PlayWindow = &w
	}
	return out
}

func (p PlayerState) clone() PlayerState {
	p.Mana = cloneMana(p.Mana)
	p.Hand = cloneCards(p.Hand)
	p.Battlefield = cloneCards(p.Battlefield)
	p.Equipment = cloneCards(p.Equipment)
	return p
}

func cloneCards(c []CardInstance) []CardInstance {
	if c == nil {
		return []CardInstance{}
	}
	return slices.Clone(c)
}

func cloneMana(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return maps.Clone(m)
}
