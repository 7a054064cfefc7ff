package engine

import (
	"errors"
	"slices"
)

// Reason is the closed set of rejection codes sent to clients.
type Reason string

const (
	ReasonNotYourTurn        Reason = "NotYourTurn"
	ReasonNoOpenWindow       Reason = "NoOpenWindow"
	ReasonCategoryNotAllowed Reason = "CategoryNotAllowed"
	ReasonCardNotInHand      Reason = "CardNotInHand"
	ReasonSessionNotActive   Reason = "SessionNotActive"
	ReasonConnectionLost     Reason = "ConnectionLost"
)

func (r Reason) Error() string { return string(r) }

// AsReason extracts a Reason from err.
func AsReason(err error) (Reason, bool) {
	var r Reason
	if errors.As(err, &r) {
		return r, true
	}
	return "", false
}

// Validate checks whether card may be played against s. Checks run in a
// fixed order and stop at the first failure.
func Validate(card CardInstance, s *MatchState) error {
	if !card.Category.Reactive() && card.OwnerID != s.ActivePlayer {
		return ReasonNotYourTurn
	}
	if s.PlayWindow == nil {
		return ReasonNoOpenWindow
	}
	if !s.PlayWindow.Allows(card.Category) {
		return ReasonCategoryNotAllowed
	}
	if card.Zone != ZoneHand {
		return ReasonCardNotInHand
	}
	return nil
}

// PlayCard validates and resolves a play by seat. On rejection the state is
// unchanged and the error is a Reason.
func (s *MatchState) PlayCard(seat int, cardID string, now int64) (Play, error) {
	card, ok := s.FindCard(cardID)
	if !ok || card.OwnerID != seat {
		return Play{}, ReasonCardNotInHand
	}
	if err := Validate(card, s); err != nil {
		return Play{}, err
	}

	quick := s.InQuickBonus(now)

	// Zones are rebuilt rather than edited in place so earlier clones of the
	// state never observe the move.
	p := &s.Players[seat]
	i := indexOf(p.Hand, cardID)
	p.Hand = slices.Delete(slices.Clone(p.Hand), i, i+1)

	if card.Category == CategoryEquipment {
		card.Zone = ZoneEquipment
		p.Equipment = append(slices.Clip(p.Equipment), card)
	} else {
		card.Zone = ZoneBattlefield
		p.Battlefield = append(slices.Clip(p.Battlefield), card)
	}
	return Play{Seat: seat, Card: card, QuickBonus: quick}, nil
}

// FindCard searches every zone of both players.
func (s *MatchState) FindCard(cardID string) (CardInstance, bool) {
	for _, p := range s.Players {
		for _, zone := range [][]CardInstance{p.Hand, p.Battlefield, p.Equipment} {
			if i := indexOf(zone, cardID); i >= 0 {
				return zone[i], true
			}
		}
	}
	return CardInstance{}, false
}

func indexOf(cards []CardInstance, cardID string) int {
	for i, c := range cards {
		if c.CardID == cardID {
			return i
		}
	}
	return -1
}
