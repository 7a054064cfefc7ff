package engine

import (
	"errors"
	"slices"
	"time"
)

var ErrWindowOpen = errors.New("play window already open")
var ErrUnknownCategory = errors.New("unknown card category")
var ErrDuplicateCard = errors.New("duplicate card id")
var ErrUnknownZone = errors.New("unknown card zone")

type Phase string

const (
	PhaseStart  Phase = "Start"
	PhaseMain   Phase = "Main"
	PhaseAttack Phase = "Attack"
	PhaseEnd    Phase = "End"
)

type Category string

const (
	CategoryCreature    Category = "Creature"
	CategoryStructure   Category = "Structure"
	CategoryActionFast  Category = "ActionFast"
	CategoryActionSlow  Category = "ActionSlow"
	CategoryEquipment   Category = "Equipment"
	CategoryEnchantment Category = "Enchantment"
	CategoryArtifact    Category = "Artifact"
	CategoryRitual      Category = "Ritual"
	CategoryTrap        Category = "Trap"
)

var knownCategories = []Category{
	CategoryCreature, CategoryStructure, CategoryActionFast, CategoryActionSlow,
	CategoryEquipment, CategoryEnchantment, CategoryArtifact, CategoryRitual, CategoryTrap,
}

// ParseCategory accepts the catalog spelling of a category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !slices.Contains(knownCategories, c) {
		return "", ErrUnknownCategory
	}
	return c, nil
}

// Reactive categories may be played by the non-active player.
func (c Category) Reactive() bool {
	return c == CategoryActionFast || c == CategoryTrap
}

type Zone string

const (
	ZoneHand        Zone = "Hand"
	ZoneBattlefield Zone = "Battlefield"
	ZoneEquipment   Zone = "Equipment"
)

type CardInstance struct {
	CardID   string   `json:"cardId"`
	Category Category `json:"category"`
	OwnerID  int      `json:"ownerId"`
	Zone     Zone     `json:"zone"`
}

type PlayerState struct {
	UserID      string         `json:"userId"`
	Health      int            `json:"health"`
	Energy      int            `json:"energy"`
	Mana        map[string]int `json:"mana"`
	Hand        []CardInstance `json:"hand"`
	Battlefield []CardInstance `json:"battlefield"`
	Equipment   []CardInstance `json:"equipment"`
}

// PlayWindow timestamps are unix milliseconds.
type PlayWindow struct {
	Allowed         []Category `json:"allowedCategories"`
	OpensAt         int64      `json:"opensAt"`
	ClosesAt        int64      `json:"closesAt"`
	QuickBonusUntil int64      `json:"quickBonusUntil"`
}

func (w *PlayWindow) Allows(c Category) bool {
	return w != nil && slices.Contains(w.Allowed, c)
}

type MatchState struct {
	MatchID      string         `json:"matchId"`
	TurnNumber   int            `json:"turnNumber"`
	ActivePlayer int            `json:"activePlayer"`
	Phase        Phase          `json:"phase"`
	PhaseEndsAt  int64          `json:"phaseEndsAt"`
	Players      [2]PlayerState `json:"players"`
	PlayWindow   *PlayWindow    `json:"playWindow"`
}

type Rules struct {
	StartingHealth int
	MaxEnergy      int
	ManaPerTurn    int
}

// Settings carries the per-match timing and resource configuration the
// phase machine needs on every transition.
type Settings struct {
	Start  time.Duration
	Main   time.Duration
	Attack time.Duration
	End    time.Duration

	// Zero window durations mean "as long as the phase".
	MainWindow   time.Duration
	AttackWindow time.Duration
	QuickBonus   time.Duration

	Rules Rules
}

func DefaultSettings() Settings {
	return Settings{
		Start:      10 * time.Second,
		Main:       40 * time.Second,
		Attack:     15 * time.Second,
		End:        5 * time.Second,
		QuickBonus: 3 * time.Second,
		Rules:      Rules{StartingHealth: 20, MaxEnergy: 10, ManaPerTurn: 1},
	}
}

func (s Settings) PhaseDuration(p Phase) time.Duration {
	switch p {
	case PhaseStart:
		return s.Start
	case PhaseMain:
		return s.Main
	case PhaseAttack:
		return s.Attack
	default:
		return s.End
	}
}

// WindowDuration is capped by the phase so a window never outlives it.
func (s Settings) WindowDuration(p Phase) time.Duration {
	var d time.Duration
	switch p {
	case PhaseMain:
		d = s.MainWindow
	case PhaseAttack:
		d = s.AttackWindow
	default:
		return 0
	}
	phase := s.PhaseDuration(p)
	if d <= 0 || d > phase {
		return phase
	}
	return d
}

// Transition describes one phase change.
type Transition struct {
	From         Phase `json:"from"`
	To           Phase `json:"to"`
	TurnAdvanced bool  `json:"turnAdvanced"`
	WindowClosed bool  `json:"windowClosed"`
}

// Play describes a card that moved out of a hand.
type Play struct {
	Seat       int          `json:"seat"`
	Card       CardInstance `json:"card"`
	QuickBonus bool         `json:"quickBonus"`
}

func Millis(t time.Time) int64 { return t.UnixMilli() }
