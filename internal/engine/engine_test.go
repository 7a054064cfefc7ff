package engine

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.MainWindow = 20 * time.Second
	return s
}

func newTestState(t *testing.T) MatchState {
	t.Helper()
	s, err := NewMatchState("m1", [2]PlayerSetup{
		{
			UserID: "alice",
			Mana:   map[string]int{"red": 0},
			Cards: []CardInstance{
				{CardID: "a-creature", Category: CategoryCreature},
				{CardID: "a-fast", Category: CategoryActionFast},
				{CardID: "a-sword", Category: CategoryEquipment},
				{CardID: "a-wall", Category: CategoryStructure, Zone: ZoneBattlefield},
			},
		},
		{
			UserID: "bob",
			Mana:   map[string]int{"blue": 2},
			Cards: []CardInstance{
				{CardID: "b-creature", Category: CategoryCreature},
				{CardID: "b-trap", Category: CategoryTrap},
				{CardID: "b-slow", Category: CategoryActionSlow},
			},
		},
	}, DefaultSettings().Rules)
	require.NoError(t, err)
	return s
}

func TestNewMatchState(t *testing.T) {
	s := newTestState(t)

	assert.Equal(t, 1, s.TurnNumber)
	assert.Equal(t, 0, s.ActivePlayer)
	assert.Equal(t, PhaseStart, s.Phase)
	assert.Nil(t, s.PlayWindow)
	assert.Equal(t, 20, s.Players[1].Health)
	assert.Len(t, s.Players[0].Hand, 3)
	assert.Len(t, s.Players[0].Battlefield, 1)
	for _, c := range s.Players[1].Hand {
		assert.Equal(t, 1, c.OwnerID)
		assert.Equal(t, ZoneHand, c.Zone)
	}
}

func TestNewMatchStateRejectsBadDecks(t *testing.T) {
	cases := []struct {
		name    string
		seats   [2]PlayerSetup
		wantErr error
	}{
		{
			name: "duplicate card across seats",
			seats: [2]PlayerSetup{
				{UserID: "a", Cards: []CardInstance{{CardID: "x", Category: CategoryTrap}}},
				{UserID: "b", Cards: []CardInstance{{CardID: "x", Category: CategoryTrap}}},
			},
			wantErr: ErrDuplicateCard,
		},
		{
			name: "unknown category",
			seats: [2]PlayerSetup{
				{UserID: "a", Cards: []CardInstance{{CardID: "x", Category: "Planeswalker"}}},
				{UserID: "b"},
			},
			wantErr: ErrUnknownCategory,
		},
		{
			name: "unknown zone",
			seats: [2]PlayerSetup{
				{UserID: "a", Cards: []CardInstance{{CardID: "x", Category: CategoryTrap, Zone: "Graveyard"}}},
				{UserID: "b"},
			},
			wantErr: ErrUnknownZone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatchState("m", tc.seats, Rules{})
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	window := &PlayWindow{Allowed: []Category{CategoryActionFast, CategoryTrap}, OpensAt: 0, ClosesAt: 1000}

	cases := []struct {
		name   string
		card   CardInstance
		active int
		window *PlayWindow
		want   error
	}{
		{
			name:   "legal reactive play by active player",
			card:   CardInstance{CardID: "c", Category: CategoryActionFast, OwnerID: 0, Zone: ZoneHand},
			window: window,
		},
		{
			name:   "legal reactive play by non-active player",
			card:   CardInstance{CardID: "c", Category: CategoryTrap, OwnerID: 1, Zone: ZoneHand},
			window: window,
		},
		{
			name:   "non-active player casting a creature",
			card:   CardInstance{CardID: "c", Category: CategoryCreature, OwnerID: 1, Zone: ZoneHand},
			window: nil,
			want:   ReasonNotYourTurn,
		},
		{
			name:   "turn check precedes window check",
			card:   CardInstance{CardID: "c", Category: CategoryStructure, OwnerID: 1, Zone: ZoneBattlefield},
			window: window,
			want:   ReasonNotYourTurn,
		},
		{
			name: "no window",
			card: CardInstance{CardID: "c", Category: CategoryTrap, OwnerID: 1, Zone: ZoneHand},
			want: ReasonNoOpenWindow,
		},
		{
			name:   "creature during attack window",
			card:   CardInstance{CardID: "c", Category: CategoryCreature, OwnerID: 0, Zone: ZoneHand},
			window: window,
			want:   ReasonCategoryNotAllowed,
		},
		{
			name:   "category check precedes zone check",
			card:   CardInstance{CardID: "c", Category: CategoryRitual, OwnerID: 0, Zone: ZoneBattlefield},
			window: window,
			want:   ReasonCategoryNotAllowed,
		},
		{
			name:   "card already on the battlefield",
			card:   CardInstance{CardID: "c", Category: CategoryTrap, OwnerID: 0, Zone: ZoneBattlefield},
			window: window,
			want:   ReasonCardNotInHand,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := MatchState{ActivePlayer: tc.active, PlayWindow: tc.window}
			err := Validate(tc.card, &s)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tc.want, err)
			r, ok := AsReason(err)
			assert.True(t, ok)
			assert.Equal(t, tc.want, r)
		})
	}
}

func TestPhaseCycle(t *testing.T) {
	cfg := testSettings()
	s := newTestState(t)
	now := int64(1_000_000)

	require.NoError(t, s.Begin(now, cfg))
	assert.Equal(t, PhaseStart, s.Phase)
	assert.Equal(t, now+cfg.Start.Milliseconds(), s.PhaseEndsAt)
	assert.Nil(t, s.PlayWindow)
	assert.Equal(t, 1, s.Players[0].Energy)
	assert.Equal(t, 1, s.Players[0].Mana["red"])
	assert.Equal(t, 2, s.Players[1].Mana["blue"], "inactive player does not accrue")

	now += cfg.Start.Milliseconds()
	tr, err := s.Advance(now, cfg)
	require.NoError(t, err)
	assert.Equal(t, Transition{From: PhaseStart, To: PhaseMain}, tr)
	require.NotNil(t, s.PlayWindow)
	assert.ElementsMatch(t, mainCategories, s.PlayWindow.Allowed)
	assert.NotContains(t, s.PlayWindow.Allowed, CategoryActionFast)
	assert.NotContains(t, s.PlayWindow.Allowed, CategoryTrap)
	assert.Equal(t, now+cfg.MainWindow.Milliseconds(), s.PlayWindow.ClosesAt)
	assert.Equal(t, now+cfg.QuickBonus.Milliseconds(), s.PlayWindow.QuickBonusUntil)

	now += cfg.Main.Milliseconds()
	tr, err = s.Advance(now, cfg)
	require.NoError(t, err)
	assert.True(t, tr.WindowClosed)
	require.NotNil(t, s.PlayWindow)
	assert.ElementsMatch(t, attackCategories, s.PlayWindow.Allowed)
	assert.Equal(t, s.PhaseEndsAt, s.PlayWindow.ClosesAt, "zero window duration spans the phase")

	tr, err = s.Advance(now, cfg)
	require.NoError(t, err)
	assert.Equal(t, PhaseEnd, tr.To)
	assert.True(t, tr.WindowClosed)
	assert.Nil(t, s.PlayWindow)
	assert.False(t, tr.TurnAdvanced)

	tr, err = s.Advance(now, cfg)
	require.NoError(t, err)
	assert.True(t, tr.TurnAdvanced)
	assert.Equal(t, PhaseStart, s.Phase)
	assert.Equal(t, 2, s.TurnNumber)
	assert.Equal(t, 1, s.ActivePlayer)
	assert.Equal(t, 2, s.Players[1].Energy)
	assert.Equal(t, 3, s.Players[1].Mana["blue"])
}

func TestTurnNumberIsMonotonic(t *testing.T) {
	cfg := testSettings()
	s := newTestState(t)
	require.NoError(t, s.Begin(0, cfg))

	prevTurn := s.TurnNumber
	for i := 0; i < 40; i++ {
		tr, err := s.Advance(int64(i), cfg)
		require.NoError(t, err)
		assert.Equal(t, NextPhase(tr.From), tr.To)
		if tr.TurnAdvanced {
			assert.Equal(t, prevTurn+1, s.TurnNumber)
		} else {
			assert.Equal(t, prevTurn, s.TurnNumber)
		}
		prevTurn = s.TurnNumber
	}
	assert.Equal(t, 11, s.TurnNumber)
	assert.Equal(t, cfg.Rules.MaxEnergy, s.Players[s.ActivePlayer].Energy, "energy is capped")
}

func TestEnergyIsCapped(t *testing.T) {
	s := MatchState{TurnNumber: 14, Players: [2]PlayerState{{Mana: map[string]int{}}, {}}}
	s.accrue(Rules{MaxEnergy: 10})
	assert.Equal(t, 10, s.Players[0].Energy)
}

func TestWindowOpenClose(t *testing.T) {
	s := newTestState(t)

	require.NoError(t, s.OpenWindow([]Category{CategoryTrap, CategoryTrap}, 100, time.Second, 5*time.Second))
	first := *s.PlayWindow
	assert.Equal(t, []Category{CategoryTrap}, first.Allowed)
	assert.Equal(t, first.ClosesAt, first.QuickBonusUntil, "bonus capped by window")

	err := s.OpenWindow([]Category{CategoryCreature}, 200, time.Second, 0)
	assert.ErrorIs(t, err, ErrWindowOpen)
	assert.Equal(t, first, *s.PlayWindow)

	assert.True(t, s.IsPlayable(CategoryTrap))
	assert.False(t, s.IsPlayable(CategoryCreature))

	assert.True(t, s.CloseWindow())
	assert.False(t, s.CloseWindow())
	assert.Nil(t, s.PlayWindow)
	assert.False(t, s.IsPlayable(CategoryTrap))
}

func TestPlayCard(t *testing.T) {
	cfg := testSettings()
	s := newTestState(t)
	require.NoError(t, s.Begin(0, cfg))
	_, err := s.Advance(1000, cfg)
	require.NoError(t, err)

	t.Run("creature moves to the battlefield inside the quick bonus", func(t *testing.T) {
		before := s.Clone()
		play, err := s.PlayCard(0, "a-creature", 1500)
		require.NoError(t, err)
		assert.True(t, play.QuickBonus)
		assert.Equal(t, ZoneBattlefield, play.Card.Zone)
		assert.Len(t, s.Players[0].Hand, len(before.Players[0].Hand)-1)
		assert.Len(t, before.Players[0].Hand, 3, "earlier clone untouched")
	})

	t.Run("equipment moves to the equipment zone after the bonus", func(t *testing.T) {
		play, err := s.PlayCard(0, "a-sword", 1000+cfg.QuickBonus.Milliseconds())
		require.NoError(t, err)
		assert.False(t, play.QuickBonus)
		assert.Equal(t, ZoneEquipment, play.Card.Zone)
		require.Len(t, s.Players[0].Equipment, 1)
	})

	cases := []struct {
		name   string
		seat   int
		cardID string
		want   Reason
	}{
		{"replaying a resolved card", 0, "a-creature", ReasonCardNotInHand},
		{"unknown card", 0, "nope", ReasonCardNotInHand},
		{"opponent's card", 0, "b-trap", ReasonCardNotInHand},
		{"reactive card outside its window", 0, "a-fast", ReasonCategoryNotAllowed},
		{"non-active player in main", 1, "b-creature", ReasonNotYourTurn},
		{"reactive card by non-active player in main", 1, "b-trap", ReasonCategoryNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Clone()
			_, err := s.PlayCard(tc.seat, tc.cardID, 2000)
			assert.Equal(t, tc.want, err)
			assert.Equal(t, before, s, "rejected play must not change state")
		})
	}

	t.Run("creature rejected during attack", func(t *testing.T) {
		st := newTestState(t)
		st.Phase = PhaseAttack
		require.NoError(t, st.OpenWindow(AllowedCategories(PhaseAttack), 0, time.Second, 0))
		_, err := st.PlayCard(0, "a-creature", 10)
		assert.Equal(t, ReasonCategoryNotAllowed, err)

		_, err = st.PlayCard(1, "b-trap", 10)
		assert.NoError(t, err)
	})
}

func TestPatchReproducesState(t *testing.T) {
	cfg := testSettings()
	rng := rand.New(rand.NewSource(7))
	ids := []string{"a-creature", "a-fast", "a-sword", "b-creature", "b-trap", "b-slow"}

	server := newTestState(t)
	require.NoError(t, server.Begin(0, cfg))
	mirror := server.Clone()
	now := int64(0)

	for i := 0; i < 200; i++ {
		prev := server.Clone()
		now += int64(rng.Intn(5000))

		switch rng.Intn(4) {
		case 0:
			_, err := server.Advance(now, cfg)
			require.NoError(t, err)
		case 1:
			_, _ = server.PlayCard(rng.Intn(2), ids[rng.Intn(len(ids))], now)
		case 2:
			server.Players[rng.Intn(2)].Health -= rng.Intn(3)
		case 3:
			server.CloseWindow()
		}

		patch := Diff(prev, server)
		raw, err := json.Marshal(patch)
		require.NoError(t, err)
		var decoded Patch
		require.NoError(t, json.Unmarshal(raw, &decoded))

		mirror = mirror.Apply(decoded)
		require.Equal(t, server, mirror, "step %d", i)
	}

	raw, err := json.Marshal(server)
	require.NoError(t, err)
	var snap MatchState
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, server, snap)
}

func TestDiffOfEqualStatesIsEmpty(t *testing.T) {
	s := newTestState(t)
	assert.True(t, Diff(s, s.Clone()).Empty())
}
