package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/auth"
	"github.com/DoyleJ11/duel-engine/internal/catalog"
	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/internal/hub"
	"github.com/DoyleJ11/duel-engine/internal/match"
	"github.com/DoyleJ11/duel-engine/internal/ws"
)

const maxBody = 64 << 10

type claimsKey struct{}

// RequireRole verifies the bearer token and admits only the given roles.
func RequireRole(v *auth.Verifier, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Verify(ws.Token(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !claims.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type cardRequest struct {
	CardID   string `json:"cardId"`
	Category string `json:"category,omitempty"`
	Zone     string `json:"zone,omitempty"`
}

type participantRequest struct {
	UserID string         `json:"userId"`
	Deck   []cardRequest  `json:"deck"`
	Mana   map[string]int `json:"mana,omitempty"`
}

type createMatchRequest struct {
	MatchID      string               `json:"matchId,omitempty"`
	Participants []participantRequest `json:"participants"`
}

// CreateMatch is the matchmaking entry point: two already-paired
// participants and their registered cards.
func CreateMatch(h *hub.Hub, cat catalog.Catalog, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMatchRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}

		setup, err := buildSetup(r.Context(), req, cat)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		sess, err := h.Create(r.Context(), setup)
		switch {
		case errors.Is(err, hub.ErrMatchExists):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, hub.ErrHubClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		log.Info("match created via api", zap.String("match_id", sess.ID()))
		writeJSON(w, http.StatusCreated, struct {
			MatchID string `json:"matchId"`
		}{MatchID: sess.ID()})
	}
}

func buildSetup(ctx context.Context, req createMatchRequest, cat catalog.Catalog) (match.Setup, error) {
	if len(req.Participants) != 2 {
		return match.Setup{}, errors.New("exactly two participants required")
	}
	setup := match.Setup{MatchID: req.MatchID}
	for seat, p := range req.Participants {
		if p.UserID == "" {
			return match.Setup{}, fmt.Errorf("participant %d: missing userId", seat)
		}
		cards := make([]engine.CardInstance, 0, len(p.Deck))
		for _, c := range p.Deck {
			card, err := resolveCard(ctx, cat, p.UserID, c)
			if err != nil {
				return match.Setup{}, err
			}
			cards = append(cards, card)
		}
		setup.Seats[seat] = engine.PlayerSetup{UserID: p.UserID, Cards: cards, Mana: p.Mana}
	}
	if setup.Seats[0].UserID == setup.Seats[1].UserID {
		return match.Setup{}, errors.New("participants must be distinct")
	}
	return setup, nil
}

// resolveCard fills a missing category from the catalog. Catalog ownership,
// when recorded, must match the participant.
func resolveCard(ctx context.Context, cat catalog.Catalog, userID string, c cardRequest) (engine.CardInstance, error) {
	if c.CardID == "" {
		return engine.CardInstance{}, errors.New("card without cardId")
	}
	card := engine.CardInstance{CardID: c.CardID, Zone: engine.Zone(c.Zone)}

	if c.Category != "" {
		category, err := engine.ParseCategory(c.Category)
		if err != nil {
			return engine.CardInstance{}, fmt.Errorf("card %s: %w", c.CardID, err)
		}
		card.Category = category
		return card, nil
	}

	if cat == nil {
		return engine.CardInstance{}, fmt.Errorf("card %s: category required", c.CardID)
	}
	d, err := cat.Lookup(ctx, c.CardID)
	if err != nil {
		return engine.CardInstance{}, err
	}
	if d.OwnerUserID != "" && d.OwnerUserID != userID {
		return engine.CardInstance{}, fmt.Errorf("card %s is registered to another player", c.CardID)
	}
	card.Category = d.Category
	return card, nil
}

type matchView struct {
	MatchID      string       `json:"matchId"`
	Status       match.Status `json:"status"`
	Seq          uint64       `json:"seq"`
	TurnNumber   int          `json:"turnNumber"`
	ActivePlayer int          `json:"activePlayer"`
	Phase        engine.Phase `json:"phase"`
	PhaseEndsAt  int64        `json:"phaseEndsAt"`
	Participants []string     `json:"participants"`
	Ready        [2]bool      `json:"ready"`
	Connected    [2]bool      `json:"connected"`
	Result       *resultView  `json:"result,omitempty"`
}

type resultView struct {
	Winner       *int   `json:"winner"`
	WinnerUserID string `json:"winnerUserId,omitempty"`
	Reason       string `json:"reason"`
	EndedAt      int64  `json:"endedAt"`
}

func GetMatch(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookup(w, r, h)
		if !ok {
			return
		}
		v, err := sess.View(r.Context())
		if err != nil {
			writeError(w, http.StatusNotFound, "match closed")
			return
		}

		out := matchView{
			MatchID:      v.MatchID,
			Status:       v.Status,
			Seq:          v.Seq,
			TurnNumber:   v.State.TurnNumber,
			ActivePlayer: v.State.ActivePlayer,
			Phase:        v.State.Phase,
			PhaseEndsAt:  v.State.PhaseEndsAt,
			Participants: []string{v.State.Players[0].UserID, v.State.Players[1].UserID},
			Ready:        v.Ready,
			Connected:    v.Connected,
		}
		if v.Result != nil {
			out.Result = &resultView{
				Winner:       v.Result.Winner,
				WinnerUserID: v.Result.WinnerUserID,
				Reason:       v.Result.Reason,
				EndedAt:      engine.Millis(v.Result.EndedAt),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func AdvanceMatch(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookup(w, r, h)
		if !ok {
			return
		}
		err := sess.Advance(r.Context())
		if reason, isReason := engine.AsReason(err); isReason {
			writeError(w, http.StatusConflict, string(reason))
			return
		}
		if err != nil {
			writeError(w, http.StatusNotFound, "match closed")
			return
		}
		claims, _ := r.Context().Value(claimsKey{}).(auth.Claims)
		log.Info("phase forced", zap.String("match_id", sess.ID()), zap.String("by", claims.UserID()))
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*match.Session, bool) {
	sess, err := h.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "match not found")
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
