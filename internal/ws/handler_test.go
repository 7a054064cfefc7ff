package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-engine/internal/auth"
	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/internal/hub"
	"github.com/DoyleJ11/duel-engine/internal/match"
	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

const secret = "test-secret"

type testEnv struct {
	ts     *httptest.Server
	hub    *hub.Hub
	issuer *auth.Issuer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	opts := match.DefaultOptions()
	opts.Settings.Start = time.Minute
	opts.Settings.Main = time.Minute
	opts.TickInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, opts, match.Deps{})

	_, err := h.Create(ctx, match.Setup{
		MatchID: "m1",
		Seats: [2]engine.PlayerSetup{
			{UserID: "alice", Cards: []engine.CardInstance{{CardID: "a1", Category: engine.CategoryCreature}}},
			{UserID: "bob", Cards: []engine.CardInstance{{CardID: "b1", Category: engine.CategoryTrap}}},
		},
	})
	require.NoError(t, err)

	v, err := auth.NewVerifier(secret)
	require.NoError(t, err)
	ts := httptest.NewServer(Handler(Options{Hub: h, Verifier: v, SendQueueSize: 32}))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: h, issuer: auth.NewIssuer(secret)}
}

func timeoutCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wsURL(ts *httptest.Server, matchID string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws?match=" + matchID
}

func (e *testEnv) token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := e.issuer.Issue(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dial(t *testing.T, matchID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.Dial(timeoutCtx(t), wsURL(e.ts, matchID), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
}

func (e *testEnv) connect(t *testing.T, user, role string) *websocket.Conn {
	t.Helper()
	conn, _, err := e.dial(t, "m1", e.token(t, user, role))
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, typ protocol.Type, payload any) {
	t.Helper()
	frame, err := protocol.Encode(typ, "m1", 0, payload)
	require.NoError(t, err)
	require.NoError(t, conn.Write(timeoutCtx(t), websocket.MessageText, frame))
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want protocol.Type) protocol.Envelope {
	t.Helper()
	ctx := timeoutCtx(t)
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Type == want {
			return env
		}
	}
}

func TestHandshakeRejections(t *testing.T) {
	env := setupTestEnv(t)

	cases := []struct {
		name    string
		matchID string
		token   string
		status  int
	}{
		{"bad token", "m1", "garbage", http.StatusUnauthorized},
		{"unknown match", "nope", env.token(t, "alice", auth.RolePlayer), http.StatusNotFound},
		{"not a participant", "m1", env.token(t, "mallory", auth.RolePlayer), http.StatusForbidden},
		{"missing match", "", env.token(t, "alice", auth.RolePlayer), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := env.dial(t, tc.matchID, tc.token)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestTokenFromQuery(t *testing.T) {
	env := setupTestEnv(t)
	url := wsURL(env.ts, "m1") + "&token=" + env.token(t, "bob", auth.RolePlayer)

	conn, _, err := websocket.Dial(timeoutCtx(t), url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	snap := readUntil(t, conn, protocol.TypeStateSnapshot)
	var payload protocol.StateSnapshot
	require.NoError(t, snap.Unmarshal(&payload))
	assert.Equal(t, 1, payload.Seat)
}

func TestMatchFlowOverWebsocket(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.connect(t, "alice", auth.RoleAdmin)
	bob := env.connect(t, "bob", auth.RolePlayer)
	readUntil(t, alice, protocol.TypeStateSnapshot)
	readUntil(t, bob, protocol.TypeStateSnapshot)

	sendWS(t, alice, protocol.TypeReady, nil)
	sendWS(t, bob, protocol.TypeReady, nil)
	readUntil(t, alice, protocol.TypePhaseChanged)
	readUntil(t, bob, protocol.TypePhaseChanged)

	// only the admin token may force the phase
	sendWS(t, bob, protocol.TypeForceAdvance, nil)
	readUntil(t, bob, protocol.TypeResyncNudge)
	sendWS(t, alice, protocol.TypeForceAdvance, nil)
	pc := readUntil(t, bob, protocol.TypePhaseChanged)
	var changed protocol.PhaseChanged
	require.NoError(t, pc.Unmarshal(&changed))
	assert.Equal(t, engine.PhaseMain, changed.To)
	assert.True(t, changed.Forced)

	sendWS(t, bob, protocol.TypePlayCard, protocol.PlayCard{CardID: "b1"})
	rej := readUntil(t, bob, protocol.TypeRejected)
	var rejected protocol.Rejected
	require.NoError(t, rej.Unmarshal(&rejected))
	assert.Equal(t, engine.ReasonCategoryNotAllowed, rejected.Reason)

	sendWS(t, alice, protocol.TypePlayCard, protocol.PlayCard{CardID: "a1"})
	for {
		env := readUntil(t, bob, protocol.TypeStatePatch)
		var patch protocol.StatePatch
		require.NoError(t, env.Unmarshal(&patch))
		if patch.Play != nil {
			assert.Equal(t, "a1", patch.Play.Card.CardID)
			assert.Equal(t, engine.ZoneBattlefield, patch.Play.Card.Zone)
			break
		}
	}
}

func TestMalformedFramesGetNudged(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.connect(t, "alice", auth.RolePlayer)
	readUntil(t, conn, protocol.TypeStateSnapshot)

	require.NoError(t, conn.Write(timeoutCtx(t), websocket.MessageText, []byte("{not json")))
	readUntil(t, conn, protocol.TypeResyncNudge)

	// server-to-client types are not accepted as intents
	sendWS(t, conn, protocol.TypeStatePatch, json.RawMessage(`{}`))
	readUntil(t, conn, protocol.TypeResyncNudge)
}

func TestDisconnectIsReported(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.connect(t, "alice", auth.RolePlayer)
	readUntil(t, conn, protocol.TypeStateSnapshot)

	sess, err := env.hub.Get(context.Background(), "m1")
	require.NoError(t, err)
	v, err := sess.View(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Connected[0])

	conn.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool {
		v, err := sess.View(context.Background())
		return err == nil && !v.Connected[0]
	}, 2*time.Second, 10*time.Millisecond)
}
