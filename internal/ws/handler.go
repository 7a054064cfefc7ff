package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/auth"
	"github.com/DoyleJ11/duel-engine/internal/hub"
	"github.com/DoyleJ11/duel-engine/internal/match"
	"github.com/DoyleJ11/duel-engine/internal/metrics"
	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

const (
	readLimit    = 8 << 10
	writeTimeout = 3 * time.Second
	pingInterval = 20 * time.Second
)

type Options struct {
	Hub      *hub.Hub
	Verifier *auth.Verifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// OriginPatterns empty means same-origin only.
	OriginPatterns []string
	SendQueueSize  int
}

// Handler serves GET /ws?match=<id>. The token comes from the Authorization
// header or the token query parameter.
func Handler(o Options) http.HandlerFunc {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		claims, err := o.Verifier.Verify(Token(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sess, err := o.Hub.Get(r.Context(), matchID)
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if sess == nil {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		seat, ok := sess.SeatOf(claims.UserID())
		if !ok {
			http.Error(w, "not a participant", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: o.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		o.Metrics.ConnOpened()
		defer o.Metrics.ConnClosed()

		c := &client{
			conn:    conn,
			sess:    sess,
			seat:    seat,
			connID:  uuid.NewString(),
			out:     match.NewOutbox(o.SendQueueSize),
			admin:   claims.HasRole(auth.RoleAdmin),
			matchID: matchID,
			log: log.With(
				zap.String("match_id", matchID),
				zap.Int("seat", seat),
				zap.String("user_id", claims.UserID()),
			),
		}
		c.serve(r.Context())
	}
}

// Token extracts a bearer token from the request.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

type client struct {
	conn    *websocket.Conn
	sess    *match.Session
	seat    int
	connID  string
	out     *match.Outbox
	admin   bool
	matchID string
	log     *zap.Logger
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := c.sess.Send(ctx, match.Join{Seat: c.seat, ConnID: c.connID, Outbox: c.out}); err != nil {
		c.conn.Close(websocket.StatusGoingAway, "match closed")
		return
	}
	c.log.Info("connected", zap.String("conn_id", c.connID))
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
		defer leaveCancel()
		_ = c.sess.Send(leaveCtx, match.Leave{Seat: c.seat, ConnID: c.connID})
		c.log.Info("disconnected", zap.String("conn_id", c.connID))
	}()

	go c.writePump(ctx, cancel)
	c.readPump(ctx)
}

// writePump drains the outbox to the socket. A closed outbox means the
// session dropped this connection.
func (c *client) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-c.out.C():
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "session closed connection")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				c.log.Debug("write", zap.Error(err))
				return
			}

		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				c.log.Debug("ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("read", zap.Error(err))
				}
			}
			return
		}

		env, err := protocol.Decode(data)
		if err == nil && !env.Type.FromClient() {
			err = protocol.ErrMalformed
		}
		if err != nil {
			c.nudge(err.Error())
			continue
		}

		err = c.sess.Submit(ctx, match.Intent{Seat: c.seat, Envelope: env, Privileged: c.admin})
		if err != nil {
			return
		}
	}
}

// nudge bypasses the session: it carries no match state.
func (c *client) nudge(detail string) {
	frame, err := protocol.Encode(protocol.TypeResyncNudge, c.matchID, 0, protocol.ResyncNudge{Detail: detail})
	if err == nil {
		c.out.Offer(frame)
	}
}
