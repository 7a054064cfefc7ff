// Package client keeps one participant connected to a match: it queues
// intents while offline, reconnects with backoff and mirrors the server
// state.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

// ErrConnectionLost is returned by Run once the backoff budget is spent.
var ErrConnectionLost = errors.New("connection lost")

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateLost
	// StateClosed follows a clean end of the match.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateLost:
		return "connection-lost"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const writeTimeout = 3 * time.Second

type Options struct {
	// URL is the full websocket URL including ?match=.
	URL       string
	Token     string
	MatchID   string
	Backoff   Backoff
	QueueSize int
	Logger    *zap.Logger
	// OnMessage sees every frame after the mirror has applied it.
	OnMessage func(protocol.Envelope)
}

type Conn struct {
	opts   Options
	log    *zap.Logger
	mirror *Mirror

	mu    sync.Mutex
	ws    *websocket.Conn
	queue *Ring[[]byte]
	state State
}

func New(opts Options) *Conn {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	return &Conn{
		opts:   opts,
		log:    opts.Logger.With(zap.String("match_id", opts.MatchID)),
		mirror: NewMirror(),
		queue:  NewRing[[]byte](opts.QueueSize),
		state:  StateConnecting,
	}
}

func (c *Conn) Mirror() *Mirror { return c.mirror }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Queued is the number of intents waiting for a connection.
func (c *Conn) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Send writes an intent, or queues it while the connection is down.
func (c *Conn) Send(ctx context.Context, t protocol.Type, payload any) error {
	frame, err := protocol.Encode(t, c.opts.MatchID, 0, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLost || c.state == StateClosed {
		return ErrConnectionLost
	}
	if c.ws != nil {
		err := c.write(ctx, c.ws, frame)
		if err == nil {
			return nil
		}
		c.log.Info("write failed, queueing intent", zap.String("intent", string(t)), zap.Error(err))
		c.drop()
	}
	if c.queue.Push(frame) {
		c.log.Warn("offline queue full, dropped oldest intent")
	}
	return nil
}

// Run dials and redials until ctx ends, the match ends, or the backoff
// budget runs out.
func (c *Conn) Run(ctx context.Context) error {
	reconnect := false
	attempt := 0
	for {
		ws, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": {"Bearer " + c.opts.Token}},
		})
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return ctx.Err()
			}
			attempt++
			if c.opts.Backoff.Exhausted(attempt) {
				c.setState(StateLost)
				c.log.Warn("giving up", zap.Int("attempts", attempt), zap.Error(err))
				return ErrConnectionLost
			}
			delay := c.opts.Backoff.Delay(attempt)
			c.log.Debug("dial failed", zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				c.setState(StateClosed)
				return ctx.Err()
			}
		}

		attempt = 0
		c.attach(ctx, ws, reconnect)
		reconnect = true
		err = c.read(ctx, ws)
		c.detach()

		if ctx.Err() != nil {
			ws.Close(websocket.StatusNormalClosure, "")
			c.setState(StateClosed)
			return ctx.Err()
		}
		if c.mirror.Ended() != nil {
			ws.CloseNow()
			c.setState(StateClosed)
			return nil
		}
		c.log.Info("connection dropped", zap.Error(err))
	}
}

// attach flushes queued intents oldest-first, then asks for a snapshot when
// this is a reconnect.
func (c *Conn) attach(ctx context.Context, ws *websocket.Conn, reconnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.queue.Drain()
	for i, frame := range pending {
		if err := c.write(ctx, ws, frame); err != nil {
			for _, f := range pending[i:] {
				c.queue.Push(f)
			}
			ws.CloseNow()
			return
		}
	}
	if reconnect {
		if frame, err := protocol.Encode(protocol.TypeResyncRequest, c.opts.MatchID, 0, nil); err == nil {
			_ = c.write(ctx, ws, frame)
		}
	}
	c.ws = ws
	c.state = StateConnected
	c.log.Info("connected", zap.Bool("reconnect", reconnect), zap.Int("flushed", len(pending)))
}

// drop abandons the live socket after a failed write so later intents queue
// behind the failed one. Run notices the closed socket and redials. Callers
// hold c.mu.
func (c *Conn) drop() {
	c.ws.CloseNow()
	c.ws = nil
	c.state = StateReconnecting
}

func (c *Conn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = nil
	c.state = StateReconnecting
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Conn) read(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Debug("bad frame", zap.Error(err))
			continue
		}

		if err := c.mirror.Apply(env); errors.Is(err, ErrResyncNeeded) {
			c.log.Info("requesting resync", zap.Error(err))
			c.reply(ctx, protocol.TypeResyncRequest, nil)
		}
		if env.Type == protocol.TypeMatchEnded {
			c.reply(ctx, protocol.TypeAck, protocol.Ack{Type: protocol.TypeMatchEnded})
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(env)
		}
	}
}

// reply bypasses the offline queue: resyncs and acks are only meaningful on
// the live connection.
func (c *Conn) reply(ctx context.Context, t protocol.Type, payload any) {
	frame, err := protocol.Encode(t, c.opts.MatchID, 0, payload)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil && c.write(ctx, c.ws, frame) != nil {
		c.drop()
	}
}

func (c *Conn) write(ctx context.Context, ws *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, frame)
}
