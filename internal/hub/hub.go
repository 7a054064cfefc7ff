package hub

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/match"
)

var (
	ErrMatchExists = errors.New("match already exists")
	ErrHubClosed   = errors.New("hub closed")
)

type HubMsg interface{ isHubMsg() }

type Created struct {
	Session *match.Session
	Err     error
}

// CreateMatch starts a session. An empty MatchID gets a generated one.
type CreateMatch struct {
	Setup match.Setup
	Reply chan Created
}

type GetMatch struct {
	ID    string
	Reply chan *match.Session
}

// RemoveMatch only removes the entry once its session has stopped, so a
// late removal never evicts a newer match with the same ID.
type RemoveMatch struct {
	ID string
}

type ListMatches struct {
	Reply chan []string
}

// ShutdownHub aborts every session; Done closes once they have all stopped.
type ShutdownHub struct {
	Done chan struct{}
}

func (CreateMatch) isHubMsg() {}
func (GetMatch) isHubMsg()    {}
func (RemoveMatch) isHubMsg() {}
func (ListMatches) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*match.Session
	opts     match.Options
	deps     match.Deps
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub starts the registry. deps.OnClose is replaced by the hub's own
// bookkeeping.
func NewHub(parent context.Context, opts match.Options, deps match.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*match.Session),
		opts:     opts,
		deps:     deps,
		log:      deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown(nil)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateMatch:
				msg.Reply <- h.create(msg.Setup)

			case GetMatch:
				msg.Reply <- h.sessions[msg.ID] // May be nil

			case RemoveMatch:
				if s := h.sessions[msg.ID]; s != nil && stopped(s) {
					delete(h.sessions, msg.ID)
					h.log.Debug("match removed", zap.String("match_id", msg.ID))
				}

			case ListMatches:
				ids := make([]string, 0, len(h.sessions))
				for id := range h.sessions {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown(msg.Done)
				return
			}
		}
	}
}

func (h *Hub) create(setup match.Setup) Created {
	if setup.MatchID == "" {
		setup.MatchID = uuid.NewString()
	}
	if h.sessions[setup.MatchID] != nil {
		return Created{Err: ErrMatchExists}
	}

	deps := h.deps
	deps.OnClose = func(id string) {
		select {
		case h.inbox <- RemoveMatch{ID: id}:
		case <-h.ctx.Done():
		}
	}
	s, err := match.NewSession(h.ctx, setup, h.opts, deps)
	if err != nil {
		return Created{Err: err}
	}
	h.sessions[setup.MatchID] = s
	h.log.Info("match created",
		zap.String("match_id", setup.MatchID),
		zap.String("seat0", setup.Seats[0].UserID),
		zap.String("seat1", setup.Seats[1].UserID),
	)
	return Created{Session: s}
}

// shutdown cancels every session context; sessions end as aborted.
func (h *Hub) shutdown(done chan struct{}) {
	live := make([]*match.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	clear(h.sessions)
	h.cancel()

	go func() {
		for _, s := range live {
			<-s.Done()
		}
		if done != nil {
			close(done)
		}
	}()
}

func stopped(s *match.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) Create(ctx context.Context, setup match.Setup) (*match.Session, error) {
	reply := make(chan Created, 1)
	if err := h.send(ctx, CreateMatch{Setup: setup, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case c := <-reply:
		return c.Session, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Get(ctx context.Context, id string) (*match.Session, error) {
	reply := make(chan *match.Session, 1)
	if err := h.send(ctx, GetMatch{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, ListMatches{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown aborts all sessions and waits for them to stop.
func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	if err := h.send(ctx, ShutdownHub{Done: done}); err != nil {
		if errors.Is(err, ErrHubClosed) {
			return nil
		}
		return err
	}
	for _, c := range []chan struct{}{done, h.done} {
		select {
		case <-c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
