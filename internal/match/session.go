package match

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/internal/metrics"
	"github.com/DoyleJ11/duel-engine/internal/results"
	"github.com/DoyleJ11/duel-engine/pkg/protocol"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrBadSeat       = errors.New("seat out of range")
)

type Setup struct {
	MatchID string
	Seats   [2]engine.PlayerSetup
}

type Options struct {
	Settings            engine.Settings
	ReadyGrace          time.Duration
	ReconnectGrace      time.Duration
	TeardownGrace       time.Duration
	ResultRetryInterval time.Duration
	TickInterval        time.Duration
	IntentQueueSize     int
	Now                 func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Settings:            engine.DefaultSettings(),
		ReadyGrace:          60 * time.Second,
		ReconnectGrace:      30 * time.Second,
		TeardownGrace:       10 * time.Second,
		ResultRetryInterval: 2 * time.Second,
		TickInterval:        time.Second,
		IntentQueueSize:     32,
	}
}

type Deps struct {
	Logger  *zap.Logger
	Sink    results.Sink
	Metrics *metrics.Metrics
	// OnClose runs once on the session goroutine after it stops.
	OnClose func(matchID string)
}

type timerKind int

const (
	timerPhase timerKind = iota
	timerWindow
	timerReady
	timerReconnect
	timerTick
	timerRetry
	timerTeardown
)

type timerKey struct {
	kind timerKind
	seat int
}

type timerFired struct {
	key timerKey
	gen uint64
}

type armed struct {
	t   *time.Timer
	gen uint64
}

type conn struct {
	id  string
	out *Outbox
}

// Session runs one match on a single goroutine. All state below the channel
// fields is owned by that goroutine.
type Session struct {
	id      string
	users   [2]string
	opts    Options
	log     *zap.Logger
	sink    results.Sink
	metrics *metrics.Metrics
	onClose func(string)

	inbox   chan Msg
	intents [2]chan Intent
	fired   chan timerFired
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	status  Status
	state   engine.MatchState
	seq     uint64
	ready   [2]bool
	acked   [2]bool
	conns   [2]*conn
	result  *results.Result
	timers  map[timerKey]*armed
	gen     uint64
	rr      int
	stopped bool
}

// NewSession validates the setup, arms the ready grace and starts the loop.
func NewSession(parent context.Context, setup Setup, opts Options, deps Deps) (*Session, error) {
	s, err := newSession(parent, setup, opts, deps)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionStarted()
	s.arm(timerReady, 0, s.opts.ReadyGrace)
	go s.loop()
	return s, nil
}

func newSession(parent context.Context, setup Setup, opts Options, deps Deps) (*Session, error) {
	state, err := engine.NewMatchState(setup.MatchID, setup.Seats, opts.Settings.Rules)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IntentQueueSize <= 0 {
		opts.IntentQueueSize = 32
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = results.LogSink{Logger: log}
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:      setup.MatchID,
		users:   [2]string{setup.Seats[0].UserID, setup.Seats[1].UserID},
		opts:    opts,
		log:     log.With(zap.String("match_id", setup.MatchID)),
		sink:    sink,
		metrics: deps.Metrics,
		onClose: deps.OnClose,
		inbox:   make(chan Msg, 64),
		fired:   make(chan timerFired, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  StatusWaiting,
		state:   state,
		timers:  make(map[timerKey]*armed),
	}
	for i := range s.intents {
		s.intents[i] = make(chan Intent, opts.IntentQueueSize)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// SeatOf maps a participant to a seat. Participants never change, so this is
// safe to call from any goroutine.
func (s *Session) SeatOf(userID string) (int, bool) {
	for seat, u := range s.users {
		if u == userID {
			return seat, true
		}
	}
	return 0, false
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed after the loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Submit queues an intent on its seat's queue, blocking while the queue is
// full.
func (s *Session) Submit(ctx context.Context, in Intent) error {
	if in.Seat < 0 || in.Seat >= len(s.intents) {
		return ErrBadSeat
	}
	if s.closed() {
		return ErrSessionClosed
	}
	select {
	case s.intents[in.Seat] <- in:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a control message.
func (s *Session) Send(ctx context.Context, m Msg) error {
	if s.closed() {
		return ErrSessionClosed
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.Send(ctx, GetView{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) Advance(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.Send(ctx, ForceAdvance{Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop gives pending timers priority over control messages, and control
// messages priority over intents. Intents alternate between seats.
func (s *Session) loop() {
	defer s.finish()

	for !s.stopped {
		select {
		case <-s.ctx.Done():
			s.abort()
			continue
		case ev := <-s.fired:
			s.onTimer(ev)
			continue
		default:
		}

		select {
		case m := <-s.inbox:
			s.onControl(m)
			continue
		default:
		}

		if in, ok := s.nextIntent(); ok {
			s.onIntent(in)
			continue
		}

		select {
		case <-s.ctx.Done():
			s.abort()
		case ev := <-s.fired:
			s.onTimer(ev)
		case m := <-s.inbox:
			s.onControl(m)
		case in := <-s.intents[0]:
			s.rr = 1
			s.onIntent(in)
		case in := <-s.intents[1]:
			s.rr = 0
			s.onIntent(in)
		}
	}
}

func (s *Session) nextIntent() (Intent, bool) {
	for i := range s.intents {
		seat := (s.rr + i) % len(s.intents)
		select {
		case in := <-s.intents[seat]:
			s.rr = 1 - seat
			return in, true
		default:
		}
	}
	return Intent{}, false
}

func (s *Session) onControl(m Msg) {
	switch msg := m.(type) {
	case Join:
		s.join(msg)

	case Leave:
		if msg.Seat < 0 || msg.Seat > 1 {
			return
		}
		c := s.conns[msg.Seat]
		if c == nil || c.id != msg.ConnID {
			return
		}
		c.out.Close()
		s.conns[msg.Seat] = nil
		s.log.Info("participant disconnected", zap.Int("seat", msg.Seat), zap.String("status", string(s.status)))
		if s.status == StatusActive {
			s.arm(timerReconnect, msg.Seat, s.opts.ReconnectGrace)
		}

	case GetView:
		// Reply must be buffered.
		select {
		case msg.Reply <- s.view():
		default:
			s.log.Warn("view reply dropped")
		}

	case ForceAdvance:
		var err error
		if s.status != StatusActive {
			err = engine.ReasonSessionNotActive
		} else {
			s.advance("admin")
		}
		if msg.Reply != nil {
			select {
			case msg.Reply <- err:
			default:
			}
		}

	case Shutdown:
		s.abort()
	}
}

func (s *Session) join(msg Join) {
	if msg.Seat < 0 || msg.Seat > 1 || msg.Outbox == nil {
		return
	}
	if old := s.conns[msg.Seat]; old != nil && old.id != msg.ConnID {
		old.out.Close()
	}
	s.conns[msg.Seat] = &conn{id: msg.ConnID, out: msg.Outbox}

	key := timerKey{timerReconnect, msg.Seat}
	if _, waiting := s.timers[key]; waiting {
		s.disarm(timerReconnect, msg.Seat)
		s.metrics.Reconnected()
		s.log.Info("participant reconnected", zap.Int("seat", msg.Seat))
	}

	s.sendSnapshot(msg.Seat)
	if s.status == StatusEnded && !s.acked[msg.Seat] {
		s.sendResult(msg.Seat)
	}
}

func (s *Session) onIntent(in Intent) {
	env := in.Envelope
	s.metrics.Intent(string(env.Type))

	switch env.Type {
	case protocol.TypeResyncRequest:
		s.sendSnapshot(in.Seat)
		return

	case protocol.TypeAck:
		var ack protocol.Ack
		if err := env.Unmarshal(&ack); err != nil {
			s.nudge(in.Seat, err.Error())
			return
		}
		if ack.Type == protocol.TypeMatchEnded && s.status == StatusEnded {
			s.acked[in.Seat] = true
			if s.acked[0] && s.acked[1] {
				s.stop()
			}
		}
		return

	case protocol.TypeReady:
		if s.status == StatusEnded {
			s.reject(in.Seat, env.Type, engine.ReasonSessionNotActive, "")
			return
		}
		// A repeated ready, or one sent after the start, is a no-op.
		if s.status == StatusWaiting && !s.ready[in.Seat] {
			s.ready[in.Seat] = true
			s.log.Info("participant ready", zap.Int("seat", in.Seat))
			if s.ready[0] && s.ready[1] {
				s.start()
			}
		}
		return
	}

	if s.status != StatusActive {
		s.reject(in.Seat, env.Type, engine.ReasonSessionNotActive, "")
		return
	}

	switch env.Type {
	case protocol.TypePlayCard:
		var p protocol.PlayCard
		if err := env.Unmarshal(&p); err != nil || p.CardID == "" {
			s.nudge(in.Seat, "play-card needs a cardId")
			return
		}
		prev := s.state.Clone()
		play, err := s.state.PlayCard(in.Seat, p.CardID, s.nowMs())
		if err != nil {
			reason, _ := engine.AsReason(err)
			s.reject(in.Seat, env.Type, reason, p.CardID)
			return
		}
		s.log.Debug("card played",
			zap.Int("seat", in.Seat),
			zap.String("card_id", p.CardID),
			zap.Bool("quick_bonus", play.QuickBonus),
		)
		s.broadcastPatch(prev, &play)

	case protocol.TypeForceAdvance:
		if !in.Privileged {
			s.nudge(in.Seat, "force-advance not permitted")
			return
		}
		s.advance("intent")

	case protocol.TypeConcede:
		winner := 1 - in.Seat
		s.end(results.ReasonConcede, &winner)

	default:
		s.nudge(in.Seat, "unsupported message type "+string(env.Type))
	}
}

func (s *Session) onTimer(ev timerFired) {
	a, ok := s.timers[ev.key]
	if !ok || a.gen != ev.gen {
		return
	}
	delete(s.timers, ev.key)

	switch ev.key.kind {
	case timerReady:
		if s.status == StatusWaiting {
			s.end(results.ReasonNoShow, s.onlyReadySeat())
		}

	case timerPhase:
		if s.status == StatusActive {
			s.advance("timer")
		}

	case timerWindow:
		if s.status == StatusActive {
			prev := s.state.Clone()
			if s.state.CloseWindow() {
				s.broadcastPatch(prev, nil)
			}
		}

	case timerReconnect:
		seat := ev.key.seat
		if s.status != StatusActive || s.conns[seat] != nil {
			return
		}
		other := 1 - seat
		if s.conns[other] == nil {
			s.end(results.ReasonAbandoned, nil)
			return
		}
		s.end(results.ReasonForfeit, &other)

	case timerTick:
		if s.status == StatusActive {
			s.tick()
			s.arm(timerTick, 0, s.opts.TickInterval)
		}

	case timerRetry:
		if s.status == StatusEnded {
			for seat := range s.conns {
				if !s.acked[seat] {
					s.sendResult(seat)
				}
			}
			s.arm(timerRetry, 0, s.opts.ResultRetryInterval)
		}

	case timerTeardown:
		s.stop()
	}
}

func (s *Session) start() {
	prev := s.state.Clone()
	now := s.nowMs()
	if err := s.state.Begin(now, s.opts.Settings); err != nil {
		s.log.Warn("phase entry", zap.Error(err))
	}
	s.status = StatusActive
	s.disarm(timerReady, 0)
	s.armPhase(now)
	s.arm(timerTick, 0, s.opts.TickInterval)
	for seat, c := range s.conns {
		if c == nil {
			s.arm(timerReconnect, seat, s.opts.ReconnectGrace)
		}
	}

	s.broadcastPatch(prev, nil)
	s.broadcastPhase(engine.Transition{To: s.state.Phase}, false)
	s.metrics.Transition(string(s.state.Phase), "begin")
	s.log.Info("match started", zap.Int64("phase_ends_at", s.state.PhaseEndsAt))
}

func (s *Session) advance(trigger string) {
	prev := s.state.Clone()
	now := s.nowMs()
	tr, err := s.state.Advance(now, s.opts.Settings)
	if err != nil {
		s.log.Warn("phase entry", zap.Error(err), zap.String("phase", string(tr.To)))
	}
	s.armPhase(now)

	s.broadcastPatch(prev, nil)
	s.broadcastPhase(tr, trigger != "timer")
	s.metrics.Transition(string(tr.To), trigger)
	s.log.Debug("phase changed",
		zap.String("phase", string(tr.To)),
		zap.Int("turn", s.state.TurnNumber),
		zap.String("trigger", trigger),
	)
}

// armPhase arms the phase timer and, when the window closes before the phase
// does, a separate window timer.
func (s *Session) armPhase(now int64) {
	s.arm(timerPhase, 0, millis(s.state.PhaseEndsAt-now))
	if w := s.state.PlayWindow; w != nil && w.ClosesAt < s.state.PhaseEndsAt {
		s.arm(timerWindow, 0, millis(w.ClosesAt-now))
		return
	}
	s.disarm(timerWindow, 0)
}

func (s *Session) end(reason string, winner *int) {
	if s.status == StatusEnded {
		return
	}
	s.status = StatusEnded
	s.disarmAll()

	res := results.Result{
		MatchID: s.id,
		Winner:  winner,
		Reason:  reason,
		EndedAt: s.opts.Now(),
	}
	if winner != nil {
		res.WinnerUserID = s.users[*winner]
	}
	s.result = &res
	s.metrics.Ended(reason)

	fields := []zap.Field{zap.String("reason", reason), zap.Int("turn", s.state.TurnNumber)}
	if winner != nil {
		fields = append(fields, zap.Int("winner", *winner))
	}
	s.log.Info("match ended", fields...)

	go func(sink results.Sink, log *zap.Logger) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Emit(ctx, res); err != nil {
			log.Error("emit result", zap.Error(err))
		}
	}(s.sink, s.log)

	for seat := range s.conns {
		s.sendResult(seat)
	}
	s.arm(timerRetry, 0, s.opts.ResultRetryInterval)
	s.arm(timerTeardown, 0, s.opts.TeardownGrace)
}

func (s *Session) abort() {
	s.end(results.ReasonAborted, nil)
	s.stop()
}

func (s *Session) stop() { s.stopped = true }

func (s *Session) finish() {
	s.disarmAll()
	for seat, c := range s.conns {
		if c != nil {
			c.out.Close()
			s.conns[seat] = nil
		}
	}
	s.cancel()
	close(s.done)
	s.metrics.SessionClosed()
	if s.onClose != nil {
		s.onClose(s.id)
	}
}

func (s *Session) onlyReadySeat() *int {
	if s.ready[0] == s.ready[1] {
		return nil
	}
	seat := 0
	if s.ready[1] {
		seat = 1
	}
	return &seat
}

func (s *Session) view() View {
	v := View{
		MatchID: s.id,
		Status:  s.status,
		Seq:     s.seq,
		State:   s.state.Clone(),
		Ready:   s.ready,
	}
	for seat, c := range s.conns {
		v.Connected[seat] = c != nil
	}
	if s.result != nil {
		r := *s.result
		v.Result = &r
	}
	return v
}

func (s *Session) nowMs() int64 { return engine.Millis(s.opts.Now()) }

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
