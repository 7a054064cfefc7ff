// Package results delivers terminal match outcomes to the outside world.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ReasonNoShow    = "no-show"
	ReasonForfeit   = "forfeit"
	ReasonConcede   = "concede"
	ReasonAbandoned = "abandoned"
	ReasonAborted   = "aborted"
)

// Result is the outbound record of an ended match. Winner is a seat index,
// nil when nobody won.
type Result struct {
	MatchID      string    `json:"matchId"`
	Winner       *int      `json:"winner"`
	WinnerUserID string    `json:"winnerUserId,omitempty"`
	Reason       string    `json:"reason"`
	EndedAt      time.Time `json:"endedAt"`
}

type Sink interface {
	Emit(ctx context.Context, r Result) error
}

type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Emit(ctx context.Context, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish result %s: %w", r.MatchID, err)
	}
	return nil
}

type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(_ context.Context, r Result) error {
	fields := []zap.Field{
		zap.String("match_id", r.MatchID),
		zap.String("reason", r.Reason),
		zap.Time("ended_at", r.EndedAt),
	}
	if r.Winner != nil {
		fields = append(fields, zap.Int("winner", *r.Winner), zap.String("winner_user_id", r.WinnerUserID))
	}
	if s.Logger != nil {
		s.Logger.Info("match result", fields...)
	}
	return nil
}

// Multi emits to every sink, even after one fails.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, r Result) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Emit(ctx, r))
	}
	return err
}
