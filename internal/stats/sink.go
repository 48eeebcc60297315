// Package stats forwards finished-game reports to the stats service over NATS.
package stats

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/daniiar-pro/game-alias/internal/game"
)

// SubjectGameFinished is where finished-game reports are published. The
// stats service consumes these to build leaderboards and player histories.
const SubjectGameFinished = "stats.game.finished"

// NATSSink publishes game reports to NATS. Failures are logged and dropped,
// stats delivery must never affect gameplay.
type NATSSink struct {
	nc *nats.Conn
}

func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

func (s *NATSSink) GameFinished(ctx context.Context, report game.StatsReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		log.Warn().Err(err).Str("game_id", report.GameID).Msg("Failed to marshal stats report")
		return
	}
	if err := s.nc.Publish(SubjectGameFinished, payload); err != nil {
		log.Warn().Err(err).Str("game_id", report.GameID).Msg("Failed to publish stats report")
		return
	}
	log.Debug().
		Str("game_id", report.GameID).
		Str("room_id", report.RoomID).
		Int("winners", len(report.Winners)).
		Msg("Published game stats report")
}

// NoopSink discards reports. Used when no stats backend is configured.
type NoopSink struct{}

func (NoopSink) GameFinished(context.Context, game.StatsReport) {}
