package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/daniiar-pro/game-alias/internal/auth"
	"github.com/daniiar-pro/game-alias/internal/chat"
	"github.com/daniiar-pro/game-alias/internal/game"
	"github.com/daniiar-pro/game-alias/internal/gateway"
	"github.com/daniiar-pro/game-alias/internal/httpapi"
	"github.com/daniiar-pro/game-alias/internal/rooms"
	"github.com/daniiar-pro/game-alias/internal/stats"
	"github.com/daniiar-pro/game-alias/internal/turnclock"
)

const schedulerBatchSize = 8

type Services struct {
	Rooms     *rooms.App
	Games     *game.App
	Chat      *chat.App
	Clock     *turnclock.Clock
	Scheduler *turnclock.Scheduler
	Manager   *gateway.ConnectionManager
	Consumer  *gateway.EventConsumer
	WS        *gateway.Handler
	API       *httpapi.API

	nc *nats.Conn
}

// Close releases shared resources after the run group exits.
func (s *Services) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func setupServices(pool *pgxpool.Pool, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Gateway layer

	clk := clockwork.NewRealClock()

	// Rooms
	roomRepo := rooms.NewPostgresRepository(pool)
	roomApp := rooms.NewApp(roomRepo)

	// Turn clock
	turnStore := turnclock.NewPostgresStore(pool)
	turnClock := turnclock.NewClock(clk, turnStore)

	// Game orchestration
	gameRepo := game.NewPostgresRepository(pool)
	gameApp := game.NewApp(roomApp, gameRepo, turnClock, clk, game.Config{
		DefaultMaxRounds:   config.Game.DefaultMaxRounds,
		DefaultTurnSeconds: config.Game.DefaultTurnSeconds,
	})

	// Expiry recovery scheduler; the clock pokes it whenever a sooner
	// deadline is persisted.
	scheduler := turnclock.NewScheduler(turnStore, clk, gameApp.HandleTurnTimeout, schedulerBatchSize)
	turnClock.SetWake(scheduler.Wake)

	// Chat
	chatRepo := chat.NewPostgresRepository(pool)
	chatApp := chat.NewApp(chatRepo, roomApp)

	// Gateway
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	services := &Services{
		Rooms:     roomApp,
		Games:     gameApp,
		Chat:      chatApp,
		Clock:     turnClock,
		Scheduler: scheduler,
		Manager:   cm,
	}

	var broadcaster gateway.Broadcaster
	if config.Bus.Enabled {
		busCfg := gateway.DefaultConsumerConfig()
		if config.Bus.URL != "" {
			busCfg.URL = config.Bus.URL
		}
		nc, err := gateway.Connect(busCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect broadcast bus: %w", err)
		}
		services.nc = nc
		services.Consumer = gateway.NewEventConsumer(cm, nc)
		broadcaster = gateway.NewNATSBroadcaster(nc)

		if config.Stats.Enabled {
			gameApp.SetStatsSink(stats.NewNATSSink(nc))
		}
	} else {
		broadcaster = gateway.NewLocalBroadcaster(cm)
	}
	gameApp.SetBroadcaster(gateway.NewStatePublisher(broadcaster))

	// Surfaces
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	verifier := auth.NewJWTVerifier(jwtSecret)

	services.WS = gateway.NewHandler(cm, roomApp, gameApp, chatApp, verifier, broadcaster)
	services.API = httpapi.NewAPI(roomApp, gameApp, chatApp, verifier)

	return services, nil
}
