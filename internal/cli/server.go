package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-duel-service/internal/app"
	"arena-duel-service/internal/config"
	"arena-duel-service/internal/domain"
	"arena-duel-service/internal/infra/memory"
	pgstore "arena-duel-service/internal/infra/postgres"
	redisinfra "arena-duel-service/internal/infra/redis"
	transport "arena-duel-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the duel engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store app.DuelStore
	var pool app.PoolProvider
	if cfg.Postgres.URL != "" {
		db := newBunDB(cfg.Postgres.URL)
		defer db.Close()
		store = pgstore.NewDuelStore(db)

		pgxPool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pgxPool.Close()
		pool = pgstore.NewPoolProvider(pgxPool)
	} else {
		store = memory.NewDuelStore()
		pool = memory.NewPoolProvider(samplePools())
	}

	acceptTTL := config.TTLDuration(cfg.Duel.AcceptTTL, 24*time.Hour)
	service := app.NewDuelService(store, pool, logRewardsLedger{}, acceptTTL)

	boardTTL := config.TTLDuration(cfg.Duel.LeaderboardTTL, time.Minute)
	var boards app.LeaderboardAggregator = app.NewAggregator(store)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		boards = redisinfra.NewLeaderboardCache(redisClient, boards, boardTTL)
	} else {
		boards = memory.NewLeaderboardCache(boards, boardTTL)
	}

	handler := transport.NewHandler(service, boards)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting duel service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newBunDB(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// logRewardsLedger stands in for the external rewards collaborator.
type logRewardsLedger struct{}

func (logRewardsLedger) RecordOutcome(_ context.Context, playerID string, outcome domain.Outcome) {
	log.Printf("rewards: player %s %s", playerID, outcome)
}

// samplePools provides minimal question data for running without Postgres.
func samplePools() map[string][]domain.QuestionRef {
	return map[string][]domain.QuestionRef{
		"demo-class": {
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Content: domain.MultipleChoiceContent{Options: []domain.ChoiceOption{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5", Correct: false},
				}},
			},
			{
				ID:      "q2",
				Prompt:  "Order the planets by distance from the sun",
				Content: domain.OrderingContent{Items: []string{"Mercury", "Venus", "Earth", "Mars"}},
			},
			{
				ID: "q3",
				Prompt: "Match the capital to its country",
				Content: domain.MatchingContent{Pairs: []domain.MatchPair{
					{Left: "France", Right: "Paris"},
					{Left: "Japan", Right: "Tokyo"},
				}},
			},
			{
				ID:     "q4",
				Prompt: "What is 3 * 3?",
				Content: domain.MultipleChoiceContent{Options: []domain.ChoiceOption{
					{ID: "o1", Text: "6", Correct: false},
					{ID: "o2", Text: "9", Correct: true},
				}},
			},
		},
	}
}
