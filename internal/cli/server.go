package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/config"
	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/eth"
	"quiz-reward-service/internal/infra/memory"
	pginfra "quiz-reward-service/internal/infra/postgres"
	redisinfra "quiz-reward-service/internal/infra/redis"
	"quiz-reward-service/internal/logging"
	transport "quiz-reward-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz reward server",
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
	log := logging.New("quiz-reward-service")

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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// Storage: postgres when configured, otherwise the in-memory store
	// seeded with demo data.
	var attempts app.AttemptLedger
	var users app.UserStore
	var loader memory.QuizLoader
	if pool != nil {
		store := pginfra.NewStore(pool)
		attempts, users = store, store
		loader = pginfra.NewQuizLoader(pool)
	} else {
		store := memory.NewStore()
		for _, user := range sampleUsers() {
			store.SeedUser(user)
		}
		attempts, users = store, store
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
		log.Warn("postgres not configured, using in-memory storage")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizRepository
	if redisClient != nil {
		quizzes = redisinfra.NewQuizCache(redisClient, loader, quizTTL)
	} else {
		quizzes = memory.NewQuizCache(loader, quizTTL)
	}

	var ledger app.LedgerClient
	if cfg.Ledger.RPCURL != "" {
		ledger, err = eth.Dial(ctx, eth.Config{
			RPCURL:          cfg.Ledger.RPCURL,
			PrivateKey:      cfg.Ledger.PrivateKey,
			ContractAddress: cfg.Ledger.ContractAddress,
			ChainID:         cfg.Ledger.ChainID,
			PollInterval:    config.TTLDuration(cfg.Ledger.ConfirmInterval, 3*time.Second),
		})
		if err != nil {
			return err
		}
	} else {
		ledger = memory.NewLedgerClient()
		log.Warn("ledger rpc not configured, using simulated ledger")
	}

	feed := app.NewFeed()
	leaderboard := app.NewLeaderboardService(users, feed, log)
	quizService := app.NewQuizService(quizzes, attempts, users, leaderboard, log)
	settlement := app.NewSettlementService(attempts, users, ledger, leaderboard, log,
		cfg.Ledger.RewardRatePerPoint,
		config.TTLDuration(cfg.Ledger.ConfirmTimeout, 90*time.Second))

	handler := transport.NewHandler(quizService, settlement, leaderboard, log)
	wsHandler := transport.NewWSHandler(feed, leaderboard, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws/leaderboard", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting quiz reward service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the in-memory loader for local development.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "General Knowledge Warmup",
			Questions: []domain.Question{
				{
					Prompt:       "What is 2 + 2?",
					Options:      []string{"3", "4", "5", "22"},
					CorrectIndex: 1,
					Points:       1,
				},
				{
					Prompt:       "Which planet is known as the Red Planet?",
					Options:      []string{"Venus", "Jupiter", "Mars", "Saturn"},
					CorrectIndex: 2,
					Points:       2,
					Explanation:  "Iron oxide on the surface gives Mars its color.",
				},
			},
		},
	}
}

func sampleUsers() []domain.UserAggregate {
	return []domain.UserAggregate{
		{UserID: "u1", Username: "alice", WalletAddress: "0x00000000000000000000000000000000000000a1"},
		{UserID: "u2", Username: "bob"},
	}
}
