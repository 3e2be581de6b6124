package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"

	"github.com/dskvich/character-chat/pkg/api"
	"github.com/dskvich/character-chat/pkg/api/handler"
	"github.com/dskvich/character-chat/pkg/auth"
	"github.com/dskvich/character-chat/pkg/database"
	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/locker"
	"github.com/dskvich/character-chat/pkg/logger"
	"github.com/dskvich/character-chat/pkg/openai"
	"github.com/dskvich/character-chat/pkg/repository"
	"github.com/dskvich/character-chat/pkg/services"
	"github.com/dskvich/character-chat/pkg/telegram"
	"github.com/dskvich/character-chat/pkg/workers"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	OpenAIToken     string        `env:"OPEN_AI_TOKEN,required"`
	OpenAIBaseURL   string        `env:"OPEN_AI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	DefaultModel    string        `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"20"`
	IdleReadTimeout time.Duration `env:"IDLE_READ_TIMEOUT" envDefault:"30s"`
	PgURL           string        `env:"DATABASE_URL"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"character-chat.db"`
	LocalHistoryDir string        `env:"LOCAL_HISTORY_DIR"`
	RedisURL        string        `env:"REDIS_URL"`
	LockTTL         time.Duration `env:"LOCK_TTL" envDefault:"2m"`
	JWTSecret       string        `env:"JWT_SECRET,required"`
	AuthorizedUsers []string      `env:"AUTHORIZED_USER_IDS" envSeparator:" "`
	LogNoColor      bool          `env:"LOG_NO_COLOR"`

	TelegramBotToken     string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramCharacterID  string        `env:"TELEGRAM_CHARACTER_ID"`
	TelegramEditInterval time.Duration `env:"TELEGRAM_EDIT_INTERVAL" envDefault:"1s"`
}

// Validate rejects combinations env tags cannot express.
func (c Config) Validate() error {
	if c.TelegramBotToken == "" {
		return nil
	}
	if c.TelegramCharacterID == "" {
		return fmt.Errorf("TELEGRAM_CHARACTER_ID is required with TELEGRAM_BOT_TOKEN")
	}
	// The local store keeps one transcript per character, shared by everyone.
	if c.LocalHistoryDir != "" {
		return fmt.Errorf("LOCAL_HISTORY_DIR is single-user and cannot serve TELEGRAM_BOT_TOKEN")
	}
	return nil
}

func main() {
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, logger.DefaultOptions)))

	if err := runMain(); err != nil {
		slog.Error("shutting down due to error", logger.Err(err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func runMain() error {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if cfg.LogNoColor {
		slog.SetDefault(logger.New(os.Stderr, slog.LevelDebug, true))
	}

	workerGroup, cleanup, err := setupWorkers(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		select {
		case s := <-sigCh:
			slog.Info("shutting down due to signal", "signal", s.String())
			cancelFn()
		case <-ctx.Done():
		}
	}()

	return workerGroup.Start(ctx)
}

// conversationStore is what both front ends need from conversation storage.
type conversationStore interface {
	GetOrCreateConversation(ctx context.Context, characterID, userID string) (string, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	Append(ctx context.Context, turn domain.Turn) (domain.Turn, error)
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

func setupWorkers(cfg Config) (workers.Group, func(), error) {
	var workerGroup workers.Group
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating db: %w", err)
	}
	closers = append(closers, func() { db.Close() })

	var conversations conversationStore = repository.NewConversationRepository(db)
	if cfg.LocalHistoryDir != "" {
		local, err := repository.NewLocalHistoryRepository(cfg.LocalHistoryDir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("creating local history: %w", err)
		}
		slog.Info("storing conversations as local files", "dir", cfg.LocalHistoryDir)
		conversations = local
	}

	var conversationLocker services.Locker = locker.NewMemoryLocker()
	if cfg.RedisURL != "" {
		rdb, err := locker.NewRedisClient(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("creating redis client: %w", err)
		}
		closers = append(closers, func() { rdb.Close() })
		conversationLocker = locker.NewRedisLocker(rdb, cfg.LockTTL)
		slog.Info("using redis conversation locks", "ttl", cfg.LockTTL)
	}

	openAIClient, err := openai.NewClient(openai.Config{
		Token:   cfg.OpenAIToken,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.DefaultModel,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating open ai client: %w", err)
	}

	authenticator, err := auth.NewAuthenticator(cfg.JWTSecret, cfg.AuthorizedUsers)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating authenticator: %w", err)
	}

	characterService := services.NewCharacterService(repository.NewCharacterRepository(db))

	conversationService := services.NewConversationService(
		conversations,
		openAIClient,
		conversationLocker,
		services.ConversationConfig{
			HistoryLimit: cfg.HistoryLimit,
			IdleTimeout:  cfg.IdleReadTimeout,
			DefaultModel: cfg.DefaultModel,
		},
	)

	router := api.NewRouter(api.RouterConfig{
		Authenticator:       authenticator,
		CharacterHandler:    handler.NewCharacter(characterService),
		ConversationHandler: handler.NewConversation(characterService, conversations, conversationService),
	})
	workerGroup = append(workerGroup, workers.NewHTTPServer(cfg.HTTPAddr, router))

	if cfg.TelegramBotToken != "" {
		telegramClient, err := telegram.NewClient(cfg.TelegramBotToken)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("creating telegram client: %w", err)
		}

		telegramHandler := telegram.NewHandler(
			characterService,
			conversations,
			conversationService,
			conversationLocker,
			telegramClient,
			telegramClient,
			telegram.Config{
				CharacterID:  cfg.TelegramCharacterID,
				EditInterval: cfg.TelegramEditInterval,
			},
		)

		worker, err := workers.NewTelegramUpdateListener(telegramClient, authenticator, telegramHandler)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		workerGroup = append(workerGroup, worker)
	}

	return workerGroup, cleanup, nil
}

func openDatabase(cfg Config) (*sql.DB, error) {
	if cfg.PgURL != "" {
		return database.NewPostgres(cfg.PgURL)
	}
	slog.Info("DATABASE_URL is empty, using sqlite", "path", cfg.SQLitePath)
	return database.NewSQLite(cfg.SQLitePath)
}
