package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/config"
	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/infra/files"
	"trivia-bingo/internal/infra/memory"
	pgstore "trivia-bingo/internal/infra/postgres"
	redisstore "trivia-bingo/internal/infra/redis"
)

// roomDirectory maps room codes to host addresses.
type roomDirectory interface {
	Publish(ctx context.Context, code, addr string) error
	Resolve(ctx context.Context, code string) (string, error)
	Touch(ctx context.Context, code string) error
	Remove(ctx context.Context, code string) error
}

// stack holds the backing services selected by the config.
type stack struct {
	bank      app.QuestionBank
	recorder  app.ResultRecorder
	directory roomDirectory
	closers   []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStack wires postgres and redis when configured and falls back to the
// bank directory and in-memory stores otherwise.
func buildStack(ctx context.Context, cfg config.Config, log *slog.Logger) (*stack, error) {
	s := &stack{}

	var loader memory.BankLoader = files.NewDirLoader(cfg.Bank.Dir, log)
	s.recorder = memory.NewResultStore()
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		loader = pgstore.NewBankLoader(pool)
		s.recorder = pgstore.NewResultStore(pool)
	}

	bankTTL := config.Duration(cfg.Bank.TTL, 10*time.Minute)
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.bank = redisstore.NewBankRepository(client, loader, bankTTL, log)
		s.directory = redisstore.NewRoomDirectory(client, redisTTL)
	} else {
		s.bank = memory.NewBankRepository(loader, bankTTL, log)
		s.directory = memory.NewRoomDirectory(redisTTL)
	}
	return s, nil
}

func engineConfig(cfg config.Config) (app.EngineConfig, error) {
	difficulty, ok := domain.ParseDifficulty(cfg.Game.Difficulty)
	if !ok {
		return app.EngineConfig{}, fmt.Errorf("unknown difficulty %q", cfg.Game.Difficulty)
	}
	def := app.DefaultEngineConfig()
	return app.EngineConfig{
		AnswerTimeout:    config.Duration(cfg.Game.AnswerTimeout, def.AnswerTimeout),
		BotDelayMin:      config.Duration(cfg.Game.BotDelayMin, def.BotDelayMin),
		BotDelayMax:      config.Duration(cfg.Game.BotDelayMax, def.BotDelayMax),
		RoundDelay:       config.Duration(cfg.Game.RoundDelay, def.RoundDelay),
		Difficulty:       difficulty,
		RequireOpponents: true,
	}, nil
}

// gameFlags are shared by the host and solo commands.
type gameFlags struct {
	name       string
	bots       int
	difficulty string
	categories []string
}

func (f *gameFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.name, "name", "Anfitrión", "your display name (env: BINGO_NAME)")
	fs.IntVar(&f.bots, "bots", 0, "simulated opponents, overrides game.bots (env: BINGO_BOTS)")
	fs.StringVar(&f.difficulty, "difficulty", "", "easy, medium or hard (env: BINGO_DIFFICULTY)")
	fs.StringSliceVar(&f.categories, "categories", nil, "restrict questions to these categories (env: BINGO_CATEGORIES)")
}

func (f *gameFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("bots") {
		cfg.Game.Bots = f.bots
	}
	if fs.Changed("difficulty") {
		cfg.Game.Difficulty = f.difficulty
	}
	if fs.Changed("categories") {
		cfg.Game.Categories = f.categories
	}
}
