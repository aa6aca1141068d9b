package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/config"
	"trivia-bingo/internal/domain"
)

func newSoloCmd(opts *rootOptions) *cobra.Command {
	flags := &gameFlags{}
	cmd := &cobra.Command{
		Use:   "solo",
		Short: "Play against simulated opponents without a network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSolo(ctx, cfg, log, flags.name)
		},
	}
	flags.register(cmd)
	bindEnv(cmd.Flags())
	return cmd
}

func runSolo(ctx context.Context, cfg config.Config, log *slog.Logger, name string) error {
	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	engineCfg.RequireOpponents = false

	backing, err := buildStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backing.Close()

	room := app.NewRoom(name, 0)
	session := app.NewHostSession(app.HostConfig{
		Engine:     engineCfg,
		Categories: cfg.Game.Categories,
		Bots:       cfg.Game.Bots,
	}, room, backing.bank,
		app.WithHostLogger(log),
		app.WithRecorder(backing.recorder))

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	if err := session.StartGame(ctx); err != nil {
		return err
	}

	con := newConsole(os.Stdin, os.Stdout)
	con.printf("%s vs %d bots (%s)\n", name, cfg.Game.Bots, engineCfg.Difficulty)
	self := room.Host().ID
	err = con.play(ctx, events, self, func(q domain.Question, idx int) error {
		_, err := session.ProcessAnswer(self, q.ID, idx)
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
