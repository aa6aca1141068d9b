package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/config"
	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/transport/ws"
)

type joinFlags struct {
	name string
	host string
	room string
}

func newJoinCmd(opts *rootOptions) *cobra.Command {
	flags := &joinFlags{}
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a hosted game by address or room code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.host == "" && flags.room == "" {
				return fmt.Errorf("either --host or --room is required")
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, cfg, log, flags)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.name, "name", "Jugador", "your display name (env: BINGO_NAME)")
	fs.StringVar(&flags.host, "host", "", "host address, host:port or ws:// URL (env: BINGO_HOST)")
	fs.StringVar(&flags.room, "room", "", "six-digit room code, resolved through redis (env: BINGO_ROOM)")
	bindEnv(fs)
	return cmd
}

func runJoin(ctx context.Context, cfg config.Config, log *slog.Logger, flags *joinFlags) error {
	address := flags.host
	if address == "" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("joining by room code needs redis.addr: %w", domain.ErrRoomNotFound)
		}
		backing, err := buildStack(ctx, cfg, log)
		if err != nil {
			return err
		}
		address, err = backing.directory.Resolve(ctx, flags.room)
		backing.Close()
		if err != nil {
			return fmt.Errorf("room %s: %w", flags.room, err)
		}
	}

	url := ws.JoinURL(address, cfg.Server.Port)
	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	client, err := ws.Dial(dialCtx, url, ws.ClientOptions{
		Heartbeat: config.Duration(cfg.Server.Heartbeat, 5*time.Second),
		Logger:    log,
	})
	cancelDial()
	if err != nil {
		return err
	}
	defer client.Close()

	peer := app.NewPeerSession(flags.name, client, log)
	events, unsubscribe := peer.Subscribe()
	defer unsubscribe()
	if err := peer.Login(); err != nil {
		return err
	}

	con := newConsole(os.Stdin, os.Stdout)
	con.printf("connected to %s as %s, waiting for the host to start\n", url, flags.name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Run(gctx, peer)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		err := con.play(gctx, events, "", func(_ domain.Question, idx int) error {
			return peer.Answer(idx)
		})
		if err == nil {
			_ = peer.Logout()
		}
		return err
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(peer.Err(), domain.ErrHostLost) {
		return domain.ErrHostLost
	}
	return err
}
