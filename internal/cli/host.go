package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/config"
	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/metrics"
	"trivia-bingo/internal/transport/ws"
)

type hostFlags struct {
	gameFlags
	port      int
	bind      string
	advertise string
	reveal    bool
}

func newHostCmd(opts *rootOptions) *cobra.Command {
	flags := &hostFlags{}
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Open a room and host a game",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			fs := cmd.Flags()
			if fs.Changed("port") {
				cfg.Server.Port = flags.port
			}
			if fs.Changed("bind") {
				cfg.Server.Bind = flags.bind
			}
			if fs.Changed("advertise") {
				cfg.Server.Advertise = flags.advertise
			}
			if fs.Changed("reveal-answers") {
				cfg.Game.RevealAnswers = flags.reveal
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg, log, flags.name)
		},
	}
	flags.register(cmd)
	fs := cmd.Flags()
	fs.IntVarP(&flags.port, "port", "p", 0, "port to listen on (env: BINGO_PORT)")
	fs.StringVarP(&flags.bind, "bind", "b", "", "address to bind to (env: BINGO_BIND)")
	fs.StringVar(&flags.advertise, "advertise", "", "address peers should dial, detected when empty (env: BINGO_ADVERTISE)")
	fs.BoolVar(&flags.reveal, "reveal-answers", false, "send correct answers to peers (env: BINGO_REVEAL_ANSWERS)")
	bindEnv(fs)
	return cmd
}

func runHost(ctx context.Context, cfg config.Config, log *slog.Logger, name string) error {
	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	backing, err := buildStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backing.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	room := app.NewRoom(name, cfg.Server.MaxParticipants)
	session := app.NewHostSession(app.HostConfig{
		Engine:        engineCfg,
		Categories:    cfg.Game.Categories,
		Bots:          cfg.Game.Bots,
		RevealAnswers: cfg.Game.RevealAnswers,
	}, room, backing.bank,
		app.WithHostLogger(log),
		app.WithHostMetrics(m),
		app.WithRecorder(backing.recorder))

	advertise := cfg.Server.Advertise
	if advertise == "" {
		advertise = localAddress()
	}
	advertise = advertiseAddress(advertise, cfg.Server.Port)
	joinURL := ws.JoinURL(advertise, cfg.Server.Port)

	heartbeat := config.Duration(cfg.Server.Heartbeat, 5*time.Second)
	host := ws.NewHost(session, room, ws.HostOptions{
		Heartbeat:    heartbeat,
		LoginTimeout: config.Duration(cfg.Server.LoginTimeout, 10*time.Second),
		JoinURL:      joinURL,
		Gatherer:     registry,
		Logger:       log,
		Metrics:      m,
	})
	session.Attach(host)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port)),
		Handler:           host.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	if err := backing.directory.Publish(ctx, room.Code(), advertise); err != nil {
		log.Warn("room code not published", "room", room.Code(), "err", err)
	}

	con := newConsole(os.Stdin, os.Stdout)
	con.printf("room code: %s\njoin address: %s\n", room.Code(), advertise)
	if qr, err := qrcode.New(joinURL, qrcode.Medium); err == nil {
		con.printf("%s\n", qr.ToSmallString(false))
	}
	con.printf("type 'start' when everyone has joined\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", server.Addr, "room", room.Code())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		session.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				removeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
				defer done()
				_ = backing.directory.Remove(removeCtx, room.Code())
				return nil
			case <-ticker.C:
				if err := backing.directory.Touch(gctx, room.Code()); errors.Is(err, domain.ErrRoomNotFound) {
					_ = backing.directory.Publish(gctx, room.Code(), advertise)
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return hostConsole(gctx, con, session)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		host.Close()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// hostConsole runs the lobby until the host types start, then plays the
// host's own card.
func hostConsole(ctx context.Context, con *console, session *app.HostSession) error {
	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	room := session.Room()

	for started := false; !started; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Kind == app.EventPlayers {
				con.printf("players: %d/%d\n", room.Count()-1, room.Capacity())
				con.showScores(ev.Scores)
			}
		case line, ok := <-con.lines:
			if !ok {
				return nil
			}
			if line != "start" {
				continue
			}
			if err := session.StartGame(ctx); err != nil {
				con.printf("cannot start: %v\n", err)
				continue
			}
			started = true
		}
	}

	self := room.Host().ID
	return con.play(ctx, events, self, func(q domain.Question, idx int) error {
		_, err := session.ProcessAnswer(self, q.ID, idx)
		return err
	})
}

// advertiseAddress adds the listen port to a bare host. Values that already
// carry a port or a URL scheme are published as given.
func advertiseAddress(advertise string, port int) string {
	if strings.Contains(advertise, "://") {
		return advertise
	}
	if _, _, err := net.SplitHostPort(advertise); err == nil {
		return advertise
	}
	return net.JoinHostPort(advertise, strconv.Itoa(port))
}

// localAddress picks the address of the interface used for outbound traffic.
func localAddress() string {
	conn, err := net.Dial("udp", "192.0.2.1:9")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
