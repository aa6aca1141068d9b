package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
	pgstore "trivia-bingo/internal/infra/postgres"
	pgmigrations "trivia-bingo/internal/infra/postgres/migrations"
	infraredis "trivia-bingo/internal/infra/redis"
	"trivia-bingo/internal/transport/ws"
)

func TestHostedGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedBank(t, ctx, pgURL, sampleBank())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	bank := infraredis.NewBankRepository(redisClient, pgstore.NewBankLoader(pool), 5*time.Minute, nil)
	results := pgstore.NewResultStore(pool)

	cfg := app.HostConfig{Engine: app.DefaultEngineConfig(), RevealAnswers: true}
	cfg.Engine.RoundDelay = 0
	cfg.Engine.AnswerTimeout = 5 * time.Second
	room := app.NewRoom("Anfitrión", 10)
	session := app.NewHostSession(cfg, room, bank, app.WithRecorder(results))

	host := ws.NewHost(session, room, ws.HostOptions{Heartbeat: time.Second})
	session.Attach(host)
	server := httptest.NewServer(host.Handler())
	defer server.Close()
	defer host.Close()

	directory := infraredis.NewRoomDirectory(redisClient, time.Minute)
	if err := directory.Publish(ctx, room.Code(), strings.TrimPrefix(server.URL, "http://")); err != nil {
		t.Fatalf("publish room: %v", err)
	}
	addr, err := directory.Resolve(ctx, room.Code())
	if err != nil {
		t.Fatalf("resolve room: %v", err)
	}

	client, err := ws.Dial(ctx, ws.JoinURL(addr, 5000), ws.ClientOptions{Heartbeat: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	peer := app.NewPeerSession("Remoto", client, nil)
	peerEvents, cancelPeer := peer.Subscribe()
	defer cancelPeer()
	go client.Run(ctx, peer)
	if err := peer.Login(); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitFor(t, func() bool { return room.Count() == 2 })

	hostEvents, cancelHost := session.Subscribe()
	defer cancelHost()
	if err := session.StartGame(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	hostID := room.Host().ID
	timeout := time.After(30 * time.Second)
	for finished := false; !finished; {
		select {
		case ev := <-hostEvents:
			switch ev.Kind {
			case app.EventQuestionAsked:
				if ev.ParticipantID == hostID {
					_, _ = session.ProcessAnswer(hostID, ev.Question.ID, ev.Question.CorrectOptionIndex)
				}
			case app.EventGameFinished:
				finished = true
			}
		case ev := <-peerEvents:
			if ev.Kind == app.EventQuestionAsked {
				_ = peer.Answer(ev.Question.CorrectOptionIndex)
			}
		case <-timeout:
			t.Fatalf("game did not finish")
		}
	}

	res, ok := session.Engine().Result()
	if !ok || res.WinnerName == "" || res.Exhausted {
		t.Fatalf("expected a bingo winner, got %+v", res)
	}
	waitFor(t, func() bool {
		winners, err := results.Winners(ctx, 10)
		return err == nil && len(winners) == 1 && winners[0].Name == res.WinnerName
	})

	var players int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM game_players`).Scan(&players); err != nil || players != 2 {
		t.Fatalf("expected 2 game_players rows, got %d (%v)", players, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "bingo", "POSTGRES_PASSWORD": "bingopass", "POSTGRES_DB": "bingodb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://bingo:bingopass@%s:%s/bingodb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedBank(t *testing.T, ctx context.Context, dsn string, records []domain.BankRecord) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	n, err := pgstore.NewImporter(db).Import(ctx, records)
	if err != nil {
		t.Fatalf("import bank: %v", err)
	}
	if n != 12 {
		t.Fatalf("expected 12 imported questions, got %d", n)
	}
}

func sampleBank() []domain.BankRecord {
	rec := domain.BankRecord{Category: "general", Source: "carton1.json"}
	for i := 0; i < 12; i++ {
		rec.Questions = append(rec.Questions, domain.BankQuestion{
			Text:          fmt.Sprintf("¿Cuánto es %d + 1?", i),
			Options:       []string{fmt.Sprint(i + 1), fmt.Sprint(i + 2), fmt.Sprint(i + 3)},
			CorrectAnswer: fmt.Sprint(i + 1),
		})
	}
	return []domain.BankRecord{rec}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
