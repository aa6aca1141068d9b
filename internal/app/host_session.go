package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/logger"
	"trivia-bingo/internal/metrics"
	"trivia-bingo/internal/protocol"
)

// Transport is the host side of the session transport.
type Transport interface {
	Send(peerID string, msg protocol.Message) bool
	Broadcast(msg protocol.Message, exclude string) bool
	Disconnect(peerID string)
}

// QuestionBank supplies the flattened question bank for a game.
type QuestionBank interface {
	Questions(ctx context.Context) ([]domain.Question, error)
}

// ResultRecorder persists finished games.
type ResultRecorder interface {
	RecordGame(ctx context.Context, rec domain.GameRecord) error
}

// HostConfig configures the host role.
type HostConfig struct {
	Engine        EngineConfig
	Categories    []string
	Bots          int
	RevealAnswers bool
}

// HostSession glues the room, the engine and the transport together on the
// host. It implements the transport's peer handler.
type HostSession struct {
	cfg      HostConfig
	room     *Room
	bank     QuestionBank
	recorder ResultRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	rng      *rand.Rand
	events   *feed[Event]

	mu        sync.Mutex
	transport Transport
	engine    *Engine
	gameID    string
	asked     map[string]domain.Question
}

type HostOption func(*HostSession)

func WithHostLogger(l *slog.Logger) HostOption {
	return func(s *HostSession) { s.logger = l }
}

func WithHostMetrics(m *metrics.Metrics) HostOption {
	return func(s *HostSession) { s.metrics = m }
}

func WithRecorder(r ResultRecorder) HostOption {
	return func(s *HostSession) { s.recorder = r }
}

func WithHostRand(rng *rand.Rand) HostOption {
	return func(s *HostSession) { s.rng = rng }
}

func NewHostSession(cfg HostConfig, room *Room, bank QuestionBank, opts ...HostOption) *HostSession {
	s := &HostSession{
		cfg:    cfg,
		room:   room,
		bank:   bank,
		logger: logger.Discard(),
		events: newFeed[Event](),
		asked:  make(map[string]domain.Question),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Attach sets the transport used to reach peers.
func (s *HostSession) Attach(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *HostSession) Room() *Room { return s.room }

// Engine returns the running engine, or nil before StartGame.
func (s *HostSession) Engine() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Subscribe returns every engine event after the host has acted on it.
func (s *HostSession) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe(64)
}

// Run broadcasts the player list on every room change until ctx is done.
func (s *HostSession) Run(ctx context.Context) {
	updates, cancel := s.room.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-updates:
			if !ok {
				return
			}
			scores := make([]domain.ScoreEntry, 0, len(list))
			for _, p := range list {
				if !p.Disconnected {
					scores = append(scores, domain.ScoreEntry{Name: p.DisplayName, Score: p.Score})
				}
			}
			s.broadcast(protocol.TypePlayerUpdate, protocol.PlayerUpdatePayload{Players: scores})
			s.events.publish(Event{Kind: EventPlayers, Scores: scores})
		}
	}
}

// Admit registers a peer that sent its login.
func (s *HostSession) Admit(peerID, name, address string) error {
	if s.room.RegisterJoin(peerID, name, address) {
		joined, _ := s.room.Get(peerID)
		s.logger.Info("player joined", "participant", peerID, "name", joined.DisplayName, "room", s.room.Code())
		return nil
	}
	if s.room.Started() {
		return fmt.Errorf("%w: %w", domain.ErrConnectionRejected, domain.ErrGameStarted)
	}
	return fmt.Errorf("%w: %w", domain.ErrConnectionRejected, domain.ErrRoomFull)
}

// HandleMessage dispatches one decoded message from an admitted peer.
func (s *HostSession) HandleMessage(peerID string, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeAnswer:
		var payload protocol.AnswerPayload
		if err := msg.Bind(&payload); err != nil {
			s.logger.Warn("dropping answer", "participant", peerID, "err", err)
			return
		}
		s.handleAnswer(peerID, payload)
	case protocol.TypePing:
		s.send(peerID, protocol.TypePong, protocol.PingPayload{})
	case protocol.TypeLogout:
		s.mu.Lock()
		t := s.transport
		s.mu.Unlock()
		if t != nil {
			t.Disconnect(peerID)
		}
	case protocol.TypeLogin:
		s.send(peerID, protocol.TypeError, protocol.ErrorPayload{Message: "already logged in"})
	default:
		s.logger.Debug("ignoring message", "participant", peerID, "type", msg.Type)
	}
}

// Disconnected removes a peer from the room and from the running game.
func (s *HostSession) Disconnected(peerID string) {
	s.room.Remove(peerID)
	if e := s.Engine(); e != nil {
		e.Disconnect(peerID)
	}
	s.logger.Info("player left", "participant", peerID)
}

// ProcessAnswer is the entry point for the host's local player.
func (s *HostSession) ProcessAnswer(participantID, questionID string, optionIndex int) (bool, error) {
	e := s.Engine()
	if e == nil {
		return false, domain.ErrGameNotStarted
	}
	return e.ProcessAnswer(participantID, questionID, optionIndex)
}

// SendQuestion delivers a question to a remote participant.
func (s *HostSession) SendQuestion(participantID string, q domain.Question) bool {
	s.mu.Lock()
	s.asked[participantID] = q
	s.mu.Unlock()
	return s.send(participantID, protocol.TypeQuestion, protocol.NewQuestionView(q, s.cfg.RevealAnswers))
}

// StartGame builds the cards, sends every peer its game_start and launches
// the engine. The engine lives until ctx is cancelled or the game ends.
func (s *HostSession) StartGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		return domain.ErrGameStarted
	}
	if s.cfg.Engine.RequireOpponents && s.room.Count() < 2 {
		return domain.ErrInsufficientParticipants
	}
	bank, err := s.bank.Questions(ctx)
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}

	players := s.room.List()
	deal, err := BuildGame(bank, s.cfg.Categories, len(players)+s.cfg.Bots, s.rng)
	if err != nil {
		return err
	}
	if err := s.room.MarkStarted(); err != nil {
		return err
	}
	// peers that left between List and MarkStarted
	present := make(map[string]bool, len(players))
	for _, p := range s.room.List() {
		present[p.ID] = !p.Disconnected
	}
	for i := range players {
		if !present[players[i].ID] {
			players[i].Disconnected = true
		}
	}

	participants := make([]*domain.Participant, 0, len(deal.Cards))
	for i := range players {
		p := players[i]
		participants = append(participants, &p)
	}
	names := make(map[string]bool, len(players))
	for _, p := range players {
		names[p.DisplayName] = true
	}
	for i, n := 0, 1; i < s.cfg.Bots; i, n = i+1, n+1 {
		name := fmt.Sprintf("Bot %d", n)
		for names[name] {
			n++
			name = fmt.Sprintf("Bot %d", n)
		}
		names[name] = true
		participants = append(participants, &domain.Participant{
			ID:          uuid.NewString(),
			DisplayName: name,
			Kind:        domain.KindSimulated,
			JoinedAt:    time.Now(),
		})
	}
	for i, p := range participants {
		p.Score = 0
		p.Card = deal.Cards[i]
		p.Card.OwnerID = p.ID
	}

	engine := NewEngine(s.cfg.Engine, participants, deal.Pool, s,
		WithLogger(s.logger), WithMetrics(s.metrics), WithRand(s.rng))
	events, cancel := engine.Follow()

	global := make([]protocol.QuestionView, 0, deal.Pool.Len())
	for _, q := range deal.Pool.Questions() {
		global = append(global, protocol.NewQuestionView(q, s.cfg.RevealAnswers))
	}
	for _, p := range participants {
		if p.Kind != domain.KindHumanRemote || p.Disconnected {
			continue
		}
		payload := protocol.GameStartPayload{
			Carton:            protocol.NewCardView(p.Card, s.cfg.RevealAnswers),
			PreguntasGlobales: global,
		}
		if !s.sendLocked(p.ID, protocol.TypeGameStart, payload) {
			engine.Disconnect(p.ID)
		}
	}

	if err := engine.Start(ctx); err != nil {
		cancel()
		return err
	}
	s.engine = engine
	s.gameID = uuid.NewString()
	go s.pump(events, cancel)

	s.logger.Info("game started", "room", s.room.Code(), "game", s.gameID, "participants", len(participants))
	return nil
}

// pump turns engine events into network messages and republishes them.
// It must keep up with the engine: its subscription never drops events.
func (s *HostSession) pump(events <-chan Event, cancel func()) {
	defer cancel()
	for ev := range events {
		switch ev.Kind {
		case EventAnswerResolved:
			s.room.SetScore(ev.ParticipantID, ev.Score)
			s.broadcast(protocol.TypeAnswer, protocol.AnswerPayload{
				PlayerName: ev.Name,
				PlayerID:   ev.ParticipantID,
				Answer:     protocol.IndexAnswer(ev.OptionIndex),
				Correct:    ev.Correct,
				QuestionID: ev.Question.ID,
			})
		case EventRoundEnded:
			s.broadcast(protocol.TypePlayerUpdate, protocol.PlayerUpdatePayload{Players: ev.Scores})
		case EventBingo:
			s.room.SetScore(ev.ParticipantID, ev.Score)
			s.broadcast(protocol.TypeBingo, protocol.BingoPayload{Winner: ev.Winner})
		case EventGameFinished:
			s.broadcast(protocol.TypeGameEnd, protocol.GameEndPayload{Winner: ev.Winner, Summary: ev.Result.Summary})
			s.record(*ev.Result)
		}
		s.events.publish(ev)
		if ev.Kind == EventGameFinished {
			return
		}
	}
}

func (s *HostSession) record(res Result) {
	if s.recorder == nil {
		return
	}
	s.mu.Lock()
	gameID := s.gameID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.recorder.RecordGame(ctx, domain.GameRecord{
		GameID:     gameID,
		RoomCode:   s.room.Code(),
		Winner:     res.WinnerName,
		Exhausted:  res.Exhausted,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Players:    res.Summary,
	})
	if err != nil {
		s.logger.Error("record game result", "game", gameID, "err", err)
	}
}

func (s *HostSession) handleAnswer(peerID string, payload protocol.AnswerPayload) {
	s.mu.Lock()
	engine := s.engine
	q, asked := s.asked[peerID]
	s.mu.Unlock()

	if engine == nil {
		s.send(peerID, protocol.TypeError, protocol.ErrorPayload{Message: domain.ErrGameNotStarted.Error()})
		return
	}
	questionID := payload.QuestionID
	if questionID == "" {
		if !asked {
			s.send(peerID, protocol.TypeError, protocol.ErrorPayload{Message: domain.ErrQuestionNotFound.Error()})
			return
		}
		questionID = q.ID
	}
	var options []string
	if asked && q.ID == questionID {
		options = q.Options
	}
	idx, ok := payload.Answer.Resolve(options)
	if !ok {
		idx = -1
	}

	// the peer's own correct flag is ignored
	if _, err := engine.ProcessAnswer(peerID, questionID, idx); err != nil {
		s.logger.Debug("answer rejected", "participant", peerID, "question", questionID, "err", err)
		if !errors.Is(err, domain.ErrGameFinished) {
			s.send(peerID, protocol.TypeError, protocol.ErrorPayload{Message: err.Error()})
		}
	}
}

func (s *HostSession) send(peerID string, t protocol.Type, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(peerID, t, payload)
}

func (s *HostSession) sendLocked(peerID string, t protocol.Type, payload any) bool {
	if s.transport == nil {
		return false
	}
	msg, err := protocol.NewMessage(t, payload, protocol.ServerID)
	if err != nil {
		s.logger.Error("encode message", "type", t, "err", err)
		return false
	}
	return s.transport.Send(peerID, msg)
}

func (s *HostSession) broadcast(t protocol.Type, payload any) {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return
	}
	msg, err := protocol.NewMessage(t, payload, protocol.ServerID)
	if err != nil {
		s.logger.Error("encode message", "type", t, "err", err)
		return
	}
	transport.Broadcast(msg, "")
}
