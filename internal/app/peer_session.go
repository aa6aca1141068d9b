package app

import (
	"log/slog"
	"sync"

	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/logger"
	"trivia-bingo/internal/protocol"
)

// Outbox sends a message to the host.
type Outbox interface {
	Send(msg protocol.Message) error
}

// PeerSession mirrors the host's game state on a client. The host stays
// authoritative; the mirror only reflects what the host reports.
type PeerSession struct {
	name   string
	id     string
	out    Outbox
	logger *slog.Logger
	events *feed[Event]

	mu       sync.RWMutex
	card     *domain.Card
	global   []domain.Question
	current  *domain.Question
	scores   []domain.ScoreEntry
	started  bool
	finished bool
	winner   string
	summary  []domain.Summary
	err      error
}

func NewPeerSession(name string, out Outbox, l *slog.Logger) *PeerSession {
	if l == nil {
		l = logger.Discard()
	}
	return &PeerSession{name: name, out: out, logger: l, events: newFeed[Event]()}
}

func (s *PeerSession) Name() string { return s.name }

// ID returns the participant id the host assigned, known from game_start on.
func (s *PeerSession) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Login announces the player to the host.
func (s *PeerSession) Login() error {
	return s.sendToHost(protocol.TypeLogin, protocol.LoginPayload{PlayerName: s.name})
}

// Logout tells the host the player is leaving.
func (s *PeerSession) Logout() error {
	return s.sendToHost(protocol.TypeLogout, protocol.LogoutPayload{PlayerName: s.name})
}

func (s *PeerSession) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe(64)
}

// Answer submits an option for the question currently shown.
func (s *PeerSession) Answer(optionIndex int) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return domain.ErrGameFinished
	}
	if s.current == nil {
		s.mu.Unlock()
		return domain.ErrQuestionNotFound
	}
	qid := s.current.ID
	s.current = nil
	s.mu.Unlock()

	return s.sendToHost(protocol.TypeAnswer, protocol.AnswerPayload{
		PlayerName: s.name,
		Answer:     protocol.IndexAnswer(optionIndex),
		QuestionID: qid,
	})
}

// HandleMessage applies one message from the host.
func (s *PeerSession) HandleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeGameStart:
		var p protocol.GameStartPayload
		if !s.bind(msg, &p) {
			return
		}
		global := make([]domain.Question, 0, len(p.PreguntasGlobales))
		for _, q := range p.PreguntasGlobales {
			global = append(global, q.Question())
		}
		s.mu.Lock()
		s.id = p.Carton.OwnerID
		s.card, s.global, s.started = p.Carton.Card(), global, true
		s.mu.Unlock()
		s.events.publish(Event{Kind: EventGameStarted})

	case protocol.TypeQuestion:
		var p protocol.QuestionPayload
		if !s.bind(msg, &p) {
			return
		}
		q := p.Question()
		s.mu.Lock()
		s.current = &q
		s.mu.Unlock()
		qc := q
		s.events.publish(Event{Kind: EventQuestionAsked, Name: s.name, Question: &qc})

	case protocol.TypeAnswer:
		var p protocol.AnswerPayload
		if !s.bind(msg, &p) {
			return
		}
		s.mu.Lock()
		if p.PlayerID != "" && p.PlayerID == s.id {
			if s.card != nil {
				if cq := s.card.Find(p.QuestionID); cq != nil {
					cq.Answered, cq.Correct = true, p.Correct
				}
			}
			if s.current != nil && s.current.ID == p.QuestionID {
				s.current = nil
			}
		}
		s.mu.Unlock()
		idx := -1
		if p.Answer.Index != nil {
			idx = *p.Answer.Index
		}
		s.events.publish(Event{
			Kind:          EventAnswerResolved,
			ParticipantID: p.PlayerID,
			Name:          p.PlayerName,
			Question:      &domain.Question{ID: p.QuestionID},
			OptionIndex:   idx,
			Correct:       p.Correct,
		})

	case protocol.TypePlayerUpdate:
		var p protocol.PlayerUpdatePayload
		if !s.bind(msg, &p) {
			return
		}
		s.mu.Lock()
		s.scores = p.Players
		s.mu.Unlock()
		s.events.publish(Event{Kind: EventPlayers, Scores: p.Players})

	case protocol.TypeBingo:
		var p protocol.BingoPayload
		if !s.bind(msg, &p) {
			return
		}
		s.mu.Lock()
		s.winner = p.Winner
		s.mu.Unlock()
		s.events.publish(Event{Kind: EventBingo, Winner: p.Winner})

	case protocol.TypeGameEnd:
		var p protocol.GameEndPayload
		if !s.bind(msg, &p) {
			return
		}
		s.mu.Lock()
		s.finished, s.current, s.summary = true, nil, p.Summary
		if p.Winner != "" {
			s.winner = p.Winner
		}
		s.mu.Unlock()
		s.events.publish(Event{Kind: EventGameFinished, Winner: p.Winner, Result: &Result{WinnerName: p.Winner, Summary: p.Summary}})

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if !s.bind(msg, &p) {
			return
		}
		s.logger.Warn("host reported error", "message", p.Message)
		s.events.publish(Event{Kind: EventError, Message: p.Message})

	case protocol.TypePing:
		if err := s.sendToHost(protocol.TypePong, protocol.PingPayload{}); err != nil {
			s.logger.Debug("pong failed", "err", err)
		}
	}
}

// Disconnected ends the game locally; clients do not reconnect.
func (s *PeerSession) Disconnected() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished, s.current, s.err = true, nil, domain.ErrHostLost
	s.mu.Unlock()
	s.logger.Error("connection to host lost")
	s.events.publish(Event{Kind: EventHostLost, Message: domain.ErrHostLost.Error()})
}

// Err reports why the session ended abnormally.
func (s *PeerSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Card returns a copy of the local card, or nil before game start.
func (s *PeerSession) Card() *domain.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.card == nil {
		return nil
	}
	c := *s.card
	c.Questions = append([]domain.CardQuestion(nil), s.card.Questions...)
	return &c
}

func (s *PeerSession) Current() (domain.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Question{}, false
	}
	return *s.current, true
}

func (s *PeerSession) Scores() []domain.ScoreEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ScoreEntry(nil), s.scores...)
}

// GlobalQuestions is the turn order received at game start.
func (s *PeerSession) GlobalQuestions() []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Question(nil), s.global...)
}

// Outcome reports the winner and summary once the game ended.
func (s *PeerSession) Outcome() (winner string, summary []domain.Summary, finished bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.winner, append([]domain.Summary(nil), s.summary...), s.finished
}

func (s *PeerSession) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *PeerSession) bind(msg protocol.Message, v any) bool {
	if err := msg.Bind(v); err != nil {
		s.logger.Warn("dropping message", "type", msg.Type, "err", err)
		return false
	}
	return true
}

func (s *PeerSession) sendToHost(t protocol.Type, payload any) error {
	msg, err := protocol.NewMessage(t, payload, s.name)
	if err != nil {
		return err
	}
	return s.out.Send(msg)
}
