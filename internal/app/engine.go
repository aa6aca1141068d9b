package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/logger"
	"trivia-bingo/internal/metrics"
)

// State of a game.
type State int32

const (
	StateNotStarted State = iota
	StateRoundActive
	StateRoundResolving
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRoundActive:
		return "round_active"
	case StateRoundResolving:
		return "round_resolving"
	case StateFinished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Sender delivers a question to a remote participant. False means the peer
// is unreachable and will be treated as disconnected.
type Sender interface {
	SendQuestion(participantID string, q domain.Question) bool
}

// EngineConfig holds the turn budget of a game.
type EngineConfig struct {
	AnswerTimeout time.Duration
	BotDelayMin   time.Duration
	BotDelayMax   time.Duration
	RoundDelay    time.Duration
	Difficulty    domain.Difficulty
	// RequireOpponents enforces at least two connected participants at start.
	RequireOpponents bool
}

// DefaultEngineConfig mirrors the default game settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AnswerTimeout:    15 * time.Second,
		BotDelayMin:      time.Second,
		BotDelayMax:      3 * time.Second,
		RoundDelay:       time.Second,
		Difficulty:       domain.DifficultyMedium,
		RequireOpponents: true,
	}
}

type EngineOption func(*Engine)

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithRand sets the source for bot delays and bot correctness.
func WithRand(rng *rand.Rand) EngineOption {
	return func(e *Engine) { e.rng = rng }
}

// Engine runs the turn loop of one game. Every mutation of participants,
// cards and the pool happens on the engine goroutine; other goroutines talk
// to it through commands.
type Engine struct {
	cfg          EngineConfig
	participants []*domain.Participant
	byID         map[string]*domain.Participant
	pool         *Pool
	sender       Sender
	logger       *slog.Logger
	metrics      *metrics.Metrics
	rng          *rand.Rand

	state    atomic.Int32
	commands chan command
	done     chan struct{}
	events   *feed[Event]

	lifecycle sync.Mutex
	started   bool

	// owned by the engine goroutine
	round     int
	current   *activeRound
	advance   bool
	finished  bool
	startedAt time.Time

	resultMu sync.RWMutex
	result   *Result
}

type activeRound struct {
	number   int
	question domain.Question
	pending  map[string]*time.Timer
}

type command interface{}

type answerCmd struct {
	participantID string
	questionID    string
	optionIndex   int
	reply         chan answerReply
}

type answerReply struct {
	correct bool
	err     error
}

type botAnswerCmd struct {
	round         int
	participantID string
	correct       bool
}

type timeoutCmd struct {
	round         int
	participantID string
}

type disconnectCmd struct {
	participantID string
}

type nextRoundCmd struct{}

type snapshotCmd struct {
	reply chan []domain.Participant
}

// NewEngine takes ownership of participants and pool. Every participant must
// already hold a card.
func NewEngine(cfg EngineConfig, participants []*domain.Participant, pool *Pool, sender Sender, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:          cfg,
		participants: participants,
		byID:         make(map[string]*domain.Participant, len(participants)),
		pool:         pool,
		sender:       sender,
		logger:       logger.Discard(),
		commands:     make(chan command),
		done:         make(chan struct{}),
		events:       newFeed[Event](),
	}
	for _, p := range participants {
		e.byID[p.ID] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// Start validates the game and launches the turn loop. Cancelling ctx
// aborts the game.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.started {
		return domain.ErrGameStarted
	}
	if e.pool == nil || e.pool.Len() == 0 {
		return domain.ErrEmptyQuestionBank
	}
	if e.cfg.RequireOpponents && e.connected() < 2 {
		return domain.ErrInsufficientParticipants
	}
	for _, p := range e.participants {
		if p.Card == nil {
			return fmt.Errorf("participant %s: %w", p.ID, domain.ErrParticipantNotFound)
		}
	}

	e.started = true
	e.startedAt = time.Now()
	e.state.Store(int32(StateRoundActive))
	go e.run(ctx)
	return nil
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Done is closed once the game is finished.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Result returns the outcome once the game is finished.
func (e *Engine) Result() (Result, bool) {
	e.resultMu.RLock()
	defer e.resultMu.RUnlock()
	if e.result == nil {
		return Result{}, false
	}
	return *e.result, true
}

// Subscribe returns a channel of engine events. Subscribe before Start to
// see the whole game. The caller must invoke the returned cancel function.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe(64)
}

// Follow is Subscribe without loss: the engine waits for the reader instead
// of dropping events. The channel is not closed by cancel; readers stop at
// EventGameFinished.
func (e *Engine) Follow() (<-chan Event, func()) {
	return e.events.follow(64)
}

// ProcessAnswer submits a selection for a participant's currently asked
// question and reports whether it was correct.
func (e *Engine) ProcessAnswer(participantID, questionID string, optionIndex int) (bool, error) {
	switch e.State() {
	case StateNotStarted:
		return false, domain.ErrGameNotStarted
	case StateFinished:
		return false, domain.ErrGameFinished
	}
	reply := make(chan answerReply, 1)
	if !e.dispatch(answerCmd{participantID: participantID, questionID: questionID, optionIndex: optionIndex, reply: reply}) {
		return false, domain.ErrGameFinished
	}
	select {
	case r := <-reply:
		return r.correct, r.err
	case <-e.done:
		return false, domain.ErrGameFinished
	}
}

// Disconnect excludes a participant from every later round. Its card is frozen.
func (e *Engine) Disconnect(participantID string) {
	e.lifecycle.Lock()
	if !e.started {
		if p := e.byID[participantID]; p != nil {
			p.Disconnected = true
		}
		e.lifecycle.Unlock()
		return
	}
	e.lifecycle.Unlock()
	e.dispatch(disconnectCmd{participantID: participantID})
}

// Participants returns copies of the participants with their cards.
func (e *Engine) Participants() []domain.Participant {
	e.lifecycle.Lock()
	if !e.started {
		defer e.lifecycle.Unlock()
		return e.snapshot()
	}
	e.lifecycle.Unlock()

	reply := make(chan []domain.Participant, 1)
	if e.dispatch(snapshotCmd{reply: reply}) {
		select {
		case s := <-reply:
			return s
		case <-e.done:
		}
	}
	// the loop has exited; state is no longer written
	return e.snapshot()
}

func (e *Engine) dispatch(cmd command) bool {
	select {
	case e.commands <- cmd:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	e.logger.Info("game started", "participants", len(e.participants), "pool", e.pool.Len())
	e.publish(Event{Kind: EventGameStarted, Scores: e.scores()})
	e.advance = true

	for {
		for e.advance && !e.finished {
			e.advance = false
			e.nextRound()
		}
		if e.finished {
			return
		}

		select {
		case <-ctx.Done():
			e.finish(nil, false, true)
			return
		case cmd := <-e.commands:
			e.handle(cmd)
		}
	}
}

func (e *Engine) handle(cmd command) {
	switch c := cmd.(type) {
	case answerCmd:
		correct, err := e.answer(c)
		c.reply <- answerReply{correct: correct, err: err}
	case botAnswerCmd:
		if p := e.pendingHolder(c.round, c.participantID); p != nil {
			e.apply(p, p.Card.Find(e.current.question.ID), -1, c.correct, false)
		}
	case timeoutCmd:
		if p := e.pendingHolder(c.round, c.participantID); p != nil {
			e.logger.Debug("answer timed out", "participant", p.ID, "round", c.round)
			e.apply(p, p.Card.Find(e.current.question.ID), -1, false, true)
		}
	case disconnectCmd:
		e.disconnect(c.participantID)
	case nextRoundCmd:
		e.advance = true
	case snapshotCmd:
		c.reply <- e.snapshot()
	}
}

func (e *Engine) answer(c answerCmd) (bool, error) {
	if e.finished {
		return false, domain.ErrGameFinished
	}
	p := e.byID[c.participantID]
	if p == nil {
		return false, domain.ErrParticipantNotFound
	}
	cq := p.Card.Find(c.questionID)
	if cq == nil {
		return false, domain.ErrNotHolder
	}
	// resolved, already answered or not currently asked of this holder
	if cq.Answered || !e.pool.Contains(c.questionID) || e.current == nil ||
		e.current.question.ID != c.questionID || e.current.pending[p.ID] == nil {
		return false, domain.ErrQuestionNotFound
	}
	correct := cq.IsCorrect(c.optionIndex)
	e.apply(p, cq, c.optionIndex, correct, false)
	return correct, nil
}

// pendingHolder returns the participant if it still owes an answer in round.
func (e *Engine) pendingHolder(round int, participantID string) *domain.Participant {
	if e.current == nil || e.current.number != round {
		return nil
	}
	if e.current.pending[participantID] == nil {
		return nil
	}
	return e.byID[participantID]
}

func (e *Engine) nextRound() {
	for {
		q, ok := e.pool.Next()
		if !ok {
			e.finish(nil, true, false)
			return
		}
		holders := e.holders(q.ID)
		if len(holders) == 0 {
			e.pool.Remove(q.ID)
			e.logger.Debug("skipping question without holders", "question", q.ID)
			continue
		}

		e.round++
		e.state.Store(int32(StateRoundActive))
		e.current = &activeRound{number: e.round, question: q, pending: make(map[string]*time.Timer, len(holders))}
		e.metrics.RoundStarted()

		ids := make([]string, 0, len(holders))
		for _, p := range holders {
			ids = append(ids, p.ID)
		}
		qc := q
		e.publish(Event{Kind: EventRoundStarted, Round: e.round, Question: &qc, Holders: ids})
		e.logger.Debug("round started", "round", e.round, "question", q.ID, "holders", len(holders))

		for _, p := range holders {
			e.ask(p, q)
		}
		if len(e.current.pending) == 0 {
			e.resolve()
		}
		return
	}
}

// holders are connected participants whose card holds the question unanswered.
func (e *Engine) holders(questionID string) []*domain.Participant {
	var out []*domain.Participant
	for _, p := range e.participants {
		if p.Disconnected {
			continue
		}
		if cq := p.Card.Find(questionID); cq != nil && !cq.Answered {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) ask(p *domain.Participant, q domain.Question) {
	round := e.round
	pid := p.ID

	switch p.Kind {
	case domain.KindSimulated:
		correct := e.rng.Float64() < e.cfg.Difficulty.Accuracy()
		e.current.pending[pid] = time.AfterFunc(e.botDelay(), func() {
			e.dispatch(botAnswerCmd{round: round, participantID: pid, correct: correct})
		})
		return
	case domain.KindHumanRemote:
		if e.sender == nil || !e.sender.SendQuestion(pid, q) {
			e.logger.Warn("question delivery failed", "participant", pid, "question", q.ID)
			e.markDisconnected(p)
			return
		}
	default:
		qc := q
		e.publish(Event{
			Kind:          EventQuestionAsked,
			Round:         round,
			ParticipantID: pid,
			Name:          p.DisplayName,
			Question:      &qc,
			Deadline:      time.Now().Add(e.cfg.AnswerTimeout),
		})
	}
	e.current.pending[pid] = time.AfterFunc(e.cfg.AnswerTimeout, func() {
		e.dispatch(timeoutCmd{round: round, participantID: pid})
	})
}

func (e *Engine) botDelay() time.Duration {
	lo, hi := e.cfg.BotDelayMin, e.cfg.BotDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.rng.Int63n(int64(hi-lo)+1))
}

func (e *Engine) apply(p *domain.Participant, cq *domain.CardQuestion, optionIndex int, correct, timedOut bool) {
	if t := e.current.pending[p.ID]; t != nil {
		t.Stop()
		delete(e.current.pending, p.ID)
	}
	cq.Answered = true
	cq.Correct = correct

	result := "incorrect"
	switch {
	case correct:
		p.Score += domain.CorrectPoints
		e.pool.Remove(cq.ID)
		result = "correct"
	case timedOut:
		result = "timeout"
	}
	e.metrics.AnswerResolved(result)
	qc := cq.Question
	e.publish(Event{
		Kind:          EventAnswerResolved,
		Round:         e.current.number,
		ParticipantID: p.ID,
		Name:          p.DisplayName,
		Question:      &qc,
		OptionIndex:   optionIndex,
		Correct:       correct,
		TimedOut:      timedOut,
		Score:         p.Score,
	})

	// the first correct answer resolves the question for every holder
	if correct || len(e.current.pending) == 0 {
		e.resolve()
	}
}

func (e *Engine) resolve() {
	e.state.Store(int32(StateRoundResolving))
	round := e.current.number
	e.stopTimers()
	e.current = nil
	e.publish(Event{Kind: EventRoundEnded, Round: round, Scores: e.scores()})

	for _, p := range e.participants {
		if p.Disconnected || !IsBingo(*p.Card) {
			continue
		}
		p.Score += domain.BingoBonus
		e.finish(p, false, false)
		return
	}
	if e.pool.Len() == 0 {
		e.finish(nil, true, false)
		return
	}
	if e.cfg.RoundDelay <= 0 {
		e.advance = true
		return
	}
	time.AfterFunc(e.cfg.RoundDelay, func() { e.dispatch(nextRoundCmd{}) })
}

func (e *Engine) disconnect(participantID string) {
	p := e.byID[participantID]
	if p == nil || p.Disconnected {
		return
	}
	e.markDisconnected(p)
	if e.current == nil {
		return
	}
	if t := e.current.pending[participantID]; t != nil {
		t.Stop()
		delete(e.current.pending, participantID)
		if len(e.current.pending) == 0 {
			e.resolve()
		}
	}
}

func (e *Engine) markDisconnected(p *domain.Participant) {
	p.Disconnected = true
	e.logger.Info("participant left the game", "participant", p.ID)
	e.publish(Event{Kind: EventParticipantLeft, ParticipantID: p.ID, Name: p.DisplayName})
}

func (e *Engine) finish(winner *domain.Participant, exhausted, aborted bool) {
	if e.finished {
		return
	}
	e.finished = true
	if e.current != nil {
		e.stopTimers()
		e.current = nil
	}
	e.state.Store(int32(StateFinished))

	res := &Result{
		Exhausted:  exhausted,
		Aborted:    aborted,
		Rounds:     e.round,
		Summary:    ComputeSummary(e.participants),
		StartedAt:  e.startedAt,
		FinishedAt: time.Now(),
	}
	outcome := "exhausted"
	switch {
	case winner != nil:
		res.WinnerID, res.WinnerName = winner.ID, winner.DisplayName
		outcome = "bingo"
	case aborted:
		outcome = "aborted"
	}
	e.resultMu.Lock()
	e.result = res
	e.resultMu.Unlock()

	e.metrics.GameFinished(outcome)
	e.logger.Info("game finished", "outcome", outcome, "winner", res.WinnerName, "rounds", res.Rounds)

	if winner != nil {
		e.publish(Event{Kind: EventBingo, ParticipantID: winner.ID, Name: winner.DisplayName, Winner: winner.DisplayName, Score: winner.Score})
	}
	r := *res
	e.publish(Event{Kind: EventGameFinished, Winner: res.WinnerName, Scores: e.scores(), Result: &r})
}

func (e *Engine) stopTimers() {
	for id, t := range e.current.pending {
		t.Stop()
		delete(e.current.pending, id)
	}
}

func (e *Engine) connected() int {
	n := 0
	for _, p := range e.participants {
		if !p.Disconnected {
			n++
		}
	}
	return n
}

func (e *Engine) scores() []domain.ScoreEntry {
	out := make([]domain.ScoreEntry, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, domain.ScoreEntry{Name: p.DisplayName, Score: p.Score})
	}
	return out
}

func (e *Engine) snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		cp := *p
		if p.Card != nil {
			card := *p.Card
			card.Questions = append([]domain.CardQuestion(nil), p.Card.Questions...)
			cp.Card = &card
		}
		out = append(out, cp)
	}
	return out
}

func (e *Engine) publish(ev Event) {
	e.events.publish(ev)
}
