package app

import (
	"sync"
	"time"

	"trivia-bingo/internal/domain"
)

// EventKind tags a game event.
type EventKind string

const (
	EventGameStarted     EventKind = "game_started"
	EventRoundStarted    EventKind = "round_started"
	EventQuestionAsked   EventKind = "question_asked"
	EventAnswerResolved  EventKind = "answer_resolved"
	EventRoundEnded      EventKind = "round_ended"
	EventParticipantLeft EventKind = "participant_left"
	EventBingo           EventKind = "bingo"
	EventGameFinished    EventKind = "game_finished"

	// client-side only
	EventPlayers  EventKind = "players"
	EventError    EventKind = "error"
	EventHostLost EventKind = "host_lost"
)

// Event is published by the engine and the sessions. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind          EventKind
	Round         int
	ParticipantID string
	Name          string
	Question      *domain.Question
	Holders       []string
	Deadline      time.Time
	OptionIndex   int
	Correct       bool
	TimedOut      bool
	Score         int
	Scores        []domain.ScoreEntry
	Winner        string
	Result        *Result
	Message       string
}

// Result is the outcome of a finished game.
type Result struct {
	WinnerID   string
	WinnerName string
	Exhausted  bool
	Aborted    bool
	Rounds     int
	Summary    []domain.Summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// feed fans values out to subscriber channels. A full subscriber loses its
// oldest value rather than blocking the publisher; followers are never
// dropped from and block the publisher instead.
type feed[T any] struct {
	mu        sync.Mutex
	subs      map[chan T]struct{}
	followers map[*follower[T]]struct{}
}

type follower[T any] struct {
	ch   chan T
	done chan struct{}
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{
		subs:      make(map[chan T]struct{}),
		followers: make(map[*follower[T]]struct{}),
	}
}

// follow registers a lossless subscriber. Its channel is never closed; cancel
// releases a publisher blocked on it. Ordering holds for a single publisher.
func (f *feed[T]) follow(buffer int) (<-chan T, func()) {
	fl := &follower[T]{ch: make(chan T, buffer), done: make(chan struct{})}

	f.mu.Lock()
	f.followers[fl] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.followers, fl)
			f.mu.Unlock()
			close(fl.done)
		})
	}
	return fl.ch, cancel
}

func (f *feed[T]) subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	for ch := range f.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
	followers := make([]*follower[T], 0, len(f.followers))
	for fl := range f.followers {
		followers = append(followers, fl)
	}
	f.mu.Unlock()

	for _, fl := range followers {
		select {
		case fl.ch <- v:
		case <-fl.done:
		}
	}
}
