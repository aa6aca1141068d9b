package app

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"trivia-bingo/internal/domain"
)

// Room is the host-side participant registry. The host participant is kept
// apart from joined peers and does not count against capacity.
type Room struct {
	code        string
	max         int
	now         func() time.Time
	mu          sync.RWMutex
	host        *domain.Participant
	peers       map[string]*domain.Participant
	order       []string
	started     bool
	subscribers map[chan []domain.Participant]struct{}
}

// NewRoom creates a room with a fresh 6-digit code.
func NewRoom(hostName string, max int) *Room {
	return NewRoomWithClock(hostName, max, time.Now)
}

// NewRoomWithClock is used by tests for deterministic join times.
func NewRoomWithClock(hostName string, max int, now func() time.Time) *Room {
	if max <= 0 {
		max = domain.MaxParticipants
	}
	return &Room{
		code: newRoomCode(),
		max:  max,
		now:  now,
		host: &domain.Participant{
			ID:          uuid.NewString(),
			DisplayName: hostName,
			Kind:        domain.KindHumanLocal,
			JoinedAt:    now(),
		},
		peers:       make(map[string]*domain.Participant),
		subscribers: make(map[chan []domain.Participant]struct{}),
	}
}

func newRoomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func (r *Room) Code() string { return r.code }

func (r *Room) Capacity() int { return r.max }

// Host returns a copy of the host participant.
func (r *Room) Host() domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.host
}

// RegisterJoin adds a remote peer. It returns false when the room is full or
// the game already started. A name already in the room gets a numeric suffix.
func (r *Room) RegisterJoin(id, displayName, address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || len(r.peers) >= r.max {
		return false
	}
	if _, ok := r.peers[id]; ok {
		return false
	}
	r.peers[id] = &domain.Participant{
		ID:          id,
		DisplayName: r.uniqueNameLocked(displayName),
		Kind:        domain.KindHumanRemote,
		Address:     address,
		JoinedAt:    r.now(),
	}
	r.order = append(r.order, id)
	r.broadcastLocked()
	return true
}

// Remove drops a peer before the game starts, or marks it disconnected after.
func (r *Room) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return false
	}
	if r.started {
		p.Disconnected = true
	} else {
		delete(r.peers, id)
		for i, pid := range r.order {
			if pid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.broadcastLocked()
	return true
}

// SetScore mirrors an engine score into the registry.
func (r *Room) SetScore(id string, score int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.lookupLocked(id)
	if p == nil || p.Score == score {
		return
	}
	p.Score = score
	r.broadcastLocked()
}

func (r *Room) Get(id string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.lookupLocked(id)
	if p == nil {
		return domain.Participant{}, false
	}
	return *p, true
}

// List returns the host followed by peers in join order.
func (r *Room) List() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Count includes the host and disconnected peers that joined before start.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 1 + len(r.peers)
}

// MarkStarted freezes membership. It fails if the room was already started.
func (r *Room) MarkStarted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return domain.ErrGameStarted
	}
	r.started = true
	return nil
}

func (r *Room) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Subscribe returns a channel that receives the participant list on every change.
// The caller must invoke the returned cancel function to avoid leaks.
func (r *Room) Subscribe() (<-chan []domain.Participant, func()) {
	ch := make(chan []domain.Participant, 8)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	initial := r.snapshotLocked()
	r.mu.Unlock()

	ch <- initial

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Room) uniqueNameLocked(name string) string {
	taken := func(n string) bool {
		if r.host.DisplayName == n {
			return true
		}
		for _, p := range r.peers {
			if p.DisplayName == n {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

func (r *Room) lookupLocked(id string) *domain.Participant {
	if id == r.host.ID {
		return r.host
	}
	return r.peers[id]
}

func (r *Room) broadcastLocked() {
	list := r.snapshotLocked()
	for ch := range r.subscribers {
		select {
		case ch <- list:
		default:
			// slow subscriber: replace the oldest snapshot
			select {
			case <-ch:
			default:
			}
			ch <- list
		}
	}
}

func (r *Room) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order)+1)
	out = append(out, *r.host)
	for _, id := range r.order {
		out = append(out, *r.peers[id])
	}
	return out
}
