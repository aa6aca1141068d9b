package memory

import (
	"context"
	"sync"
	"time"

	"trivia-bingo/internal/domain"
)

// RoomDirectory maps room codes to host addresses in process. It backs the
// rendezvous when no redis is configured and in tests.
type RoomDirectory struct {
	ttl   time.Duration
	clock func() time.Time

	mu    sync.RWMutex
	rooms map[string]roomEntry
}

type roomEntry struct {
	addr      string
	expiresAt time.Time
}

func NewRoomDirectory(ttl time.Duration) *RoomDirectory {
	return &RoomDirectory{
		ttl:   ttl,
		clock: time.Now,
		rooms: make(map[string]roomEntry),
	}
}

func (d *RoomDirectory) Publish(_ context.Context, code, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[code] = roomEntry{addr: addr, expiresAt: d.clock().Add(d.ttl)}
	return nil
}

func (d *RoomDirectory) Resolve(_ context.Context, code string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.rooms[code]
	if !ok || !entry.expiresAt.After(d.clock()) {
		return "", domain.ErrRoomNotFound
	}
	return entry.addr, nil
}

func (d *RoomDirectory) Touch(_ context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	entry.expiresAt = d.clock().Add(d.ttl)
	d.rooms[code] = entry
	return nil
}

func (d *RoomDirectory) Remove(_ context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, code)
	return nil
}
