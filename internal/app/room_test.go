package app_test

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
)

func TestRoomCapacity(t *testing.T) {
	room := app.NewRoom("host", 10)

	for i := 0; i < 10; i++ {
		if !room.RegisterJoin(fmt.Sprintf("p%d", i), fmt.Sprintf("player %d", i), "10.0.0.1") {
			t.Fatalf("join %d rejected", i)
		}
	}
	if room.RegisterJoin("p10", "late", "10.0.0.2") {
		t.Fatalf("11th join must be rejected")
	}
	if room.Count() != 11 {
		t.Fatalf("expected host plus 10 peers, got %d", room.Count())
	}
}

func TestRoomCodeFormat(t *testing.T) {
	code := app.NewRoom("host", 0).Code()
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Fatalf("unexpected room code %q", code)
	}
}

func TestRoomListKeepsJoinOrder(t *testing.T) {
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	room := app.NewRoomWithClock("host", 10, func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	room.RegisterJoin("b", "Bea", "")
	room.RegisterJoin("a", "Alan", "")

	list := room.List()
	if len(list) != 3 || list[0].Kind != domain.KindHumanLocal || list[1].ID != "b" || list[2].ID != "a" {
		t.Fatalf("unexpected list %+v", list)
	}
	if !list[1].JoinedAt.Before(list[2].JoinedAt) {
		t.Fatalf("expected increasing join times")
	}
}

func TestRoomSuffixesDuplicateNames(t *testing.T) {
	room := app.NewRoom("Jugador", 10)
	room.RegisterJoin("a", "Jugador", "")
	room.RegisterJoin("b", "Jugador", "")
	room.RegisterJoin("c", "Bea", "")

	want := map[string]string{"a": "Jugador (2)", "b": "Jugador (3)", "c": "Bea"}
	for id, name := range want {
		p, ok := room.Get(id)
		if !ok || p.DisplayName != name {
			t.Fatalf("peer %s: expected %q, got %q", id, name, p.DisplayName)
		}
	}
}

func TestRoomRemoveAndStart(t *testing.T) {
	room := app.NewRoom("host", 10)
	room.RegisterJoin("a", "Alan", "")
	room.RegisterJoin("b", "Bea", "")

	if !room.Remove("a") || room.Count() != 2 {
		t.Fatalf("expected pre-game removal to drop the peer")
	}
	if err := room.MarkStarted(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := room.MarkStarted(); !errors.Is(err, domain.ErrGameStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
	if room.RegisterJoin("c", "Cid", "") {
		t.Fatalf("join after start must be rejected")
	}
	room.Remove("b")
	p, ok := room.Get("b")
	if !ok || !p.Disconnected {
		t.Fatalf("expected in-game removal to mark disconnected, got %+v", p)
	}
}

func TestRoomSubscribeReceivesUpdates(t *testing.T) {
	room := app.NewRoom("host", 10)
	ch, cancel := room.Subscribe()
	defer cancel()

	if initial := <-ch; len(initial) != 1 {
		t.Fatalf("expected only the host, got %+v", initial)
	}
	room.RegisterJoin("a", "Alan", "")
	if update := <-ch; len(update) != 2 || update[1].DisplayName != "Alan" {
		t.Fatalf("unexpected update %+v", update)
	}
	room.SetScore("a", 30)
	if update := <-ch; update[1].Score != 30 {
		t.Fatalf("expected score update, got %+v", update)
	}
}
