package app_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
)

func makeBank(category string, n int) []domain.Question {
	out := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Question{
			ID:                 fmt.Sprintf("%s_q_%d", category, i),
			Text:               fmt.Sprintf("%s question %d", category, i),
			Options:            []string{fmt.Sprintf("right %d", i), "wrong a", "wrong b", "wrong c"},
			CorrectOptionIndex: 0,
			Category:           category,
		})
	}
	return out
}

func TestBuildGameSingleCategoryExactCard(t *testing.T) {
	bank := makeBank("historia", 8)
	deal, err := app.BuildGame(bank, nil, 1, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(deal.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(deal.Cards))
	}
	card := deal.Cards[0]
	if len(card.Questions) != domain.CardSize {
		t.Fatalf("expected %d questions, got %d", domain.CardSize, len(card.Questions))
	}
	seen := map[string]bool{}
	for _, q := range card.Questions {
		seen[q.ID] = true
	}
	for _, q := range bank {
		if !seen[q.ID] {
			t.Fatalf("card is missing %s", q.ID)
		}
	}
	if deal.Pool.Len() != 8 {
		t.Fatalf("expected pool of 8, got %d", deal.Pool.Len())
	}
	if len(card.CategorySet) != 1 || card.CategorySet[0] != "historia" {
		t.Fatalf("unexpected category set %v", card.CategorySet)
	}
	if card.Structure != (domain.CardStructure{Rows: 2, Cols: 4}) {
		t.Fatalf("unexpected structure %+v", card.Structure)
	}
}

func TestBuildGameCardAndPoolInvariants(t *testing.T) {
	bank := append(makeBank("ciencia", 12), makeBank("arte", 9)...)
	rng := rand.New(rand.NewSource(42))

	for build := 0; build < 50; build++ {
		deal, err := app.BuildGame(bank, nil, 5, rng)
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		union := map[string]bool{}
		for _, card := range deal.Cards {
			if len(card.Questions) != domain.CardSize {
				t.Fatalf("card has %d questions", len(card.Questions))
			}
			ids := map[string]bool{}
			for _, q := range card.Questions {
				if ids[q.ID] {
					t.Fatalf("duplicate %s on one card", q.ID)
				}
				ids[q.ID] = true
				union[q.ID] = true
			}
		}
		poolIDs := map[string]bool{}
		for _, q := range deal.Pool.Questions() {
			if poolIDs[q.ID] {
				t.Fatalf("duplicate %s in pool", q.ID)
			}
			poolIDs[q.ID] = true
		}
		if len(poolIDs) != len(union) {
			t.Fatalf("pool has %d entries, cards hold %d distinct", len(poolIDs), len(union))
		}
	}
}

func TestBuildGameShufflesOptionsConsistently(t *testing.T) {
	bank := makeBank("geo", 10)
	deal, err := app.BuildGame(bank, nil, 3, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	byID := map[string]domain.Question{}
	for _, card := range deal.Cards {
		for _, cq := range card.Questions {
			if got := cq.Options[cq.CorrectOptionIndex]; got[:5] != "right" {
				t.Fatalf("%s: correct index points at %q", cq.ID, got)
			}
			if prev, ok := byID[cq.ID]; ok {
				for i := range prev.Options {
					if prev.Options[i] != cq.Options[i] {
						t.Fatalf("%s: options differ across cards", cq.ID)
					}
				}
			}
			byID[cq.ID] = cq.Question
		}
	}
	for _, q := range bank {
		if q.Options[0][:5] != "right" {
			t.Fatalf("bank template was mutated: %v", q.Options)
		}
	}
}

func TestBuildGamePadsSmallBank(t *testing.T) {
	deal, err := app.BuildGame(makeBank("mini", 3), nil, 2, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	for _, card := range deal.Cards {
		if len(card.Questions) != domain.CardSize {
			t.Fatalf("expected padded card of %d, got %d", domain.CardSize, len(card.Questions))
		}
		ids := map[string]bool{}
		for _, q := range card.Questions {
			if ids[q.ID] {
				t.Fatalf("duplicate id %s after padding", q.ID)
			}
			ids[q.ID] = true
		}
	}
	if deal.Pool.Len() != domain.CardSize {
		t.Fatalf("expected %d pool entries, got %d", domain.CardSize, deal.Pool.Len())
	}
}

func TestBuildGameEmptyBank(t *testing.T) {
	_, err := app.BuildGame(nil, nil, 2, rand.New(rand.NewSource(1)))
	if !errors.Is(err, domain.ErrEmptyQuestionBank) {
		t.Fatalf("expected empty bank error, got %v", err)
	}

	_, err = app.BuildGame(makeBank("arte", 10), []string{"deporte"}, 2, rand.New(rand.NewSource(1)))
	if !errors.Is(err, domain.ErrEmptyQuestionBank) {
		t.Fatalf("expected empty bank error for unknown category, got %v", err)
	}
}

func TestBuildGameCategoryFilter(t *testing.T) {
	bank := append(makeBank("arte", 10), makeBank("ciencia", 10)...)
	deal, err := app.BuildGame(bank, []string{"Ciencia"}, 2, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	for _, card := range deal.Cards {
		for _, q := range card.Questions {
			if q.Category != "ciencia" {
				t.Fatalf("unexpected category %s", q.Category)
			}
		}
	}
}

func TestFlattenBank(t *testing.T) {
	records := []domain.BankRecord{{
		Category: "historia",
		Source:   "cartones/historia/carton1.json",
		Questions: []domain.BankQuestion{
			{Text: "a", Options: []string{"x", "y"}, CorrectAnswer: "y"},
			{Text: "b", Options: []string{"x", "y"}, CorrectAnswer: "z"},
			{Text: "c", Options: []string{"x", "y"}, CorrectAnswer: "x"},
		},
	}}
	got := app.FlattenBank(records, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got))
	}
	if got[0].ID != "historia_carton1_0" || got[0].CorrectOptionIndex != 1 {
		t.Fatalf("unexpected first question %+v", got[0])
	}
	if got[1].ID != "historia_carton1_2" || got[1].CorrectOptionIndex != 0 {
		t.Fatalf("unexpected second question %+v", got[1])
	}
}

func TestFlattenBankKeepsSameNamedFilesApart(t *testing.T) {
	one := []domain.BankQuestion{{Text: "a", Options: []string{"x", "y"}, CorrectAnswer: "x"}}
	records := []domain.BankRecord{
		{Category: "arte", Source: "a.json", Questions: one},
		{Category: "arte", Source: "a.yaml", Questions: one},
		{Category: "ciencia", Source: "a.json", Questions: one},
	}
	got := app.FlattenBank(records, nil)
	ids := make(map[string]bool)
	for _, q := range got {
		if ids[q.ID] {
			t.Fatalf("duplicate id %s in %+v", q.ID, got)
		}
		ids[q.ID] = true
	}
	for _, want := range []string{"arte_a_json_0", "arte_a_yaml_0", "ciencia_a_0"} {
		if !ids[want] {
			t.Fatalf("missing %s in %v", want, ids)
		}
	}
	if names := app.SourceNames(records); names[2] != "a" {
		t.Fatalf("a name unique in its category keeps the plain stem, got %v", names)
	}
}
