package app

import (
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"trivia-bingo/internal/domain"
)

// Deal is the output of one game build: one card per participant, in order,
// and the shuffled global pool.
type Deal struct {
	Cards []*domain.Card
	Pool  *Pool
}

// BuildGame samples a card of CardSize distinct questions per participant and
// derives the global pool from them. When categories is non-empty only those
// categories are drawn from. A bank with fewer than CardSize distinct questions
// is padded with suffixed copies.
func BuildGame(bank []domain.Question, categories []string, participants int, rng *rand.Rand) (Deal, error) {
	templates := distinct(filterCategories(bank, categories))
	if len(templates) == 0 {
		return Deal{}, domain.ErrEmptyQuestionBank
	}
	if participants < 1 {
		return Deal{}, fmt.Errorf("build game: %w", domain.ErrInsufficientParticipants)
	}

	// options are shuffled once per template so shared questions stay identical across cards
	shuffled := make(map[string]domain.Question, len(templates))
	shuffle := func(q domain.Question) domain.Question {
		if s, ok := shuffled[q.ID]; ok {
			return s
		}
		s := shuffleOptions(q, rng)
		shuffled[q.ID] = s
		return s
	}

	deal := Deal{Cards: make([]*domain.Card, 0, participants)}
	var flat []domain.Question
	for i := 0; i < participants; i++ {
		card := &domain.Card{
			ID:        uuid.NewString(),
			Structure: domain.CardStructure{Rows: 2, Cols: 4},
			Questions: make([]domain.CardQuestion, 0, domain.CardSize),
		}
		perm := rng.Perm(len(templates))
		for n := 0; len(card.Questions) < domain.CardSize; n++ {
			q := shuffle(templates[perm[n%len(perm)]])
			if cycle := n / len(perm); cycle > 0 {
				q.ID = fmt.Sprintf("%s~%d", q.ID, cycle)
			}
			card.Questions = append(card.Questions, domain.CardQuestion{Question: q})
			flat = append(flat, q)
		}
		card.CategorySet = categorySet(card.Questions)
		deal.Cards = append(deal.Cards, card)
	}

	rng.Shuffle(len(flat), func(i, j int) { flat[i], flat[j] = flat[j], flat[i] })
	deal.Pool = NewPool(flat)
	return deal, nil
}

// SourceNames returns the id stem of each record's source file: its name
// without extension, or name_ext when another file of the same category has
// the same name.
func SourceNames(records []domain.BankRecord) []string {
	names, _ := sourceNames(records)
	return names
}

func sourceNames(records []domain.BankRecord) ([]string, []bool) {
	type key struct{ category, stem string }
	stems := make([]string, len(records))
	count := make(map[key]int, len(records))
	for i, rec := range records {
		base := filepath.Base(rec.Source)
		stems[i] = strings.TrimSuffix(base, filepath.Ext(base))
		count[key{rec.Category, stems[i]}]++
	}
	names := make([]string, len(records))
	clashed := make([]bool, len(records))
	for i, rec := range records {
		names[i] = stems[i]
		if ext := strings.TrimPrefix(filepath.Ext(rec.Source), "."); ext != "" && count[key{rec.Category, stems[i]}] > 1 {
			names[i] = stems[i] + "_" + ext
			clashed[i] = true
		}
	}
	return names, clashed
}

// FlattenBank turns loader records into questions with stable ids of the form
// <category>_<source>_<index>, where source comes from SourceNames. Questions
// whose correct answer is not one of the options are skipped.
func FlattenBank(records []domain.BankRecord, logger *slog.Logger) []domain.Question {
	var out []domain.Question
	sources, clashed := sourceNames(records)
	for r, rec := range records {
		source := sources[r]
		if clashed[r] && logger != nil {
			logger.Warn("question files share a name, ids keep the extension", "category", rec.Category, "source", rec.Source)
		}
		for i, bq := range rec.Questions {
			idx := slices.Index(bq.Options, bq.CorrectAnswer)
			id := fmt.Sprintf("%s_%s_%d", rec.Category, source, i)
			if idx < 0 {
				if logger != nil {
					logger.Warn("skipping question without matching answer", "question", id)
				}
				continue
			}
			out = append(out, domain.Question{
				ID:                 id,
				Text:               bq.Text,
				Options:            append([]string(nil), bq.Options...),
				CorrectOptionIndex: idx,
				Category:           rec.Category,
			})
		}
	}
	return out
}

func shuffleOptions(q domain.Question, rng *rand.Rand) domain.Question {
	perm := rng.Perm(len(q.Options))
	out := q
	out.Options = make([]string, len(q.Options))
	for to, from := range perm {
		out.Options[to] = q.Options[from]
		if from == q.CorrectOptionIndex {
			out.CorrectOptionIndex = to
		}
	}
	return out
}

func filterCategories(bank []domain.Question, categories []string) []domain.Question {
	if len(categories) == 0 {
		return bank
	}
	want := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		want[strings.ToLower(c)] = struct{}{}
	}
	var out []domain.Question
	for _, q := range bank {
		if _, ok := want[strings.ToLower(q.Category)]; ok {
			out = append(out, q)
		}
	}
	return out
}

func distinct(bank []domain.Question) []domain.Question {
	seen := make(map[string]struct{}, len(bank))
	out := make([]domain.Question, 0, len(bank))
	for _, q := range bank {
		if _, ok := seen[q.ID]; ok {
			continue
		}
		seen[q.ID] = struct{}{}
		out = append(out, q)
	}
	return out
}

func categorySet(questions []domain.CardQuestion) []string {
	set := make(map[string]struct{})
	for _, q := range questions {
		set[q.Category] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
