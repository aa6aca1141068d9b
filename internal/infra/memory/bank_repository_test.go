package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trivia-bingo/internal/domain"
)

func TestBankRepositoryCaches(t *testing.T) {
	loader := &countingLoader{BankLoader: NewStaticBankLoader(sampleRecords())}
	repo := NewBankRepository(loader, time.Minute, nil)

	qs, err := repo.Questions(context.Background())
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(qs) != 2 || qs[0].ID != "historia_carton1_0" || qs[1].CorrectOptionIndex != 1 {
		t.Fatalf("unexpected questions %+v", qs)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	if _, err := repo.Questions(context.Background()); err != nil {
		t.Fatalf("questions 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}

	repo.Invalidate()
	if _, err := repo.Questions(context.Background()); err != nil {
		t.Fatalf("questions 3: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.count())
	}
}

func TestBankRepositoryExpires(t *testing.T) {
	loader := &countingLoader{BankLoader: NewStaticBankLoader(sampleRecords())}
	repo := NewBankRepository(loader, time.Minute, nil)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	_, _ = repo.Questions(context.Background())
	now = now.Add(2 * time.Minute)
	_, _ = repo.Questions(context.Background())
	if loader.count() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.count())
	}
}

func TestBankRepositoryConcurrentMiss(t *testing.T) {
	loader := &countingLoader{BankLoader: NewStaticBankLoader(sampleRecords()), delay: 50 * time.Millisecond}
	repo := NewBankRepository(loader, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Questions(context.Background()); err != nil {
				t.Errorf("questions: %v", err)
			}
		}()
	}
	wg.Wait()
	if loader.count() != 1 {
		t.Fatalf("expected a single load, got %d", loader.count())
	}
}

func TestBankRepositoryEmpty(t *testing.T) {
	repo := NewBankRepository(NewStaticBankLoader(nil), time.Minute, nil)
	if _, err := repo.Questions(context.Background()); !errors.Is(err, domain.ErrEmptyQuestionBank) {
		t.Fatalf("expected empty bank error, got %v", err)
	}
}

type countingLoader struct {
	BankLoader
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadBank(ctx context.Context) ([]domain.BankRecord, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	time.Sleep(l.delay)
	return l.BankLoader.LoadBank(ctx)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleRecords() []domain.BankRecord {
	return []domain.BankRecord{{
		Category: "historia",
		Source:   "carton1.json",
		Questions: []domain.BankQuestion{
			{Text: "¿Año del descubrimiento de América?", Options: []string{"1492", "1500"}, CorrectAnswer: "1492"},
			{Text: "¿Primer presidente de EE.UU.?", Options: []string{"Lincoln", "Washington"}, CorrectAnswer: "Washington"},
		},
	}}
}
