package memory

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
)

// BankLoader fetches raw question-bank records from a backing store.
type BankLoader interface {
	LoadBank(ctx context.Context) ([]domain.BankRecord, error)
}

// BankRepository caches the flattened question bank with a TTL so repeated
// games don't reread the store.
type BankRepository struct {
	loader BankLoader
	ttl    time.Duration
	logger *slog.Logger
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	questions []domain.Question
	expiresAt time.Time
}

func NewBankRepository(loader BankLoader, ttl time.Duration, logger *slog.Logger) *BankRepository {
	return &BankRepository{
		loader: loader,
		ttl:    ttl,
		logger: logger,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Questions implements app.QuestionBank.
func (r *BankRepository) Questions(ctx context.Context) ([]domain.Question, error) {
	if qs, ok := r.cached(); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do("bank", func() (interface{}, error) {
		if qs, ok := r.cached(); ok {
			return qs, nil
		}
		records, err := r.loader.LoadBank(ctx)
		if err != nil {
			return nil, err
		}
		qs := app.FlattenBank(records, r.logger)

		r.mu.Lock()
		r.questions = qs
		r.expiresAt = r.clock().Add(r.ttlWithJitter())
		r.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached bank.
func (r *BankRepository) Invalidate() {
	r.mu.Lock()
	r.questions = nil
	r.expiresAt = time.Time{}
	r.mu.Unlock()
}

func (r *BankRepository) cached() ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.questions != nil && r.expiresAt.After(r.clock()) {
		return r.questions, true
	}
	return nil, false
}

func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticBankLoader serves a fixed set of records (useful for tests/demos).
type StaticBankLoader struct {
	records []domain.BankRecord
}

func NewStaticBankLoader(records []domain.BankRecord) *StaticBankLoader {
	return &StaticBankLoader{records: records}
}

func (l *StaticBankLoader) LoadBank(context.Context) ([]domain.BankRecord, error) {
	if len(l.records) == 0 {
		return nil, domain.ErrEmptyQuestionBank
	}
	return l.records, nil
}
