package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
)

const bankKey = "bank:records"

// BankLoader fetches raw question-bank records from a backing store.
type BankLoader interface {
	LoadBank(ctx context.Context) ([]domain.BankRecord, error)
}

// BankRepository caches bank records in Redis and falls back to a loader on
// cache miss. Records are stored as: HSET bank:records {category}/{source} {json}
type BankRepository struct {
	client *redis.Client
	loader BankLoader
	ttl    time.Duration
	logger *slog.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewBankRepository(client *redis.Client, loader BankLoader, ttl time.Duration, logger *slog.Logger) *BankRepository {
	return &BankRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Questions implements app.QuestionBank.
func (r *BankRepository) Questions(ctx context.Context) ([]domain.Question, error) {
	if records, ok := r.fromCache(ctx); ok {
		return app.FlattenBank(records, r.logger), nil
	}

	result, err, _ := r.sf.Do(bankKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if records, ok := r.fromCache(ctx); ok {
			return records, nil
		}

		records, err := r.loader.LoadBank(ctx)
		if err != nil {
			return nil, err
		}
		// cache hits come back in field order; keep misses consistent with them
		records = append([]domain.BankRecord(nil), records...)
		sort.SliceStable(records, func(i, j int) bool {
			return recordField(records[i]) < recordField(records[j])
		})

		pipe := r.client.Pipeline()
		pipe.Del(ctx, bankKey)
		for _, rec := range records {
			raw, err := json.Marshal(rec)
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, bankKey, recordField(rec), raw)
		}
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, bankKey, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil && r.logger != nil {
			r.logger.Warn("bank cache write failed", "err", err)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return app.FlattenBank(result.([]domain.BankRecord), r.logger), nil
}

// Invalidate drops the cached bank.
func (r *BankRepository) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, bankKey).Err()
}

func (r *BankRepository) fromCache(ctx context.Context) ([]domain.BankRecord, bool) {
	fields, err := r.client.HGetAll(ctx, bankKey).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]domain.BankRecord, 0, len(keys))
	for _, k := range keys {
		var rec domain.BankRecord
		if err := json.Unmarshal([]byte(fields[k]), &rec); err != nil {
			return nil, false
		}
		records = append(records, rec)
	}
	return records, true
}

func recordField(rec domain.BankRecord) string {
	return rec.Category + "/" + rec.Source
}

func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
