package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-bingo/internal/domain"
)

// BankLoader loads the question bank from the questions table.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

// LoadBank groups rows back into one record per category file.
func (l *BankLoader) LoadBank(ctx context.Context) ([]domain.BankRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT category, source, text, options, correct_answer
		FROM questions
		ORDER BY category, source, position`)
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}
	defer rows.Close()

	var records []domain.BankRecord
	for rows.Next() {
		var (
			category, source string
			q                domain.BankQuestion
		)
		if err := rows.Scan(&category, &source, &q.Text, &q.Options, &q.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		n := len(records)
		if n == 0 || records[n-1].Category != category || records[n-1].Source != source {
			records = append(records, domain.BankRecord{Category: category, Source: source})
			n++
		}
		records[n-1].Questions = append(records[n-1].Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}
	return records, nil
}
