package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
)

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID            string   `bun:"id,pk"`
	Category      string   `bun:"category"`
	Source        string   `bun:"source"`
	Position      int      `bun:"position"`
	Text          string   `bun:"text"`
	Options       []string `bun:"options,array"`
	CorrectAnswer string   `bun:"correct_answer"`
}

// Importer writes bank records into the questions table.
type Importer struct {
	db *bun.DB
}

func NewImporter(db *bun.DB) *Importer {
	return &Importer{db: db}
}

// Import upserts every question of records and returns how many rows were written.
func (i *Importer) Import(ctx context.Context, records []domain.BankRecord) (int, error) {
	var rows []questionRow
	sources := app.SourceNames(records)
	for r, rec := range records {
		for pos, q := range rec.Questions {
			rows = append(rows, questionRow{
				ID:            fmt.Sprintf("%s_%s_%d", rec.Category, sources[r], pos),
				Category:      rec.Category,
				Source:        rec.Source,
				Position:      pos,
				Text:          q.Text,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
			})
		}
	}
	if len(rows) == 0 {
		return 0, domain.ErrEmptyQuestionBank
	}

	err := i.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (id) DO UPDATE").
			Set("text = EXCLUDED.text").
			Set("options = EXCLUDED.options").
			Set("correct_answer = EXCLUDED.correct_answer").
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("import questions: %w", err)
	}
	return len(rows), nil
}
