package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-bingo/internal/domain"
)

// ResultStore persists finished games into games and game_players.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// RecordGame implements app.ResultRecorder.
func (s *ResultStore) RecordGame(ctx context.Context, rec domain.GameRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record game: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO games (id, room_code, winner, exhausted, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.GameID, rec.RoomCode, rec.Winner, rec.Exhausted, rec.StartedAt, rec.FinishedAt); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	batch := &pgx.Batch{}
	for i, p := range rec.Players {
		batch.Queue(`
			INSERT INTO game_players (game_id, position, participant_id, name, kind, correct_count, incorrect_count, final_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.GameID, i, p.ParticipantID, p.Name, string(p.Kind), p.CorrectCount, p.IncorrectCount, p.FinalScore)
	}
	br := tx.SendBatch(ctx, batch)
	for range rec.Players {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert game player: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert game players: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record game: %w", err)
	}
	return nil
}

// Winners returns how many games each name has won, most wins first.
func (s *ResultStore) Winners(ctx context.Context, limit int) ([]domain.ScoreEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT winner, count(*) FROM games
		WHERE winner <> ''
		GROUP BY winner
		ORDER BY count(*) DESC, winner
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query winners: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoreEntry
	for rows.Next() {
		var e domain.ScoreEntry
		if err := rows.Scan(&e.Name, &e.Score); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
