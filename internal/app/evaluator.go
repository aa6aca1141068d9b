package app

import "trivia-bingo/internal/domain"

// IsBingo reports whether every question on the card was answered correctly.
func IsBingo(card domain.Card) bool {
	if len(card.Questions) == 0 {
		return false
	}
	for _, q := range card.Questions {
		if !q.Answered || !q.Correct {
			return false
		}
	}
	return true
}

// ComputeSummary aggregates end-of-game statistics in input order.
func ComputeSummary(participants []*domain.Participant) []domain.Summary {
	out := make([]domain.Summary, 0, len(participants))
	for _, p := range participants {
		s := domain.Summary{
			ParticipantID: p.ID,
			Name:          p.DisplayName,
			Kind:          p.Kind,
			FinalScore:    p.Score,
		}
		if p.Card != nil {
			for _, q := range p.Card.Questions {
				switch {
				case q.Answered && q.Correct:
					s.CorrectCount++
				case q.Answered:
					s.IncorrectCount++
				}
			}
		}
		out = append(out, s)
	}
	return out
}
