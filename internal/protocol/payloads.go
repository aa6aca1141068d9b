package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"trivia-bingo/internal/domain"
)

type LoginPayload struct {
	PlayerName string `json:"player_name" validate:"required"`
}

type LogoutPayload struct {
	PlayerName string `json:"player_name"`
}

// GameStartPayload carries the receiver's card and the global turn order.
type GameStartPayload struct {
	Carton            CardView       `json:"carton"`
	PreguntasGlobales []QuestionView `json:"preguntas_globales" validate:"dive"`
}

type GameEndPayload struct {
	Winner  string           `json:"winner"`
	Summary []domain.Summary `json:"summary"`
}

// QuestionPayload is the data of a question message.
type QuestionPayload = QuestionView

// AnswerPayload is sent by peers and echoed by the host with the authoritative
// Correct. PlayerID is set on echoes and matches the owner_id of the player's card.
type AnswerPayload struct {
	PlayerName string      `json:"player_name" validate:"required"`
	PlayerID   string      `json:"player_id,omitempty"`
	Answer     AnswerValue `json:"answer"`
	Correct    bool        `json:"correct"`
	QuestionID string      `json:"question_id,omitempty"`
}

type BingoPayload struct {
	Winner string `json:"winner" validate:"required"`
}

type PlayerUpdatePayload struct {
	Players []domain.ScoreEntry `json:"players" validate:"required"`
}

type ErrorPayload struct {
	Message string `json:"message" validate:"required"`
}

type PingPayload struct{}

// QuestionView is a question as seen on the wire. CorrectOptionIndex is nil
// when the host hides the answer.
type QuestionView struct {
	ID                 string   `json:"id" validate:"required"`
	Text               string   `json:"text" validate:"required"`
	Options            []string `json:"options" validate:"min=2"`
	CorrectOptionIndex *int     `json:"correct_option_index,omitempty"`
	Category           string   `json:"category"`
}

// CardQuestionView is one entry of a card on the wire.
type CardQuestionView struct {
	QuestionView
	Answered bool `json:"answered"`
	Correct  bool `json:"correct"`
}

type CardView struct {
	ID          string               `json:"id" validate:"required"`
	OwnerID     string               `json:"owner_id"`
	Questions   []CardQuestionView   `json:"questions" validate:"required,dive"`
	CategorySet []string             `json:"category_set"`
	Structure   domain.CardStructure `json:"structure"`
}

// NewQuestionView converts a question, keeping the correct index only when reveal is set.
func NewQuestionView(q domain.Question, reveal bool) QuestionView {
	v := QuestionView{
		ID:       q.ID,
		Text:     q.Text,
		Options:  append([]string(nil), q.Options...),
		Category: q.Category,
	}
	if reveal {
		idx := q.CorrectOptionIndex
		v.CorrectOptionIndex = &idx
	}
	return v
}

// Question converts back to the domain type. A hidden index becomes -1.
func (v QuestionView) Question() domain.Question {
	idx := -1
	if v.CorrectOptionIndex != nil {
		idx = *v.CorrectOptionIndex
	}
	return domain.Question{
		ID:                 v.ID,
		Text:               v.Text,
		Options:            append([]string(nil), v.Options...),
		CorrectOptionIndex: idx,
		Category:           v.Category,
	}
}

func NewCardView(c *domain.Card, reveal bool) CardView {
	v := CardView{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Questions:   make([]CardQuestionView, 0, len(c.Questions)),
		CategorySet: append([]string(nil), c.CategorySet...),
		Structure:   c.Structure,
	}
	for _, cq := range c.Questions {
		v.Questions = append(v.Questions, CardQuestionView{
			QuestionView: NewQuestionView(cq.Question, reveal),
			Answered:     cq.Answered,
			Correct:      cq.Correct,
		})
	}
	return v
}

func (v CardView) Card() *domain.Card {
	c := &domain.Card{
		ID:          v.ID,
		OwnerID:     v.OwnerID,
		Questions:   make([]domain.CardQuestion, 0, len(v.Questions)),
		CategorySet: append([]string(nil), v.CategorySet...),
		Structure:   v.Structure,
	}
	for _, cq := range v.Questions {
		c.Questions = append(c.Questions, domain.CardQuestion{
			Question: cq.Question(),
			Answered: cq.Answered,
			Correct:  cq.Correct,
		})
	}
	return c
}

// AnswerValue is either an option index or the option text.
type AnswerValue struct {
	Index *int
	Text  string
}

func IndexAnswer(i int) AnswerValue { return AnswerValue{Index: &i} }

func TextAnswer(s string) AnswerValue { return AnswerValue{Text: s} }

func (a AnswerValue) MarshalJSON() ([]byte, error) {
	if a.Index != nil {
		return json.Marshal(*a.Index)
	}
	return json.Marshal(a.Text)
}

func (a *AnswerValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		a.Index = nil
		return json.Unmarshal(b, &a.Text)
	}
	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return fmt.Errorf("answer must be a string or an integer: %w", err)
	}
	a.Index, a.Text = &i, ""
	return nil
}

// Resolve maps the answer to an option index. Text is matched against the
// options first and then parsed as a number.
func (a AnswerValue) Resolve(options []string) (int, bool) {
	if a.Index != nil {
		return *a.Index, true
	}
	text := strings.TrimSpace(a.Text)
	for i, opt := range options {
		if opt == text {
			return i, true
		}
	}
	if i, err := strconv.Atoi(text); err == nil {
		return i, true
	}
	return -1, false
}
