package domain

import "time"

const (
	// CardSize is the number of questions on every card.
	CardSize = 8
	// CorrectPoints is awarded for every correct answer.
	CorrectPoints = 10
	// BingoBonus is awarded once to the winner.
	BingoBonus = 50
	// MaxParticipants caps the number of peers a host accepts.
	MaxParticipants = 10
)

// Question is an immutable trivia question drawn from the bank.
type Question struct {
	ID                 string   `json:"id" validate:"required"`
	Text               string   `json:"text" validate:"required"`
	Options            []string `json:"options" validate:"min=2,dive,required"`
	CorrectOptionIndex int      `json:"correct_option_index"`
	Category           string   `json:"category"`
}

// IsCorrect reports whether the option index is the right answer.
func (q Question) IsCorrect(optionIndex int) bool {
	return optionIndex == q.CorrectOptionIndex
}

// CardQuestion is a per-card copy of a question with its own answer state.
type CardQuestion struct {
	Question
	Answered bool `json:"answered"`
	Correct  bool `json:"correct"`
}

// CardStructure is the display grid for a card.
type CardStructure struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Card is a participant's set of questions for one game.
type Card struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Questions   []CardQuestion `json:"questions"`
	CategorySet []string       `json:"category_set"`
	Structure   CardStructure  `json:"structure"`
}

// Find returns the card copy of a question, or nil.
func (c *Card) Find(questionID string) *CardQuestion {
	for i := range c.Questions {
		if c.Questions[i].ID == questionID {
			return &c.Questions[i]
		}
	}
	return nil
}

// Kind distinguishes how a participant answers.
type Kind string

const (
	KindHumanLocal  Kind = "human_local"
	KindHumanRemote Kind = "human_remote"
	KindSimulated   Kind = "simulated"
)

// Participant is a player in a room or game.
type Participant struct {
	ID           string
	DisplayName  string
	Kind         Kind
	Address      string
	Score        int
	Card         *Card
	Disconnected bool
	JoinedAt     time.Time
}

// Difficulty tiers for simulated participants.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Accuracy is the probability that a simulated participant answers correctly.
func (d Difficulty) Accuracy() float64 {
	switch d {
	case DifficultyEasy:
		return 0.6
	case DifficultyHard:
		return 0.9
	default:
		return 0.75
	}
}

// ParseDifficulty accepts English and Spanish tier names.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch raw {
	case "easy", "facil":
		return DifficultyEasy, true
	case "medium", "moderado", "":
		return DifficultyMedium, true
	case "hard", "dificil":
		return DifficultyHard, true
	}
	return DifficultyMedium, false
}

// Summary is the end-of-game line for one participant.
type Summary struct {
	ParticipantID  string `json:"participant_id"`
	Name           string `json:"name"`
	Kind           Kind   `json:"kind"`
	CorrectCount   int    `json:"correct_count"`
	IncorrectCount int    `json:"incorrect_count"`
	FinalScore     int    `json:"final_score"`
}

// ScoreEntry is a name/score pair broadcast in player updates.
type ScoreEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// BankRecord is one category file from the question-bank collaborator.
type BankRecord struct {
	Category  string         `json:"category" validate:"required"`
	Source    string         `json:"source"`
	Questions []BankQuestion `json:"questions"`
}

// BankQuestion is a raw question before ids and shuffling are applied.
type BankQuestion struct {
	Text          string   `json:"text" validate:"required"`
	Options       []string `json:"options" validate:"min=2,dive,required"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
}

// GameRecord is persisted once a game finishes.
type GameRecord struct {
	GameID     string
	RoomCode   string
	Winner     string
	Exhausted  bool
	StartedAt  time.Time
	FinishedAt time.Time
	Players    []Summary
}
