package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"trivia-bingo/internal/app"
	"trivia-bingo/internal/domain"
)

// console renders game events on a terminal and feeds typed lines back.
type console struct {
	out   io.Writer
	lines <-chan string
}

func newConsole(in io.Reader, out io.Writer) *console {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return &console{out: out, lines: lines}
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// answerFunc submits the option chosen for q.
type answerFunc func(q domain.Question, optionIndex int) error

// play drives one game on the terminal until it ends. Only questions asked
// to self are shown for answering; an empty self accepts every question.
func (c *console) play(ctx context.Context, events <-chan app.Event, self string, answer answerFunc) error {
	var current *domain.Question
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-c.lines:
			if !ok {
				c.lines = nil
				continue
			}
			if line == "quit" {
				return nil
			}
			if current == nil {
				continue
			}
			idx, ok := parseOption(line, len(current.Options))
			if !ok {
				c.printf("type a number between 1 and %d\n", len(current.Options))
				continue
			}
			if err := answer(*current, idx); err != nil && !errors.Is(err, domain.ErrGameFinished) {
				c.printf("answer not accepted: %v\n", err)
			}
			current = nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case app.EventGameStarted:
				c.printf("\nthe game has started\n")
			case app.EventQuestionAsked:
				if self != "" && ev.ParticipantID != self {
					continue
				}
				q := *ev.Question
				current = &q
				c.showQuestion(q)
			case app.EventAnswerResolved:
				if current != nil && ev.Question != nil && ev.Question.ID == current.ID {
					current = nil
				}
				c.showAnswer(ev)
			case app.EventRoundEnded, app.EventPlayers:
				c.showScores(ev.Scores)
			case app.EventParticipantLeft:
				c.printf("%s left the game\n", ev.Name)
			case app.EventBingo:
				c.printf("\n*** BINGO! %s wins ***\n", ev.Winner)
			case app.EventError:
				c.printf("host: %s\n", ev.Message)
			case app.EventHostLost:
				return domain.ErrHostLost
			case app.EventGameFinished:
				if ev.Result != nil {
					c.showSummary(ev.Result.WinnerName, ev.Result.Summary)
				}
				return nil
			}
		}
	}
}

func (c *console) showQuestion(q domain.Question) {
	c.printf("\n[%s] %s\n", q.Category, q.Text)
	for i, opt := range q.Options {
		c.printf("  %d) %s\n", i+1, opt)
	}
	c.printf("> ")
}

func (c *console) showAnswer(ev app.Event) {
	mark := "wrong"
	switch {
	case ev.TimedOut:
		mark = "timed out"
	case ev.Correct:
		mark = "correct"
	}
	c.printf("%s: %s\n", ev.Name, mark)
}

func (c *console) showScores(scores []domain.ScoreEntry) {
	if len(scores) == 0 {
		return
	}
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, fmt.Sprintf("%s %d", s.Name, s.Score))
	}
	c.printf("scores: %s\n", strings.Join(parts, " | "))
}

func (c *console) showSummary(winner string, summary []domain.Summary) {
	c.printf("\ngame over")
	if winner != "" {
		c.printf(", winner: %s", winner)
	}
	c.printf("\n")
	for _, s := range summary {
		c.printf("  %-16s %4d pts  %d correct  %d wrong\n", s.Name, s.FinalScore, s.CorrectCount, s.IncorrectCount)
	}
}

// parseOption turns a 1-based choice into an option index.
func parseOption(line string, options int) (int, bool) {
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > options {
		return 0, false
	}
	return n - 1, true
}
